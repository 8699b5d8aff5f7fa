package api

import (
	"net/http"
	"strconv"

	"github.com/teamrichards/dispatchd/internal/metrics"
)

type realtimeMetricsResponse struct {
	IntervalSeconds int                      `json:"interval_seconds"`
	Samples         []metrics.Sample         `json:"samples"`
	Counters        metrics.CountersSnapshot `json:"counters"`
}

// HandleRealtimeMetrics returns a handler for GET /api/v1/metrics/realtime.
// The optional limit query parameter bounds the number of samples, newest
// first; absent or zero returns the whole ring.
func HandleRealtimeMetrics(mgr *metrics.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit: must be a non-negative integer")
				return
			}
			limit = n
		}
		WriteJSON(w, http.StatusOK, realtimeMetricsResponse{
			IntervalSeconds: mgr.SampleIntervalSeconds(),
			Samples:         mgr.Ring().Recent(limit),
			Counters:        mgr.Counters().Snapshot(),
		})
	}
}
