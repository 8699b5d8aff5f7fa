package api

import (
	"net/http"

	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/hub"
	"github.com/teamrichards/dispatchd/internal/state"
)

// HandleState returns a handler for GET /api/v1/state. The payload is the
// same shape as the websocket state_update message.
func HandleState(store *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, hub.NewStateUpdate(store.Snapshot()))
	}
}

// HandleDemand returns a handler for GET /api/v1/demand. It recounts from
// the current snapshot so a poll sees fresh numbers even between broadcast
// ticks.
func HandleDemand(store *state.Store, agg *demand.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agg.Recount(store.Snapshot())
		WriteJSON(w, http.StatusOK, hub.NewDemandUpdate(agg))
	}
}
