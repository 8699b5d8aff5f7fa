package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teamrichards/dispatchd/internal/config"
	"github.com/teamrichards/dispatchd/internal/dispatch"
	"github.com/teamrichards/dispatchd/internal/geo"
)

// SystemInfo describes the running process and its fixed simulation
// parameters.
type SystemInfo struct {
	Version      string    `json:"version"`
	GitCommit    string    `json:"git_commit"`
	BuildTime    string    `json:"build_time"`
	GoVersion    string    `json:"go_version"`
	StartedAt    time.Time `json:"started_at"`
	Center       geo.Point `json:"center"`
	H3Resolution int       `json:"h3_resolution"`
	MaxTaxis     int       `json:"max_taxis"`
}

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info SystemInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleSystemConfig returns a handler for GET /api/v1/system/config.
func HandleSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, runtimeCfg.Load())
	}
}

// patchConfigRequest uses pointer fields so an absent key keeps its current
// value.
type patchConfigRequest struct {
	MatchingMode *dispatch.Mode `json:"matching_mode"`
}

// HandlePatchSystemConfig returns a handler for PATCH /api/v1/system/config.
// It swaps a fresh RuntimeConfig copy into the shared pointer and echoes the
// result.
func HandlePatchSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req patchConfigRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}

		cur := runtimeCfg.Load()
		next := *cur
		if req.MatchingMode != nil {
			if !req.MatchingMode.Valid() {
				WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT",
					fmt.Sprintf("matching_mode: unknown mode %q", *req.MatchingMode))
				return
			}
			next.MatchingMode = *req.MatchingMode
		}
		runtimeCfg.Store(&next)
		WriteJSON(w, http.StatusOK, &next)
	}
}

// decodeBody decodes the JSON request body into v, rejecting unknown fields
// and trailing content.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid request body: must contain a single JSON value")
	}
	return nil
}
