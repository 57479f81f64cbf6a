// internal/handler/sync_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/unclebandit/contactsync-backend/internal/service"
)

type Trigger interface {
	Trigger() bool
}

type StatusSource interface {
	Running() bool
	LastRun() *service.RunSummary
}

// SyncHandler holds the dependencies for the sync control endpoints
type SyncHandler struct {
	Scheduler Trigger
	Status    StatusSource
}

// RunSyncHandler starts a sync run in the background
func (h *SyncHandler) RunSyncHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Scheduler.Trigger() {
		writeJSON(w, http.StatusOK, map[string]any{"started": false, "message": "sync already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

// SyncStatusHandler reports whether a run is in flight and the last run's summary
func (h *SyncHandler) SyncStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.Status.Running(),
		"last_run": h.Status.LastRun(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
