// internal/handler/router.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/contactsync-backend/internal/controller"
)

// Pinger reports database health
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterDeps struct {
	Sync     *SyncHandler
	Campaign *controller.CampaignController
	DB       Pinger
	Metrics  http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			if err := d.DB.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// Sync routes
	r.Post("/sync/run", d.Sync.RunSyncHandler)
	r.Get("/sync/status", d.Sync.SyncStatusHandler)

	// Campaign and customer routes
	r.Get("/campaigns/{campaign}/stats", d.Campaign.GetCampaignStats)
	r.Get("/customers/{phone}/error-state", d.Campaign.GetErrorState)
	r.Get("/customers/{phone}/activity", d.Campaign.ListActivity)

	return r
}
