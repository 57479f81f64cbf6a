// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/model"
)

type CampaignStatsReader interface {
	GetCampaignStats(ctx context.Context, campaign string) (*model.CampaignStats, error)
}

type CustomerStateReader interface {
	GetErrorState(ctx context.Context, customer string) (*model.ErrorState, error)
	ListRecentActivity(ctx context.Context, customer string, limit int) ([]model.ActivityEvent, error)
}

// HourlyCounts returns the current hour's activity counters of a customer
type HourlyCounts func(ctx context.Context, customer string) (map[string]int, error)

// CampaignController serves read-only views of sync progress
type CampaignController struct {
	Stats     CampaignStatsReader
	Customers CustomerStateReader
	Hourly    HourlyCounts
	Logger    *zap.Logger
}

func (c *CampaignController) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *CampaignController) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	campaign := chi.URLParam(r, "campaign")

	stats, err := c.Stats.GetCampaignStats(r.Context(), campaign)
	if err != nil {
		var nf *appErrors.ErrCampaignNotFound
		if errors.As(err, &nf) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		c.logger().Error("campaign stats failed", zap.String("campaign", campaign), zap.Error(err))
		http.Error(w, "failed to load campaign stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (c *CampaignController) GetErrorState(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	state, err := c.Customers.GetErrorState(r.Context(), phone)
	if err != nil {
		c.logger().Error("error state lookup failed", zap.String("customer", phone), zap.Error(err))
		http.Error(w, "failed to load error state", http.StatusInternalServerError)
		return
	}
	if state == nil {
		http.Error(w, "no error recorded for customer", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (c *CampaignController) ListActivity(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 50
	}

	events, err := c.Customers.ListRecentActivity(r.Context(), phone, limit)
	if err != nil {
		c.logger().Error("activity lookup failed", zap.String("customer", phone), zap.Error(err))
		http.Error(w, "failed to load activity", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"data": events}
	if c.Hourly != nil {
		counts, err := c.Hourly(r.Context(), phone)
		if err != nil {
			c.logger().Warn("hourly counters unavailable", zap.String("customer", phone), zap.Error(err))
		} else {
			resp["current_hour"] = counts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
