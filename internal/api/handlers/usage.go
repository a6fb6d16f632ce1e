package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/andrew/avatar-studio/internal/database"
	"github.com/andrew/avatar-studio/internal/ledger"
	"github.com/andrew/avatar-studio/internal/logger"
)

// UsageHandler handles usage tracking requests
type UsageHandler struct {
	db     *database.DB
	ledger *ledger.Ledger
	log    *slog.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(db *database.DB, l *ledger.Ledger, log *slog.Logger) *UsageHandler {
	return &UsageHandler{db: db, ledger: l, log: log.With(logger.Component("usage"))}
}

// HandleGetUsage handles GET /v1/usage
func (h *UsageHandler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := queryInt(r, "limit", 100)
	if limit == 0 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	var startTime, endTime *time.Time
	if st := query.Get("start_time"); st != "" {
		t, err := time.Parse(time.RFC3339, st)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid start_time format, use RFC3339")
			return
		}
		startTime = &t
	}
	if et := query.Get("end_time"); et != "" {
		t, err := time.Parse(time.RFC3339, et)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid end_time format, use RFC3339")
			return
		}
		endTime = &t
	}

	usage, err := h.db.ListTokenUsage(r.Context(), guestID(r), limit, offset, startTime, endTime)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to list usage", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to retrieve usage history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"usage":  usage,
		"limit":  limit,
		"offset": offset,
	})
}

// reload picks up debits written since the ledger was last loaded
func (h *UsageHandler) reload(r *http.Request) {
	if err := h.ledger.Reload(r.Context()); err != nil {
		h.log.WarnContext(r.Context(), "usage reload failed", logger.Error(err))
	}
}

// HandleGetUsageStats handles GET /v1/usage/stats
func (h *UsageHandler) HandleGetUsageStats(w http.ResponseWriter, r *http.Request) {
	h.reload(r)
	respondJSON(w, http.StatusOK, h.ledger.UsageStats(guestID(r)))
}

// HandleGetHourlyUsage handles GET /v1/usage/hourly
func (h *UsageHandler) HandleGetHourlyUsage(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours > ledger.MaxHourlyWindow {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("hours must be at most %d", ledger.MaxHourlyWindow))
		return
	}
	h.reload(r)
	respondJSON(w, http.StatusOK, map[string]any{"hours": h.ledger.HourlyUsage(guestID(r), hours)})
}

// EstimateResponse is the projected cost of an activity
type EstimateResponse struct {
	Activity string  `json:"activity"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// HandleEstimate handles GET /v1/usage/estimate
func (h *UsageHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	activity := r.URL.Query().Get("activity")
	if activity == "" {
		respondError(w, http.StatusBadRequest, "activity is required")
		return
	}
	respondJSON(w, http.StatusOK, EstimateResponse{
		Activity: activity,
		Tokens:   ledger.EstimateActivityTokens(activity),
		Cost:     ledger.EstimateActivityCost(activity),
	})
}
