package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/postgres"
)

// AuditHandler handles audit-related HTTP requests
type AuditHandler struct {
	db     *postgres.Pool
	logger zerolog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(db *postgres.Pool, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		db:     db,
		logger: logger.With().Str("handler", "audit").Logger(),
	}
}

// Routes returns the audit routes
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetAuditEntries)

	return r
}

// AuditEntryResponse represents a single audit entry for the operator UI
type AuditEntryResponse struct {
	ID           string  `json:"id"`
	Timestamp    string  `json:"timestamp"`
	TrackID      string  `json:"track_id"`
	EngagementID *string `json:"engagement_id,omitempty"`
	DecisionID   *string `json:"decision_id,omitempty"`
	EffectID     *string `json:"effect_id,omitempty"`
	ApprovedBy   *string `json:"approved_by,omitempty"`
	Status       string  `json:"status"`
	Details      string  `json:"details"`
}

// AuditEntriesResponse represents the response for audit entries
type AuditEntriesResponse struct {
	Entries       []AuditEntryResponse `json:"entries"`
	Total         int                  `json:"total"`
	CorrelationID string               `json:"correlation_id"`
}

// GetAuditEntries handles GET /api/v1/audit
func (h *AuditHandler) GetAuditEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := postgres.AuditFilter{
		Limit: 100,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	if approvedBy := r.URL.Query().Get("approved_by"); approvedBy != "" {
		filter.ApprovedBy = approvedBy
	}

	if trackID := r.URL.Query().Get("track_id"); trackID != "" {
		filter.TrackID = trackID
	}

	entries, err := h.db.ListAuditEntries(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to get audit entries")
		WriteError(w, http.StatusInternalServerError, "Failed to get audit entries", correlationID)
		return
	}

	responseEntries := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		entry := AuditEntryResponse{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			TrackID:   e.TrackID,
			Status:    e.Status,
			Details:   e.Details,
		}

		if e.EngagementID != "" {
			entry.EngagementID = &e.EngagementID
		}
		if e.DecisionID != "" {
			entry.DecisionID = &e.DecisionID
		}
		if e.EffectID != "" {
			entry.EffectID = &e.EffectID
		}
		if e.ApprovedBy != "" {
			entry.ApprovedBy = &e.ApprovedBy
		}

		responseEntries = append(responseEntries, entry)
	}

	WriteJSON(w, http.StatusOK, responseEntries)
}
