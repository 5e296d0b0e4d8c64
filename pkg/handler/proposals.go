package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/postgres"
)

// ProposalHandler handles engagement-proposal-related HTTP requests. It
// reads proposal state from Postgres but never writes a decision itself —
// that write path belongs solely to the authorizer, which owns the
// decisions table and publishes to NATS once a human has ruled.
type ProposalHandler struct {
	db            *postgres.Pool
	authorizerURL string
	client        *http.Client
	logger        zerolog.Logger
}

// NewProposalHandler creates a new ProposalHandler
func NewProposalHandler(db *postgres.Pool, authorizerURL string, logger zerolog.Logger) *ProposalHandler {
	return &ProposalHandler{
		db:            db,
		authorizerURL: authorizerURL,
		client:        &http.Client{Timeout: 5 * time.Second},
		logger:        logger.With().Str("handler", "proposals").Logger(),
	}
}

// Routes returns the proposal routes
func (h *ProposalHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListProposals)
	r.Get("/{engagementId}", h.GetProposal)
	r.Post("/{engagementId}/decide", h.DecideProposal)

	return r
}

// ProposalListResponse represents the response for listing proposals
type ProposalListResponse struct {
	Proposals     []ProposalResponse `json:"proposals"`
	Total         int                `json:"total"`
	Limit         int                `json:"limit"`
	Offset        int                `json:"offset"`
	CorrelationID string              `json:"correlation_id"`
}

// ProposalResponse represents a single engagement proposal in API responses
type ProposalResponse struct {
	EngagementID   string          `json:"engagement_id"`
	TrackID        string          `json:"track_id"`
	EffectorID     string          `json:"effector_id"`
	EffectorFamily string          `json:"effector_family"`
	TargetPosition json.RawMessage `json:"target_position"`
	Distance       float64         `json:"distance_m"`
	ThreatLevel    int             `json:"threat_level"`
	Classification string          `json:"classification"`
	Reason         string          `json:"reason"`
	Status         string          `json:"status"`
	RequestedAt    time.Time       `json:"requested_at"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	PolicyDecision json.RawMessage `json:"policy_decision,omitempty"`
}

func toProposalResponse(p postgres.ProposalRow) ProposalResponse {
	return ProposalResponse{
		EngagementID:   p.EngagementID,
		TrackID:        p.TrackID,
		EffectorID:     p.EffectorID,
		EffectorFamily: p.EffectorFamily,
		TargetPosition: p.TargetPosition,
		Distance:       p.Distance,
		ThreatLevel:    p.ThreatLevel,
		Classification: p.Classification,
		Reason:         p.Reason,
		Status:         p.Status,
		RequestedAt:    p.RequestedAt,
		TimeoutSeconds: p.TimeoutSeconds,
		PolicyDecision: p.PolicyDecision,
	}
}

// ListProposals handles GET /api/v1/proposals
func (h *ProposalHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := postgres.ProposalFilter{
		Status:         r.URL.Query().Get("status"),
		TrackID:        r.URL.Query().Get("track_id"),
		EffectorFamily: r.URL.Query().Get("effector_family"),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	proposals, err := h.db.ListProposals(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list proposals")
		WriteError(w, http.StatusInternalServerError, "Failed to list proposals", correlationID)
		return
	}

	response := ProposalListResponse{
		Proposals:     make([]ProposalResponse, 0, len(proposals)),
		Total:         len(proposals),
		Limit:         filter.Limit,
		Offset:        filter.Offset,
		CorrelationID: correlationID,
	}

	for _, p := range proposals {
		response.Proposals = append(response.Proposals, toProposalResponse(p))
	}

	WriteJSON(w, http.StatusOK, response)
}

// ProposalDetailResponse represents the detailed response for a single proposal
type ProposalDetailResponse struct {
	Proposal      ProposalResponse `json:"proposal"`
	CorrelationID string           `json:"correlation_id"`
}

// GetProposal handles GET /api/v1/proposals/{engagementId}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	engagementID := chi.URLParam(r, "engagementId")

	if engagementID == "" {
		WriteError(w, http.StatusBadRequest, "Engagement ID is required", correlationID)
		return
	}

	proposal, err := h.db.GetProposal(ctx, engagementID)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("engagement_id", engagementID).Msg("Failed to get proposal")
		WriteError(w, http.StatusInternalServerError, "Failed to get proposal", correlationID)
		return
	}

	if proposal == nil {
		WriteError(w, http.StatusNotFound, "Proposal not found", correlationID)
		return
	}

	response := ProposalDetailResponse{
		Proposal:      toProposalResponse(*proposal),
		CorrelationID: correlationID,
	}

	WriteJSON(w, http.StatusOK, response)
}

// DecisionRequest represents the request body for deciding on a proposal
type DecisionRequest struct {
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approved_by"`
	Reason     string `json:"reason,omitempty"`
}

// authorizerDecisionRequest is the body shape the authorizer's own
// /api/decisions endpoint expects.
type authorizerDecisionRequest struct {
	EngagementID string `json:"engagement_id"`
	Approved     bool   `json:"approved"`
	ApprovedBy   string `json:"approved_by"`
	Reason       string `json:"reason,omitempty"`
}

// DecideProposal handles POST /api/v1/proposals/{engagementId}/decide by
// proxying to the authorizer, which is the sole writer of the decisions
// table and the sole publisher onto the decision.> subject.
func (h *ProposalHandler) DecideProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	engagementID := chi.URLParam(r, "engagementId")

	if engagementID == "" {
		WriteError(w, http.StatusBadRequest, "Engagement ID is required", correlationID)
		return
	}

	var req DecisionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body", correlationID)
		return
	}

	userID := req.ApprovedBy
	if userID == "" {
		userID = GetUserID(ctx)
	}
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "approved_by is required", correlationID)
		return
	}

	body, err := json.Marshal(authorizerDecisionRequest{
		EngagementID: engagementID,
		Approved:     req.Approved,
		ApprovedBy:   userID,
		Reason:       req.Reason,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to encode decision", correlationID)
		return
	}

	proxyReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.authorizerURL+"/api/decisions", bytes.NewReader(body))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to build authorizer request", correlationID)
		return
	}
	proxyReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(proxyReq)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("engagement_id", engagementID).Msg("Failed to reach authorizer")
		WriteError(w, http.StatusBadGateway, "Failed to reach authorizer", correlationID)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
