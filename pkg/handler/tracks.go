// Package handler provides HTTP handlers for the C-UAS API gateway
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/postgres"
)

// TrackHandler handles track-related HTTP requests
type TrackHandler struct {
	db     *postgres.Pool
	logger zerolog.Logger
}

// NewTrackHandler creates a new TrackHandler
func NewTrackHandler(db *postgres.Pool, logger zerolog.Logger) *TrackHandler {
	return &TrackHandler{
		db:     db,
		logger: logger.With().Str("handler", "tracks").Logger(),
	}
}

// Routes returns the track routes
func (h *TrackHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListTracks)
	r.Get("/{trackId}", h.GetTrack)

	return r
}

// TrackListResponse represents the response for listing tracks
type TrackListResponse struct {
	Tracks        []TrackResponse `json:"tracks"`
	Total         int             `json:"total"`
	Limit         int             `json:"limit"`
	Offset        int             `json:"offset"`
	CorrelationID string          `json:"correlation_id"`
}

// TrackResponse represents a single track in API responses
type TrackResponse struct {
	TrackID        string    `json:"track_id"`
	State          string    `json:"state"`
	Classification string    `json:"classification"`
	ThreatLevel    int       `json:"threat_level"`
	Engaged        bool      `json:"engaged"`
	Position       Position  `json:"position"`
	Velocity       Velocity  `json:"velocity"`
	Sources        []string  `json:"sources"`
	FirstSeen      time.Time `json:"first_seen"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Position mirrors messages.Position for JSON responses
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Velocity mirrors messages.Velocity for JSON responses
type Velocity struct {
	Speed   float64 `json:"speed"`
	Heading float64 `json:"heading"`
}

func toTrackResponse(t postgres.TrackRow) TrackResponse {
	var pos struct{ Lat, Lon, Alt float64 }
	var vel struct{ Speed, Heading float64 }
	_ = decodeRaw(t.Position, &pos)
	_ = decodeRaw(t.Velocity, &vel)

	return TrackResponse{
		TrackID:        t.TrackID,
		State:          t.State,
		Classification: t.Classification,
		ThreatLevel:    t.ThreatLevel,
		Engaged:        t.Engaged,
		Position:       Position{Lat: pos.Lat, Lon: pos.Lon, Alt: pos.Alt},
		Velocity:       Velocity{Speed: vel.Speed, Heading: vel.Heading},
		Sources:        t.Sources,
		FirstSeen:      t.FirstSeen,
		LastUpdated:    t.LastUpdated,
	}
}

// ListTracks handles GET /api/v1/tracks
func (h *TrackHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := postgres.TrackFilter{
		Classification: r.URL.Query().Get("classification"),
		State:          r.URL.Query().Get("state"),
	}

	if threatStr := r.URL.Query().Get("threat_level"); threatStr != "" {
		if threat, err := strconv.Atoi(threatStr); err == nil {
			filter.ThreatLevel = threat
		}
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

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = &since
		}
	}

	tracks, err := h.db.ListTracks(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list tracks")
		WriteError(w, http.StatusInternalServerError, "Failed to list tracks", correlationID)
		return
	}

	response := TrackListResponse{
		Tracks:        make([]TrackResponse, 0, len(tracks)),
		Total:         len(tracks),
		Limit:         filter.Limit,
		Offset:        filter.Offset,
		CorrelationID: correlationID,
	}

	for _, t := range tracks {
		response.Tracks = append(response.Tracks, toTrackResponse(t))
	}

	WriteJSON(w, http.StatusOK, response)
}

// TrackDetailResponse represents the detailed response for a single track
type TrackDetailResponse struct {
	Track         TrackResponse `json:"track"`
	CorrelationID string        `json:"correlation_id"`
}

// GetTrack handles GET /api/v1/tracks/{trackId}
func (h *TrackHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	trackID := chi.URLParam(r, "trackId")

	if trackID == "" {
		WriteError(w, http.StatusBadRequest, "Track ID is required", correlationID)
		return
	}

	track, err := h.db.GetTrack(ctx, trackID)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("track_id", trackID).Msg("Failed to get track")
		WriteError(w, http.StatusInternalServerError, "Failed to get track", correlationID)
		return
	}

	if track == nil {
		WriteError(w, http.StatusNotFound, "Track not found", correlationID)
		return
	}

	response := TrackDetailResponse{
		Track:         toTrackResponse(*track),
		CorrelationID: correlationID,
	}

	WriteJSON(w, http.StatusOK, response)
}
