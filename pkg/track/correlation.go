package track

import (
	"math"
	"time"

	"github.com/cuas/core/pkg/geo"
)

// correlationScore computes the [0,1] correlation score of a candidate
// measurement against an existing track, per the three-term weighted
// formula: distance (weight 0.5), velocity (weight 0.3), recency
// (weight 0.2). Grounded on TrackManager.cpp's calculateCorrelationScore.
func (m *Manager) correlationScore(tr *Track, pos geo.Position, vel geo.Velocity, hasVel bool, t time.Time) float64 {
	dist := geo.Distance(tr.Position, pos)
	distComp := 1 - dist/m.cfg.CorrelationDistanceM
	if distComp < 0 {
		distComp = 0
	}

	// Detections that don't carry a measured velocity (RF, Camera) are
	// compared against the track's own last known velocity so the
	// component is neutral rather than artificially penalizing a fast
	// track for a sensor that simply doesn't measure speed.
	compareVel := tr.Velocity
	if hasVel {
		compareVel = vel
	}
	dn := compareVel.NorthMps - tr.Velocity.NorthMps
	de := compareVel.EastMps - tr.Velocity.EastMps
	deltaV := math.Sqrt(dn*dn + de*de)

	var velComp float64
	if deltaV <= m.cfg.CorrelationVelocityMps {
		velComp = 1 - deltaV/(2*m.cfg.CorrelationVelocityMps)
	} else {
		velComp = 0.5
	}

	sinceUpdate := t.Sub(tr.LastUpdate)
	var recencyComp float64
	if sinceUpdate <= m.cfg.CoastingTimeout {
		frac := float64(sinceUpdate) / float64(m.cfg.CoastingTimeout)
		recencyComp = 1 - frac*0.5
	} else {
		recencyComp = 0.3
	}

	return 0.5*distComp + 0.3*velComp + 0.2*recencyComp
}

// findCorrelatedTrack returns the best-scoring non-Dropped track whose score
// exceeds 0.5, or nil if none qualify. Ties are broken by lower last-update
// age (the more recently updated track wins), matching the reference
// engine's best-match-above-threshold selection. Caller must hold at least
// a read lock.
func (m *Manager) findCorrelatedTrack(pos geo.Position, vel geo.Velocity, hasVel bool, t time.Time) *Track {
	var best *Track
	var bestScore float64
	for _, tr := range m.tracks {
		if tr.State == StateDropped {
			continue
		}
		score := m.correlationScore(tr, pos, vel, hasVel, t)
		if score <= 0.5 {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && tr.LastUpdate.After(best.LastUpdate)) {
			best = tr
			bestScore = score
		}
	}
	return best
}

// IngestRadar correlates or creates a track from a radar detection, which
// updates both position and velocity and takes the max of current and
// supplied quality.
func (m *Manager) IngestRadar(pos geo.Position, vel geo.Velocity, quality float64, t time.Time) (id string, created bool) {
	m.mu.Lock()
	tr := m.findCorrelatedTrack(pos, vel, true, t)
	if tr == nil {
		m.mu.Unlock()
		newID, ok := m.Create(pos, SourceRadar)
		if !ok {
			return "", false
		}
		m.mu.Lock()
		tr = m.tracks[newID]
		tr.Velocity = vel
		if quality > tr.Quality {
			tr.Quality = quality
		}
		m.mu.Unlock()
		return newID, true
	}

	id = tr.ID
	tr.Sources[SourceRadar] = true
	m.applyPositionUpdate(tr, pos, t)
	tr.Velocity = vel
	if quality > tr.Quality {
		tr.Quality = quality
	}
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackUpdated, TrackID: id})
	return id, false
}

// IngestRF correlates or creates a track from an RF detection, which
// updates position only. A strong, unclassified-yet signal promotes the
// track to Hostile with confidence 0.6.
func (m *Manager) IngestRF(pos geo.Position, signalStrength float64, t time.Time) (id string, created bool) {
	m.mu.Lock()
	tr := m.findCorrelatedTrack(pos, geo.Velocity{}, false, t)
	if tr == nil {
		m.mu.Unlock()
		newID, ok := m.Create(pos, SourceRF)
		if !ok {
			return "", false
		}
		return newID, true
	}

	id = tr.ID
	tr.Sources[SourceRF] = true
	m.applyPositionUpdate(tr, pos, t)
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackUpdated, TrackID: id})
	m.maybePromoteFromRF(id, signalStrength)
	return id, false
}

func (m *Manager) maybePromoteFromRF(id string, signalStrength float64) {
	if signalStrength <= 0.7 {
		return
	}
	m.mu.Lock()
	tr, ok := m.tracks[id]
	if !ok || tr.State == StateDropped || tr.Classification != ClassificationPending {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.Classify(id, ClassificationHostile, 0.6)
}

// CameraDetection carries the camera-sourced evidence ingested per cycle.
type CameraDetection struct {
	CameraID     string
	BoundingBox  BoundingBox
	EstimatedPos geo.Position
}

// IngestCamera correlates or creates a track from a camera detection, which
// updates the bounding box, associated camera id, and visually-tracked flag.
func (m *Manager) IngestCamera(d CameraDetection, t time.Time) (id string, created bool) {
	m.mu.Lock()
	tr := m.findCorrelatedTrack(d.EstimatedPos, geo.Velocity{}, false, t)
	if tr == nil {
		m.mu.Unlock()
		newID, ok := m.Create(d.EstimatedPos, SourceCamera)
		if !ok {
			return "", false
		}
		m.mu.Lock()
		tr = m.tracks[newID]
		m.applyCameraEvidence(tr, d)
		m.mu.Unlock()
		return newID, true
	}

	id = tr.ID
	tr.Sources[SourceCamera] = true
	m.applyPositionUpdate(tr, d.EstimatedPos, t)
	m.applyCameraEvidence(tr, d)
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackUpdated, TrackID: id})
	return id, false
}

// applyCameraEvidence mutates tr in place. Caller must hold m.mu.
func (m *Manager) applyCameraEvidence(tr *Track, d CameraDetection) {
	bb := d.BoundingBox
	tr.BoundingBox = &bb
	tr.AssociatedCameraID = d.CameraID
	tr.VisuallyTracked = true
}

// Ingest is the generic detection-kind dispatcher.
func (m *Manager) Ingest(source DetectionSource, pos geo.Position, vel geo.Velocity, t time.Time) (id string, created bool) {
	switch source {
	case SourceRadar:
		return m.IngestRadar(pos, vel, 0, t)
	case SourceRF:
		return m.IngestRF(pos, 0, t)
	case SourceCamera:
		return m.IngestCamera(CameraDetection{EstimatedPos: pos}, t)
	default:
		return m.IngestRadar(pos, vel, 0, t)
	}
}
