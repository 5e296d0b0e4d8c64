// Package track implements the Track entity and the Track Manager: the
// fusion engine that correlates multi-source detections into tracks,
// maintains per-track Kalman filters, and drives the Initiated -> Active
// -> Coasting -> Dropped lifecycle.
package track

import (
	"time"

	"github.com/cuas/core/pkg/geo"
)

// DetectionSource identifies the sensor modality that contributed to a track.
type DetectionSource string

const (
	SourceRadar  DetectionSource = "Radar"
	SourceRF     DetectionSource = "RF"
	SourceCamera DetectionSource = "Camera"
)

// Classification is the track's identity assessment.
type Classification string

const (
	ClassificationPending  Classification = "Pending"
	ClassificationUnknown  Classification = "Unknown"
	ClassificationFriendly Classification = "Friendly"
	ClassificationNeutral  Classification = "Neutral"
	ClassificationHostile  Classification = "Hostile"
)

// State is the track's lifecycle state.
type State string

const (
	StateInitiated State = "Initiated"
	StateActive    State = "Active"
	StateCoasting  State = "Coasting"
	StateDropped   State = "Dropped"
)

// BoundingBox is a normalized image-space rectangle from a camera detection.
type BoundingBox struct {
	X, Y, W, H float64
	CameraID   string
	CapturedAt time.Time
}

// HistoryPoint is one (position, timestamp) sample in a track's ring buffer.
type HistoryPoint struct {
	Position geo.Position
	At       time.Time
}

const historyCapacity = 200

// Track is the central fused-target entity. It is exclusively owned by the
// Track Manager; callers elsewhere in the system address it by id and only
// ever see snapshots (copies), never the live pointer, matching the
// arena-with-handles ownership model described in the design notes.
type Track struct {
	ID         string
	CreatedAt  time.Time
	LastUpdate time.Time

	Position geo.Position
	Velocity geo.Velocity
	History  []HistoryPoint

	Sources             map[DetectionSource]bool
	AssociatedCameraID  string
	BoundingBox         *BoundingBox
	VisuallyTracked     bool

	Classification Classification
	Confidence     float64

	Quality    float64
	CoastCount int

	State State

	ThreatLevel int
	Engaged     bool
}

func newTrack(id string, pos geo.Position, source DetectionSource, now time.Time) *Track {
	t := &Track{
		ID:             id,
		CreatedAt:      now,
		LastUpdate:     now,
		Position:       pos,
		Sources:        map[DetectionSource]bool{source: true},
		Classification: ClassificationPending,
		Quality:        0,
		State:          StateInitiated,
	}
	t.appendHistory(pos, now)
	return t
}

func (t *Track) appendHistory(pos geo.Position, at time.Time) {
	t.History = append(t.History, HistoryPoint{Position: pos, At: at})
	if len(t.History) > historyCapacity {
		t.History = t.History[len(t.History)-historyCapacity:]
	}
}

// Snapshot returns a deep-enough copy safe for callers to read without
// holding the manager's lock.
func (t *Track) Snapshot() Track {
	cp := *t
	cp.Sources = make(map[DetectionSource]bool, len(t.Sources))
	for k, v := range t.Sources {
		cp.Sources[k] = v
	}
	cp.History = append([]HistoryPoint(nil), t.History...)
	if t.BoundingBox != nil {
		bb := *t.BoundingBox
		cp.BoundingBox = &bb
	}
	return cp
}

// HasSource reports whether the given detection source has contributed to this track.
func (t *Track) HasSource(s DetectionSource) bool {
	return t.Sources[s]
}

// IsHighThreat reports whether the track meets the high-threat result-set
// invariant: Hostile classification and threat level >= 4.
func (t *Track) IsHighThreat() bool {
	return t.Classification == ClassificationHostile && t.ThreatLevel >= 4
}
