// Package engagement implements the Engagement Manager (C7): the
// human-in-the-loop workflow that carries a selected track and a selected
// effector from recommendation through authorization to execution and
// completion, recording a full history of attempted engagements.
package engagement

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/effector"
	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/track"
)

// State is the engagement workflow's current step.
type State string

const (
	StateIdle                  State = "Idle"
	StateTrackSelected         State = "TrackSelected"
	StateEffectorRecommended   State = "EffectorRecommended"
	StateAwaitingAuthorization State = "AwaitingAuthorization"
	StateAuthorized            State = "Authorized"
	StateEngaging              State = "Engaging"
	StateCompleted             State = "Completed"
	StateAborted               State = "Aborted"
	StateFailed                State = "Failed"
)

func isTerminal(s State) bool {
	return s == StateIdle || s == StateCompleted || s == StateAborted || s == StateFailed
}

// BDAResult is the battle damage assessment outcome recorded against a
// completed engagement.
type BDAResult string

const (
	BDAUnknown           BDAResult = "Unknown"
	BDATargetDestroyed   BDAResult = "TargetDestroyed"
	BDATargetDamaged     BDAResult = "TargetDamaged"
	BDATargetMissed      BDAResult = "TargetMissed"
	BDATargetEvaded      BDAResult = "TargetEvaded"
	BDAAssessmentPending BDAResult = "AssessmentPending"
)

// Record is the append-only history entry for one engagement attempt.
type Record struct {
	EngagementID   string
	TrackID        string
	EffectorID     string
	EffectorFamily effector.Family
	OperatorID     string

	StartTime         time.Time
	AuthorizationTime time.Time
	ExecutionTime     time.Time
	CompletionTime    time.Time

	State         State
	BDAResult     BDAResult
	TargetPosition geo.Position
	TargetDistance float64
	ThreatLevel    int

	Notes       string
	WasAborted  bool
	AbortReason string
}

// AuthorizationRequest is the payload handed to a human (or the Policy
// Gate) to grant or deny an engagement.
type AuthorizationRequest struct {
	EngagementID        string
	TrackID             string
	EffectorID          string
	EffectorFamily      effector.Family
	TargetPosition      geo.Position
	Distance            float64
	ThreatLevel         int
	Classification      track.Classification
	RecommendationReason string
	RequestTime         time.Time
	TimeoutSeconds      int
}

// Statistics aggregates outcomes across every finalized engagement.
type Statistics struct {
	TotalEngagements      int
	SuccessfulEngagements int
	AbortedEngagements    int
	FailedEngagements     int
	AvgEngagementTimeMs   float64
}

// EventType names one of the typed events the manager emits.
type EventType string

const (
	EventStateChanged           EventType = "engagement_state_changed"
	EventTrackSelected          EventType = "engagement_track_selected"
	EventEffectorRecommended    EventType = "engagement_effector_recommended"
	EventAuthorizationRequested EventType = "engagement_authorization_requested"
	EventAuthorizationGranted   EventType = "engagement_authorization_granted"
	EventAuthorizationDenied    EventType = "engagement_authorization_denied"
	EventAuthorizationTimeout   EventType = "engagement_authorization_timeout"
	EventStarted                EventType = "engagement_started"
	EventCompleted              EventType = "engagement_completed"
	EventAborted                EventType = "engagement_aborted"
	EventFailed                 EventType = "engagement_failed"
)

// Event is emitted after the manager's lock is released.
type Event struct {
	Type         EventType
	EngagementID string
	TrackID      string
	EffectorID   string
	State        State
	BDAResult    BDAResult
	Reason       string
	Request      AuthorizationRequest
}

// Sink receives engagement events.
type Sink func(Event)

// EffectRecord is a previously observed outcome for an idempotency key,
// held by an EffectLog so Execute can replay it instead of re-engaging.
type EffectRecord struct {
	FinalState State
	BDAResult  BDAResult
	Reason     string
}

// EffectLog looks up and records effector-execution outcomes so a
// redelivered authorization decision can't double-engage an effector.
// Implementations must be safe for concurrent use.
type EffectLog interface {
	Lookup(key string) (EffectRecord, bool)
	Record(key string, rec EffectRecord)
}

// EffectIdempotencyKey derives the key Execute checks before firing an
// effector: one engagement can only ever execute once against one effector.
func EffectIdempotencyKey(engagementID, effectorID string) string {
	return engagementID + ":" + effectorID + ":execute"
}

func eventTypeForState(s State) EventType {
	switch s {
	case StateCompleted:
		return EventCompleted
	case StateFailed:
		return EventFailed
	default:
		return EventAborted
	}
}

// Config tunes authorization timeout, auto-recommendation, and the
// engagement-completion poll cadence.
type Config struct {
	AuthorizationTimeout   time.Duration
	AutoRecommendEffector  bool
	CompletionPollInterval time.Duration
}

// DefaultConfig returns the documented defaults: 60 second authorization
// window, auto-recommendation on, 100ms completion polling.
func DefaultConfig() Config {
	return Config{
		AuthorizationTimeout:   60 * time.Second,
		AutoRecommendEffector:  true,
		CompletionPollInterval: 100 * time.Millisecond,
	}
}

// Clock is the time seam, mirroring pkg/track and pkg/threat.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Manager is the Engagement Manager (C7). It holds at most one active
// engagement at a time; a new selectTrack implicitly aborts whatever
// engagement is in flight, matching the reference engine.
type Manager struct {
	mu sync.Mutex

	tracks    *track.Manager
	base      geo.Position
	effectors map[string]effector.Effector

	cfg       Config
	clock     Clock
	sink      Sink
	logger    zerolog.Logger
	effectLog EffectLog

	state            State
	selectedTrackID  string
	selectedEffector string

	currentEngagementID string
	current              Record
	currentAuthRequest   AuthorizationRequest
	authDeadline         time.Time

	history         []Record
	stats           Statistics
	nextEngagement  int
}

// New constructs an Engagement Manager. base is the defending asset's
// position used for every range and distance computation; a zero-value
// Position must never be substituted for it (see the distance-against-base
// requirement the reference engine's TODO left unresolved).
func New(cfg Config, tracks *track.Manager, base geo.Position, sink Sink, logger zerolog.Logger) *Manager {
	return &Manager{
		tracks:    tracks,
		base:      base,
		effectors: make(map[string]effector.Effector),
		cfg:       cfg,
		clock:     realClock{},
		sink:      sink,
		logger:    logger.With().Str("component", "engagement_manager").Logger(),
		state:     StateIdle,
	}
}

// SetClock overrides the manager's time source; intended for tests.
func (m *Manager) SetClock(c Clock) { m.clock = c }

// SetEffectLog installs the idempotency store Execute consults before
// firing an effector. Nil (the default) disables the check entirely.
func (m *Manager) SetEffectLog(l EffectLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.effectLog = l
}

// CurrentAuthorizationRequest returns the authorization request snapshot
// for the in-flight engagement, or a zero value if idle.
func (m *Manager) CurrentAuthorizationRequest() AuthorizationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentAuthRequest
}

func (m *Manager) emit(e Event) {
	if m.sink != nil {
		m.sink(e)
	}
}

// RegisterEffector adds an effector to the pool the manager can recommend
// from and execute through.
func (m *Manager) RegisterEffector(e effector.Effector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.effectors[e.ID()] = e
}

// UnregisterEffector removes an effector from the pool.
func (m *Manager) UnregisterEffector(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.effectors, id)
}

// State returns the current workflow state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentEngagementID returns the in-flight engagement id, or "" if idle.
func (m *Manager) CurrentEngagementID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentEngagementID
}

// Statistics returns a snapshot of cumulative engagement outcomes.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// History returns a snapshot of every finalized engagement.
func (m *Manager) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.history...)
}

// transitionTo mutates state under lock and emits StateChanged after
// release, never under it. Caller must already hold m.mu and must NOT
// itself emit; this only queues the emission via the returned function.
func (m *Manager) transitionTo(newState State) (emit func()) {
	if m.state == newState {
		return func() {}
	}
	m.state = newState
	m.current.State = newState
	id := m.currentEngagementID
	return func() {
		m.emit(Event{Type: EventStateChanged, EngagementID: id, State: newState})
	}
}

func (m *Manager) generateEngagementID() string {
	m.nextEngagement++
	return fmt.Sprintf("ENG-%06d", m.nextEngagement)
}

// recommendedEffectorLocked scores every ready effector against the given
// track and returns the best, or nil. Caller must hold m.mu.
func (m *Manager) recommendedEffectorLocked(tr track.Track) effector.Effector {
	var best effector.Effector
	var bestScore float64
	for _, eff := range m.effectors {
		score := m.calculateEffectorScore(eff, tr)
		if score > bestScore || (score > 0 && score == bestScore && best != nil && eff.ID() < best.ID()) {
			bestScore = score
			best = eff
		}
	}
	return best
}

// calculateEffectorScore is the composite recommender score (C7): range
// fitness (0.4, centered in the effector's engagement envelope), raw
// effectiveness (0.3), readiness (0.2), plus a 0.1 RF-jammer preference for
// still-unclassified tracks. Distance is always measured against the
// manager's explicit base position, never a zero-value origin.
func (m *Manager) calculateEffectorScore(eff effector.Effector, tr track.Track) float64 {
	if !eff.IsReady() {
		return 0
	}

	distance := geo.Distance(m.base, tr.Position)
	minR, maxR := eff.MinRange(), eff.MaxRange()
	if distance < minR || distance > maxR {
		return 0
	}

	rangeCenter := (maxR + minR) / 2
	rangeDiff := absFloat(distance - rangeCenter)
	span := maxR - minR
	var rangeScore float64
	if span > 0 {
		rangeScore = 1 - rangeDiff/span
	}

	score := rangeScore*0.4 + eff.Effectiveness()*0.3 + 0.2

	if eff.Family() == effector.FamilyRFJammer &&
		(tr.Classification == track.ClassificationPending || tr.Classification == track.ClassificationUnknown) {
		score += 0.1
	}

	return score
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// createEngagementRecordLocked starts a fresh Record for the current
// track/effector selection. Caller must hold m.mu.
func (m *Manager) createEngagementRecordLocked(tr track.Track, eff effector.Effector, now time.Time) {
	m.currentEngagementID = m.generateEngagementID()
	m.current = Record{
		EngagementID:   m.currentEngagementID,
		TrackID:        m.selectedTrackID,
		EffectorID:     m.selectedEffector,
		EffectorFamily: eff.Family(),
		StartTime:      now,
		State:          m.state,
		TargetPosition: tr.Position,
		ThreatLevel:    tr.ThreatLevel,
		BDAResult:      BDAUnknown,
	}
}

// finalizeEngagementLocked records the terminal state and statistics, files
// the record into history, clears the active selection, and returns a
// closure the caller runs after releasing m.mu (it calls into pkg/track,
// which takes its own independent lock, but keeping the call outside ours
// preserves the emit-after-unlock discipline used throughout). Caller must
// hold m.mu.
func (m *Manager) finalizeEngagementLocked(finalState State) func() {
	m.current.State = finalState

	m.stats.TotalEngagements++
	switch finalState {
	case StateCompleted:
		m.stats.SuccessfulEngagements++
	case StateAborted:
		m.stats.AbortedEngagements++
	case StateFailed:
		m.stats.FailedEngagements++
	}
	if !m.current.CompletionTime.IsZero() {
		durationMs := float64(m.current.CompletionTime.Sub(m.current.StartTime).Milliseconds())
		total := m.stats.AvgEngagementTimeMs*float64(m.stats.TotalEngagements-1) + durationMs
		m.stats.AvgEngagementTimeMs = total / float64(m.stats.TotalEngagements)
	}

	if m.effectLog != nil && !m.current.ExecutionTime.IsZero() && m.selectedEffector != "" {
		key := EffectIdempotencyKey(m.currentEngagementID, m.selectedEffector)
		m.effectLog.Record(key, EffectRecord{
			FinalState: finalState,
			BDAResult:  m.current.BDAResult,
			Reason:     m.current.Notes,
		})
	}

	m.history = append(m.history, m.current)

	trackID := m.selectedTrackID
	m.selectedTrackID = ""
	m.selectedEffector = ""
	m.currentEngagementID = ""

	return func() {
		if trackID != "" {
			m.tracks.SetEngaged(trackID, false)
		}
	}
}
