package track

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/kalman"
)

// Config tunes the track manager's correlation, lifecycle, and filtering
// behavior. Recognized keys mirror the JSON configuration surface.
type Config struct {
	UpdateRateHz           float64
	MaxTracks              int
	CoastingTimeout        time.Duration
	DropTimeout            time.Duration
	MaxCoastCount          int
	CorrelationDistanceM   float64
	CorrelationVelocityMps float64
	EnableKalmanFilter     bool
	Kalman                 kalman.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		UpdateRateHz:           10,
		MaxTracks:              500,
		CoastingTimeout:        2 * time.Second,
		DropTimeout:            10 * time.Second,
		MaxCoastCount:          5,
		CorrelationDistanceM:   100,
		CorrelationVelocityMps: 20,
		EnableKalmanFilter:     true,
		Kalman:                 kalman.DefaultConfig(),
	}
}

// Validate rejects configuration values that can never produce sane behavior.
func (c Config) Validate() error {
	if c.MaxTracks <= 0 {
		return fmt.Errorf("track: maxTracks must be positive, got %d", c.MaxTracks)
	}
	if c.CoastingTimeout <= 0 || c.DropTimeout <= 0 {
		return fmt.Errorf("track: timeouts must be positive")
	}
	if c.UpdateRateHz <= 0 {
		return fmt.Errorf("track: updateRateHz must be positive, got %v", c.UpdateRateHz)
	}
	return nil
}

type filterState struct {
	kf     *kalman.Filter
	origin geo.Position
}

// Manager is the Track Manager (C4): correlation, lifecycle, per-track
// Kalman filtering, and concurrent multi-reader access, all behind a single
// reader-writer lock guarding the track table and filter table together.
type Manager struct {
	mu      sync.RWMutex
	tracks  map[string]*Track
	filters map[string]*filterState
	nextID  int

	cfg    Config
	clock  Clock
	sink   Sink
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs a Track Manager. sink receives every emitted event;
// it is always called after the manager's lock has been released.
func NewManager(cfg Config, sink Sink, logger zerolog.Logger) *Manager {
	return &Manager{
		tracks:  make(map[string]*Track),
		filters: make(map[string]*filterState),
		cfg:     cfg,
		clock:   RealClock(),
		sink:    sink,
		logger:  logger.With().Str("component", "track_manager").Logger(),
	}
}

// SetClock overrides the manager's time source; intended for tests.
func (m *Manager) SetClock(c Clock) { m.clock = c }

func (m *Manager) emit(e Event) {
	if m.sink != nil {
		m.sink(e)
	}
}

// Start launches the periodic lifecycle/correlation cycle at the configured
// update rate. It returns immediately; the cycle runs on its own goroutine
// until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	interval := time.Duration(float64(time.Second) / m.cfg.UpdateRateHz)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				m.processCycle()
			}
		}
	}()
}

// Stop halts the periodic cycle and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Create adds a new track at the given position from the given detection
// source. ok is false and no id is issued if the manager is at capacity.
func (m *Manager) Create(pos geo.Position, source DetectionSource) (id string, ok bool) {
	now := m.clock.Now()
	m.mu.Lock()
	if len(m.tracks) >= m.cfg.MaxTracks {
		m.mu.Unlock()
		m.logger.Warn().Int("maxTracks", m.cfg.MaxTracks).Msg("track creation rejected: at capacity")
		return "", false
	}
	m.nextID++
	id = fmt.Sprintf("TRK-%04d", m.nextID)
	t := newTrack(id, pos, source, now)
	m.tracks[id] = t
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackCreated, TrackID: id})
	return id, true
}

// Update applies a new position measurement to an existing track: it
// re-filters position, appends history, resets the coast count, and
// promotes Initiated|Coasting tracks to Active. Unknown or Dropped ids are
// a silent, logged no-op.
func (m *Manager) Update(id string, pos geo.Position) {
	now := m.clock.Now()
	m.mu.Lock()
	tr, ok := m.tracks[id]
	if !ok || tr.State == StateDropped {
		m.mu.Unlock()
		if !ok {
			m.logger.Warn().Str("track_id", id).Msg("update referenced unknown track")
		}
		return
	}
	m.applyPositionUpdate(tr, pos, now)
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackUpdated, TrackID: id})
}

// applyPositionUpdate mutates tr in place. Caller must hold m.mu.
func (m *Manager) applyPositionUpdate(tr *Track, pos geo.Position, now time.Time) {
	filtered := pos
	if m.cfg.EnableKalmanFilter {
		fs, ok := m.filters[tr.ID]
		if !ok {
			fs = &filterState{kf: kalman.New(m.cfg.Kalman, 0, 0), origin: pos}
			m.filters[tr.ID] = fs
		} else {
			dt := now.Sub(tr.LastUpdate).Seconds()
			if dt <= 0 {
				dt = 1.0 / m.cfg.UpdateRateHz
			}
			fs.kf.Predict(dt)
			north, east := geo.Offset(fs.origin, pos)
			fs.kf.Update(north, east)
		}
		n, e := fs.kf.Position()
		filtered = geo.FromOffset(fs.origin, n, e, pos.AltM)
	}

	tr.Position = filtered
	tr.appendHistory(filtered, now)
	tr.CoastCount = 0
	tr.LastUpdate = now
	if tr.State == StateInitiated || tr.State == StateCoasting {
		tr.State = StateActive
	}
}

// UpdateVelocity sets a track's velocity with no other side effects.
func (m *Manager) UpdateVelocity(id string, v geo.Velocity) {
	m.mu.Lock()
	tr, ok := m.tracks[id]
	if !ok || tr.State == StateDropped {
		m.mu.Unlock()
		return
	}
	tr.Velocity = v
	m.mu.Unlock()
}

// Classify atomically sets a track's classification and confidence, emitting
// TrackClassificationChanged if the classification actually changed.
func (m *Manager) Classify(id string, cls Classification, confidence float64) {
	m.mu.Lock()
	tr, ok := m.tracks[id]
	if !ok || tr.State == StateDropped {
		m.mu.Unlock()
		return
	}
	changed := tr.Classification != cls
	tr.Classification = cls
	tr.Confidence = confidence
	m.mu.Unlock()

	if changed {
		m.emit(Event{Type: EventTrackClassificationChanged, TrackID: id, Classification: cls})
	}
}

// SetThreat sets a track's threat level (0-5), emitting
// TrackThreatLevelChanged on any change and HighThreatDetected when the new
// level is >=4 and strictly greater than the old level. Equal-and-still->=4
// intentionally produces no high-threat event, matching the reference
// engine: re-notifying every cycle a track holds steady adds no information.
func (m *Manager) SetThreat(id string, level int) {
	if level < 0 || level > 5 {
		m.logger.Warn().Int("level", level).Msg("threat level out of range, ignored")
		return
	}
	m.mu.Lock()
	tr, ok := m.tracks[id]
	if !ok || tr.State == StateDropped {
		m.mu.Unlock()
		return
	}
	old := tr.ThreatLevel
	tr.ThreatLevel = level
	m.mu.Unlock()

	if level != old {
		m.emit(Event{Type: EventTrackThreatLevelChanged, TrackID: id, ThreatLevel: level})
	}
	if level >= 4 && level > old {
		m.emit(Event{Type: EventHighThreatDetected, TrackID: id, ThreatLevel: level})
	}
}

// SetEngaged marks whether a track is currently the subject of an active
// engagement. Called by the Engagement Manager on execute/finalize; it has
// no lifecycle side effects of its own.
func (m *Manager) SetEngaged(id string, engaged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.tracks[id]
	if !ok {
		return
	}
	tr.Engaged = engaged
}

// Drop marks a track Dropped. Idempotent; unknown or already-dropped ids are
// a silent no-op.
func (m *Manager) Drop(id string) {
	m.mu.Lock()
	tr, ok := m.tracks[id]
	if !ok || tr.State == StateDropped {
		m.mu.Unlock()
		return
	}
	tr.State = StateDropped
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackDropped, TrackID: id})
}

// Merge has dst absorb src's detection-source set; src is dropped. Position
// history and classification are NOT transferred, matching the reference
// engine (see SPEC_FULL.md open-question resolution). Idempotent if either
// id is unknown.
func (m *Manager) Merge(src, dst string) {
	m.mu.Lock()
	srcTrack, okSrc := m.tracks[src]
	dstTrack, okDst := m.tracks[dst]
	if !okSrc || !okDst || srcTrack.State == StateDropped || dstTrack.State == StateDropped {
		m.mu.Unlock()
		return
	}
	for s := range srcTrack.Sources {
		dstTrack.Sources[s] = true
	}
	srcTrack.State = StateDropped
	m.mu.Unlock()

	m.emit(Event{Type: EventTrackDropped, TrackID: src})
}

// PruneDropped removes Dropped tracks and their filters from the table.
func (m *Manager) PruneDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tr := range m.tracks {
		if tr.State == StateDropped {
			delete(m.tracks, id)
			delete(m.filters, id)
		}
	}
}

// Clear drops every track, emitting track_dropped for each before the
// tracks are actually removed, matching the reference engine's two-phase
// unlock discipline: subscribers see dropped(id) while the track is still
// inspectable via queries, then the table is cleared.
func (m *Manager) Clear() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tracks))
	for id, tr := range m.tracks {
		if tr.State != StateDropped {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.emit(Event{Type: EventTrackDropped, TrackID: id})
	}

	m.mu.Lock()
	m.tracks = make(map[string]*Track)
	m.filters = make(map[string]*filterState)
	m.mu.Unlock()
}

// --- Queries -----------------------------------------------------------

// ByID returns a snapshot of the track with the given id.
func (m *Manager) ByID(id string) (Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.tracks[id]
	if !ok {
		return Track{}, false
	}
	return tr.Snapshot(), true
}

// ByClassification returns snapshots of all non-Dropped tracks with the
// given classification.
func (m *Manager) ByClassification(cls Classification) []Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Track
	for _, tr := range m.tracks {
		if tr.State != StateDropped && tr.Classification == cls {
			out = append(out, tr.Snapshot())
		}
	}
	return out
}

// ByThreat returns snapshots of all non-Dropped tracks sorted descending by
// threat level.
func (m *Manager) ByThreat() []Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Track
	for _, tr := range m.tracks {
		if tr.State != StateDropped {
			out = append(out, tr.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreatLevel > out[j].ThreatLevel })
	return out
}

// WithinRadius returns snapshots of all non-Dropped tracks within radiusM
// meters of center.
func (m *Manager) WithinRadius(center geo.Position, radiusM float64) []Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Track
	for _, tr := range m.tracks {
		if tr.State != StateDropped && geo.Distance(center, tr.Position) <= radiusM {
			out = append(out, tr.Snapshot())
		}
	}
	return out
}

// Hostile returns snapshots of all non-Dropped Hostile tracks.
func (m *Manager) Hostile() []Track { return m.ByClassification(ClassificationHostile) }

// Pending returns snapshots of all non-Dropped Pending tracks.
func (m *Manager) Pending() []Track { return m.ByClassification(ClassificationPending) }

// HighestThreat returns a snapshot of the highest-threat non-Dropped track,
// if any exist.
func (m *Manager) HighestThreat() (Track, bool) {
	sorted := m.ByThreat()
	if len(sorted) == 0 {
		return Track{}, false
	}
	return sorted[0], true
}

// All returns snapshots of every non-Dropped track.
func (m *Manager) All() []Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Track, 0, len(m.tracks))
	for _, tr := range m.tracks {
		if tr.State != StateDropped {
			out = append(out, tr.Snapshot())
		}
	}
	return out
}

// --- Lifecycle cycle -----------------------------------------------------

type cycleOutcome struct {
	id           string
	stateChanged bool
	newState     State
	dropped      bool
}

// processCycle runs one lifecycle tick: Initiated->Active promotion on
// staleness threshold, Active->Coasting, and Coasting->Dropped, all per
// the timeouts in Config. Every non-Dropped track emits track_updated every
// cycle regardless of whether it changed, matching the reference engine's
// per-cycle broadcast; state transitions additionally emit
// track_state_changed, and a transition into Dropped emits track_dropped
// instead of track_updated for that track this cycle.
func (m *Manager) processCycle() {
	now := m.clock.Now()
	var outcomes []cycleOutcome

	m.mu.Lock()
	for id, tr := range m.tracks {
		if tr.State == StateDropped {
			continue
		}
		since := now.Sub(tr.LastUpdate)
		old := tr.State

		switch tr.State {
		case StateInitiated, StateActive:
			if since > m.cfg.CoastingTimeout {
				tr.State = StateCoasting
				tr.CoastCount++
			} else if tr.State == StateInitiated {
				tr.State = StateActive
			}
		case StateCoasting:
			tr.CoastCount++
			if since > m.cfg.DropTimeout || tr.CoastCount > m.cfg.MaxCoastCount {
				tr.State = StateDropped
			}
		}

		oc := cycleOutcome{id: id}
		if tr.State != old {
			oc.stateChanged = true
			oc.newState = tr.State
			oc.dropped = tr.State == StateDropped
		}
		outcomes = append(outcomes, oc)
	}
	m.mu.Unlock()

	for _, oc := range outcomes {
		if oc.stateChanged {
			m.emit(Event{Type: EventTrackStateChanged, TrackID: oc.id, State: oc.newState})
		}
		if oc.dropped {
			m.emit(Event{Type: EventTrackDropped, TrackID: oc.id})
		} else {
			m.emit(Event{Type: EventTrackUpdated, TrackID: oc.id})
		}
	}
}
