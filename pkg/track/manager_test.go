package track

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuas/core/pkg/geo"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) sink(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(clock Clock, rec *eventRecorder) *Manager {
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	m.SetClock(clock)
	return m
}

// Scenario 1: single radar contact promoted to Active.
func TestScenarioRadarContactPromotedToActive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	rec := &eventRecorder{}
	m := newTestManager(clock, rec)

	pos := geo.Position{LatDeg: 34.0525, LonDeg: -118.2440, AltM: 100}
	vel := geo.Velocity{NorthMps: 10}
	id, created := m.IngestRadar(pos, vel, 0.8, clock.Now())
	require.True(t, created)
	require.Equal(t, "TRK-0001", id)

	tr, ok := m.ByID(id)
	require.True(t, ok)
	assert.Equal(t, StateInitiated, tr.State)

	clock.Advance(200 * time.Millisecond)
	m.processCycle()

	tr, _ = m.ByID(id)
	assert.Equal(t, StateActive, tr.State)

	clock.Advance(800 * time.Millisecond)
	m.processCycle()
	tr, _ = m.ByID(id)
	assert.NotEqual(t, StateDropped, tr.State)
}

// Scenario 2: correlation across sensors.
func TestScenarioCorrelationAcrossSensors(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	rec := &eventRecorder{}
	m := newTestManager(clock, rec)

	pos := geo.Position{LatDeg: 34.0525, LonDeg: -118.2440, AltM: 100}
	vel := geo.Velocity{NorthMps: 10}
	id, _ := m.IngestRadar(pos, vel, 0.8, clock.Now())

	clock.Advance(500 * time.Millisecond)
	rfPos := geo.Position{LatDeg: 34.05251, LonDeg: -118.24401, AltM: 100}
	rfID, created := m.IngestRF(rfPos, 0.8, clock.Now())

	assert.False(t, created)
	assert.Equal(t, id, rfID)

	tr, ok := m.ByID(id)
	require.True(t, ok)
	assert.True(t, tr.HasSource(SourceRF))
	assert.Equal(t, ClassificationHostile, tr.Classification)
	assert.InDelta(t, 0.6, tr.Confidence, 1e-9)
}

// Scenario 3: coast and drop.
func TestScenarioCoastAndDrop(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	rec := &eventRecorder{}
	m := newTestManager(clock, rec)

	pos := geo.Position{LatDeg: 34.0525, LonDeg: -118.2440, AltM: 100}
	id, _ := m.IngestRadar(pos, geo.Velocity{}, 0.8, clock.Now())
	clock.Advance(500 * time.Millisecond)
	m.IngestRF(geo.Position{LatDeg: 34.05251, LonDeg: -118.24401, AltM: 100}, 0.8, clock.Now())

	// advance to just past coasting timeout (2s from last update at t=500ms)
	clock.Advance(2*time.Second + time.Millisecond)
	m.processCycle()
	tr, _ := m.ByID(id)
	assert.Equal(t, StateCoasting, tr.State)
	stateChanges := rec.of(EventTrackStateChanged)
	require.NotEmpty(t, stateChanges)

	// advance to just past drop timeout (10s from last update)
	clock.Advance(8 * time.Second)
	m.processCycle()
	tr, _ = m.ByID(id)
	assert.Equal(t, StateDropped, tr.State)
	dropped := rec.of(EventTrackDropped)
	require.NotEmpty(t, dropped)
}

func TestCapacityRejection(t *testing.T) {
	clock := newFakeClock(time.Now())
	rec := &eventRecorder{}
	cfg := DefaultConfig()
	cfg.MaxTracks = 1
	m := NewManager(cfg, rec.sink, zerolog.Nop())
	m.SetClock(clock)

	_, ok := m.Create(geo.Position{}, SourceRadar)
	require.True(t, ok)

	id, ok := m.Create(geo.Position{LatDeg: 1}, SourceRadar)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestUpdateUnknownTrackIsNoOp(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	m.Update("TRK-9999", geo.Position{})
	assert.Empty(t, rec.of(EventTrackUpdated))
}

func TestDropIsIdempotent(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	id, _ := m.Create(geo.Position{}, SourceRadar)
	m.Drop(id)
	m.Drop(id)
	assert.Len(t, rec.of(EventTrackDropped), 1)
}

func TestHighThreatDetectedOnlyOnStrictIncreaseAcrossFour(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	id, _ := m.Create(geo.Position{}, SourceRadar)

	m.SetThreat(id, 3)
	assert.Empty(t, rec.of(EventHighThreatDetected))

	m.SetThreat(id, 4)
	assert.Len(t, rec.of(EventHighThreatDetected), 1)

	// setting to 4 again (no-op value but re-set) must not fire again
	m.SetThreat(id, 4)
	assert.Len(t, rec.of(EventHighThreatDetected), 1)

	m.SetThreat(id, 5)
	assert.Len(t, rec.of(EventHighThreatDetected), 2)
}

func TestMergeTransfersOnlySources(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	src, _ := m.Create(geo.Position{LatDeg: 1}, SourceRF)
	dst, _ := m.Create(geo.Position{LatDeg: 2}, SourceRadar)
	m.Classify(src, ClassificationHostile, 0.9)

	m.Merge(src, dst)

	dstTrack, ok := m.ByID(dst)
	require.True(t, ok)
	assert.True(t, dstTrack.HasSource(SourceRF))
	assert.True(t, dstTrack.HasSource(SourceRadar))
	// classification NOT transferred
	assert.Equal(t, ClassificationPending, dstTrack.Classification)

	srcTrack, ok := m.ByID(src)
	require.True(t, ok)
	assert.Equal(t, StateDropped, srcTrack.State)
}

func TestByThreatSortedDescending(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	idLow, _ := m.Create(geo.Position{LatDeg: 1}, SourceRadar)
	idHigh, _ := m.Create(geo.Position{LatDeg: 2}, SourceRadar)
	m.SetThreat(idLow, 1)
	m.SetThreat(idHigh, 5)

	sorted := m.ByThreat()
	require.Len(t, sorted, 2)
	assert.Equal(t, idHigh, sorted[0].ID)
	assert.Equal(t, idLow, sorted[1].ID)
}

func TestCoastCountResetsOnMeasurement(t *testing.T) {
	start := time.Now()
	clock := newFakeClock(start)
	rec := &eventRecorder{}
	m := newTestManager(clock, rec)

	id, _ := m.Create(geo.Position{}, SourceRadar)
	clock.Advance(3 * time.Second)
	m.processCycle()
	tr, _ := m.ByID(id)
	assert.Equal(t, StateCoasting, tr.State)
	assert.Greater(t, tr.CoastCount, 0)

	m.Update(id, geo.Position{LatDeg: 0.0001})
	tr, _ = m.ByID(id)
	assert.Equal(t, 0, tr.CoastCount)
	assert.Equal(t, StateActive, tr.State)
}

func TestCameraDetectionSetsAssociation(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())
	id, created := m.IngestCamera(CameraDetection{
		CameraID:     "cam-1",
		BoundingBox:  BoundingBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
		EstimatedPos: geo.Position{LatDeg: 10, LonDeg: 10},
	}, time.Now())
	require.True(t, created)

	tr, ok := m.ByID(id)
	require.True(t, ok)
	assert.Equal(t, "cam-1", tr.AssociatedCameraID)
	assert.True(t, tr.VisuallyTracked)
	assert.True(t, tr.HasSource(SourceCamera))
	require.NotNil(t, tr.BoundingBox)
}

// A brand-new RF-only track never goes through Hostile promotion, even with
// a strong signal: promotion only applies to a detection that correlates
// against an existing track.
func TestNewRFOnlyTrackStaysPending(t *testing.T) {
	rec := &eventRecorder{}
	m := NewManager(DefaultConfig(), rec.sink, zerolog.Nop())

	id, created := m.IngestRF(geo.Position{LatDeg: 34.0525, LonDeg: -118.2440, AltM: 100}, 0.95, time.Now())
	require.True(t, created)

	tr, ok := m.ByID(id)
	require.True(t, ok)
	assert.Equal(t, ClassificationPending, tr.Classification)
}
