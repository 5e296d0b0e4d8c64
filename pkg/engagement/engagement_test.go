package engagement

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuas/core/pkg/effector"
	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/track"
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

// stubEffector is a minimal hand-driven Effector double for testing the
// engagement workflow in isolation from any real effector family's timing.
type stubEffector struct {
	mu       sync.Mutex
	id       string
	family   effector.Family
	ready    bool
	engaged  bool
	engageOK bool
	minRange float64
	maxRange float64
}

func (s *stubEffector) ID() string                 { return s.id }
func (s *stubEffector) Family() effector.Family     { return s.family }
func (s *stubEffector) DisplayName() string         { return s.id }
func (s *stubEffector) Position() geo.Position      { return geo.Position{} }
func (s *stubEffector) SetPosition(geo.Position)    {}
func (s *stubEffector) Health() effector.Health      { return effector.Health{} }
func (s *stubEffector) MinRange() float64           { return s.minRange }
func (s *stubEffector) MaxRange() float64           { return s.maxRange }
func (s *stubEffector) Effectiveness() float64      { return 0.8 }
func (s *stubEffector) Initialize(now time.Time)    {}
func (s *stubEffector) Shutdown(now time.Time)      {}
func (s *stubEffector) Reset(now time.Time)         {}
func (s *stubEffector) Tick(now time.Time)          {}

func (s *stubEffector) Status() effector.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engaged {
		return effector.StatusEngaged
	}
	if s.ready {
		return effector.StatusReady
	}
	return effector.StatusOffline
}

func (s *stubEffector) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.engaged
}

func (s *stubEffector) IsEngaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engaged
}

func (s *stubEffector) CanEngage(target geo.Position) bool {
	return s.IsReady()
}

func (s *stubEffector) Engage(target geo.Position, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.engaged || !s.engageOK {
		return false
	}
	s.engaged = true
	return true
}

func (s *stubEffector) Disengage(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.engaged {
		return false
	}
	s.engaged = false
	return true
}

// finishEngagement simulates the effector completing on its own (a kill or
// a miss resolved), the way a real family's Tick would leave it un-engaged.
func (s *stubEffector) finishEngagement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engaged = false
}

func newStubEffector(id string, fam effector.Family) *stubEffector {
	return &stubEffector{id: id, family: fam, ready: true, engageOK: true, minRange: 0, maxRange: 10000}
}

func newTestSetup(t *testing.T) (*Manager, *track.Manager, *fakeClock, *eventRecorder) {
	t.Helper()
	logger := zerolog.Nop()
	tracks := track.NewManager(track.DefaultConfig(), nil, logger)
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tracks.SetClock(clock)

	rec := &eventRecorder{}
	cfg := DefaultConfig()
	cfg.AuthorizationTimeout = 5 * time.Second
	mgr := New(cfg, tracks, geo.Position{LatDeg: 0, LonDeg: 0}, rec.sink, logger)
	mgr.SetClock(clock)
	return mgr, tracks, clock, rec
}

func createHostileTrack(t *testing.T, tracks *track.Manager, lat float64) string {
	t.Helper()
	id, ok := tracks.Create(geo.Position{LatDeg: lat, LonDeg: 0}, track.SourceRadar)
	require.True(t, ok)
	tracks.Classify(id, track.ClassificationHostile, 1.0)
	tracks.SetThreat(id, 4)
	return id
}

func TestSelectTrackRecommendsAndRequestsAuthorization(t *testing.T) {
	mgr, tracks, _, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)

	eff := newStubEffector("eff-1", effector.FamilyRFJammer)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	assert.Equal(t, StateEffectorRecommended, mgr.State())
	assert.Equal(t, "eff-1", mgr.selectedEffector)

	mgr.RequestAuthorization()
	assert.Equal(t, StateAwaitingAuthorization, mgr.State())
	require.Len(t, rec.of(EventAuthorizationRequested), 1)
}

func TestAuthorizeExecuteCompleteFullCycle(t *testing.T) {
	mgr, tracks, clock, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyKineticInterceptor)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()
	mgr.Authorize("operator-1")
	assert.Equal(t, StateAuthorized, mgr.State())

	mgr.Execute()
	assert.Equal(t, StateEngaging, mgr.State())
	assert.True(t, eff.IsEngaged())

	eff.finishEngagement()
	clock.Advance(10 * time.Millisecond)
	mgr.Tick()

	assert.Equal(t, StateCompleted, mgr.State())
	require.Len(t, rec.of(EventCompleted), 1)

	stats := mgr.Statistics()
	assert.Equal(t, 1, stats.TotalEngagements)
	assert.Equal(t, 1, stats.SuccessfulEngagements)

	history := mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, "operator-1", history[0].OperatorID)
	assert.False(t, history[0].CompletionTime.IsZero())
}

func TestDenyFinalizesAsAborted(t *testing.T) {
	mgr, tracks, _, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyRFJammer)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()
	mgr.Deny("insufficient positive ID")

	assert.Equal(t, StateAborted, mgr.State())
	stats := mgr.Statistics()
	assert.Equal(t, 1, stats.TotalEngagements)
	assert.Equal(t, 1, stats.AbortedEngagements)

	denied := rec.of(EventAuthorizationDenied)
	require.Len(t, denied, 1)
	assert.NotEmpty(t, denied[0].EngagementID, "denied event must carry the finalized engagement id")
}

func TestAuthorizationTimeoutAbortsAtDeadline(t *testing.T) {
	mgr, tracks, clock, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyRFJammer)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()

	clock.Advance(4999 * time.Millisecond)
	mgr.Tick()
	assert.Equal(t, StateAwaitingAuthorization, mgr.State(), "must not time out before the deadline")

	clock.Advance(2 * time.Millisecond)
	mgr.Tick()
	assert.Equal(t, StateAborted, mgr.State())

	timeouts := rec.of(EventAuthorizationTimeout)
	require.Len(t, timeouts, 1)
	assert.NotEmpty(t, timeouts[0].EngagementID)

	stats := mgr.Statistics()
	assert.Equal(t, 1, stats.AbortedEngagements)
}

func TestAbortWhileEngagingDisengagesEffector(t *testing.T) {
	mgr, tracks, _, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyDirectedEnergy)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()
	mgr.Authorize("operator-1")
	mgr.Execute()
	require.True(t, eff.IsEngaged())

	mgr.Abort("operator cancel")

	assert.Equal(t, StateAborted, mgr.State())
	assert.False(t, eff.IsEngaged(), "abort must disengage the effector that was mid-engagement")

	aborted := rec.of(EventAborted)
	require.Len(t, aborted, 1)
	assert.NotEmpty(t, aborted[0].EngagementID, "aborted event must carry the finalized engagement id, not an empty string")
	assert.Equal(t, "operator cancel", aborted[0].Reason)
}

func TestSelectTrackImplicitlyAbortsInFlightEngagement(t *testing.T) {
	mgr, tracks, _, rec := newTestSetup(t)
	first := createHostileTrack(t, tracks, 0.01)
	second := createHostileTrack(t, tracks, 0.02)
	eff := newStubEffector("eff-1", effector.FamilyRFJammer)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(first)
	mgr.RequestAuthorization()
	require.Equal(t, StateAwaitingAuthorization, mgr.State())

	mgr.SelectTrack(second)

	assert.Equal(t, second, mgr.selectedTrackID)
	stats := mgr.Statistics()
	assert.Equal(t, 1, stats.AbortedEngagements, "reselecting must abort whatever was in flight")

	aborted := rec.of(EventAborted)
	require.Len(t, aborted, 1)
	assert.Equal(t, "new track selected", aborted[0].Reason)
}

func TestTrackDroppedWhileEngagingMarksAssessmentPending(t *testing.T) {
	mgr, tracks, clock, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyKineticInterceptor)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()
	mgr.Authorize("operator-1")
	mgr.Execute()
	require.Equal(t, StateEngaging, mgr.State())

	tracks.Drop(trackID)
	clock.Advance(time.Millisecond)

	// The effector is still engaged (no kill resolved yet): a track drop
	// alone does not complete the engagement.
	assert.Equal(t, StateEngaging, mgr.State())

	eff.finishEngagement()
	mgr.Tick()

	assert.Equal(t, StateCompleted, mgr.State())
	completed := rec.of(EventCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, BDAAssessmentPending, completed[0].BDAResult)
}

func TestTrackDroppedWhileAwaitingAuthorizationAborts(t *testing.T) {
	mgr, tracks, _, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyRFJammer)
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()

	tracks.Drop(trackID)
	// newTestSetup builds the track manager without a sink, so the drop is
	// forwarded by hand the way the engagement agent's track sink does.
	mgr.HandleTrackEvent(track.Event{Type: track.EventTrackDropped, TrackID: trackID})

	assert.Equal(t, StateAborted, mgr.State())
	aborted := rec.of(EventAborted)
	require.Len(t, aborted, 1)
	assert.Equal(t, "target track dropped", aborted[0].Reason)
}

func TestExecuteFailsWhenEffectorRefusesEngagement(t *testing.T) {
	mgr, tracks, _, rec := newTestSetup(t)
	trackID := createHostileTrack(t, tracks, 0.01)
	eff := newStubEffector("eff-1", effector.FamilyRFJammer)
	eff.engageOK = false
	mgr.RegisterEffector(eff)

	mgr.SelectTrack(trackID)
	mgr.RequestAuthorization()
	mgr.Authorize("operator-1")
	mgr.Execute()

	assert.Equal(t, StateFailed, mgr.State())
	stats := mgr.Statistics()
	assert.Equal(t, 1, stats.FailedEngagements)
	failed := rec.of(EventFailed)
	require.Len(t, failed, 1)
}

func TestCalculateEffectorScorePrefersRFJammerForUnclassifiedTrack(t *testing.T) {
	mgr, tracks, _, _ := newTestSetup(t)
	id, ok := tracks.Create(geo.Position{LatDeg: 0.01, LonDeg: 0}, track.SourceRadar)
	require.True(t, ok)
	tr, _ := tracks.ByID(id)

	jammer := newStubEffector("jam", effector.FamilyRFJammer)
	kinetic := newStubEffector("kin", effector.FamilyKineticInterceptor)

	jammerScore := mgr.calculateEffectorScore(jammer, tr)
	kineticScore := mgr.calculateEffectorScore(kinetic, tr)

	assert.Greater(t, jammerScore, kineticScore, "RF jammer gets a preference bonus against an unclassified track")
}

func TestCalculateEffectorScoreZeroOutsideRange(t *testing.T) {
	mgr, tracks, _, _ := newTestSetup(t)
	id, ok := tracks.Create(geo.Position{LatDeg: 5, LonDeg: 0}, track.SourceRadar)
	require.True(t, ok)
	tr, _ := tracks.ByID(id)

	near := newStubEffector("near", effector.FamilyRFJammer)
	near.maxRange = 1000

	assert.Equal(t, float64(0), mgr.calculateEffectorScore(near, tr))
}
