package threat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/track"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type alertRecorder struct{ alerts []Alert }

func (r *alertRecorder) NewAlert(a Alert) { r.alerts = append(r.alerts, a) }

func newTestAssessor(t *testing.T) (*Assessor, *track.Manager, *fakeClock, *alertRecorder) {
	t.Helper()
	tm := track.NewManager(track.DefaultConfig(), nil, zerolog.Nop())
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tm.SetClock(clock)
	rec := &alertRecorder{}
	a := New(DefaultConfig(), tm, rec, zerolog.Nop())
	a.SetClock(clock)
	return a, tm, clock, rec
}

func TestFriendlyTrackScoresZero(t *testing.T) {
	a, tm, clock, _ := newTestAssessor(t)
	id, _ := tm.Create(geo.Position{}, track.SourceRadar)
	tm.Classify(id, track.ClassificationFriendly, 0.9)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Position: geo.Position{}, CriticalRadius: 50, WarningRadius: 500})

	a.RunCycle()
	tr, _ := tm.ByID(id)
	assert.Equal(t, 0, tr.ThreatLevel)
	_ = clock
}

func TestHostileWithinCriticalRadiusScoresMax(t *testing.T) {
	a, tm, _, _ := newTestAssessor(t)
	pos := geo.Position{LatDeg: 34.0, LonDeg: -118.0}
	id, _ := tm.Create(pos, track.SourceRadar)
	tm.Classify(id, track.ClassificationHostile, 0.9)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Name: "Base One", Position: pos, CriticalRadius: 50, WarningRadius: 500})

	a.RunCycle()
	tr, _ := tm.ByID(id)
	assert.Equal(t, 5, tr.ThreatLevel)
}

func TestHighThreatAlertFiresOnlyOnUpwardTransition(t *testing.T) {
	a, tm, _, rec := newTestAssessor(t)
	pos := geo.Position{LatDeg: 34.0, LonDeg: -118.0}
	id, _ := tm.Create(pos, track.SourceRadar)
	tm.Classify(id, track.ClassificationHostile, 0.9)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Name: "Base One", Position: pos, CriticalRadius: 50, WarningRadius: 500})

	a.RunCycle()
	firstCount := len(rec.alerts)
	require.Greater(t, firstCount, 0)

	a.RunCycle()
	assert.Len(t, rec.alerts, firstCount, "steady-state level must not re-raise a threat alert")
}

func TestDistantHostileScoresLow(t *testing.T) {
	a, tm, _, _ := newTestAssessor(t)
	base := geo.Position{LatDeg: 34.0, LonDeg: -118.0}
	far := geo.Position{LatDeg: 35.0, LonDeg: -118.0}
	id, _ := tm.Create(far, track.SourceRadar)
	tm.Classify(id, track.ClassificationHostile, 0.9)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Position: base, CriticalRadius: 50, WarningRadius: 500})

	a.RunCycle()
	tr, _ := tm.ByID(id)
	assert.Equal(t, 0, tr.ThreatLevel)
}

func TestAssetBreachRaisesAlertEvenWithoutLevelChange(t *testing.T) {
	a, tm, _, rec := newTestAssessor(t)
	pos := geo.Position{LatDeg: 34.0, LonDeg: -118.0}
	id, _ := tm.Create(pos, track.SourceRadar)
	tm.Classify(id, track.ClassificationNeutral, 0.5)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Name: "Base One", Position: pos, CriticalRadius: 50, WarningRadius: 500})

	a.RunCycle()
	found := false
	for _, al := range rec.alerts {
		if al.AssetID == "base-1" && al.Severity == SeverityCritical {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSnapshotMetricsCountsHostileAndCritical(t *testing.T) {
	a, tm, _, _ := newTestAssessor(t)
	base := geo.Position{LatDeg: 34.0, LonDeg: -118.0}
	id1, _ := tm.Create(base, track.SourceRadar)
	tm.Classify(id1, track.ClassificationHostile, 0.9)
	id2, _ := tm.Create(geo.Position{LatDeg: 50}, track.SourceRadar)
	tm.Classify(id2, track.ClassificationNeutral, 0.5)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Position: base, CriticalRadius: 50, WarningRadius: 500})

	a.RunCycle()
	m := a.SnapshotMetrics()
	assert.Equal(t, 1, m.HostileCount)
	assert.Equal(t, 1, m.CriticalCount)
}

func TestDefendedAssetCRUD(t *testing.T) {
	a, _, _, _ := newTestAssessor(t)
	a.AddDefendedAsset(DefendedAsset{ID: "base-1", Name: "Base One"})
	a.AddDefendedAsset(DefendedAsset{ID: "base-2", Name: "Base Two"})
	require.Len(t, a.DefendedAssets(), 2)

	a.RemoveDefendedAsset("base-1")
	assets := a.DefendedAssets()
	require.Len(t, assets, 1)
	assert.Equal(t, "base-2", assets[0].ID)
}

func TestAlertRingCapacityBounded(t *testing.T) {
	a, _, clock, _ := newTestAssessor(t)
	a.cfg.AlertRingCapacity = 3
	for i := 0; i < 10; i++ {
		a.appendAlert(Alert{ID: a.newAlertID(), At: clock.Now()})
	}
	assert.Len(t, a.Alerts(), 3)
}
