package effector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuas/core/pkg/geo"
)

func recordingSink(events *[]Event) Sink {
	return func(e Event) { *events = append(*events, e) }
}

func TestRFJammerEngageCompletesCooldownCycle(t *testing.T) {
	var events []Event
	j := NewRFJammer("jam-1", "Jammer One", recordingSink(&events))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j.Initialize(now)
	require.True(t, j.IsReady())

	target := geo.Position{LatDeg: 0.001}
	require.True(t, j.Engage(target, now))
	assert.Equal(t, StatusEngaged, j.Status())

	now = now.Add(j.cfg.EngagementTime + time.Millisecond)
	j.Tick(now)
	assert.Equal(t, StatusCooldown, j.Status())

	now = now.Add(j.cfg.CooldownTime + time.Millisecond)
	j.Tick(now)
	assert.Equal(t, StatusReady, j.Status())
}

func TestRFJammerOutOfRangeRefusesEngage(t *testing.T) {
	j := NewRFJammer("jam-2", "Jammer Two", nil)
	now := time.Now()
	j.Initialize(now)
	far := geo.Position{LatDeg: 50}
	assert.False(t, j.Engage(far, now))
	assert.Equal(t, StatusReady, j.Status())
}

func TestKineticInterceptorAbortOnlyDuringArming(t *testing.T) {
	k := NewKineticInterceptor("kin-1", "Interceptor One", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k.Initialize(now)
	target := geo.Position{LatDeg: 0.01}

	require.True(t, k.Engage(target, now))
	assert.Equal(t, PhaseArming, k.Phase())
	assert.True(t, k.Disengage(now))
	assert.Equal(t, StatusReady, k.Status())

	require.True(t, k.Engage(target, now))
	now = now.Add(k.cfg.ArmingTime + time.Millisecond)
	k.Tick(now) // -> Launching
	assert.Equal(t, PhaseLaunching, k.Phase())
	assert.False(t, k.Disengage(now), "abort must be refused once launch has begun")
	assert.Equal(t, StatusEngaged, k.Status())
}

func TestKineticInterceptorFullSequenceToCompleteAndReload(t *testing.T) {
	k := NewKineticInterceptor("kin-2", "Interceptor Two", nil)
	k.SetConfig(KineticInterceptorConfig{
		MinRangeM: 0, MaxRangeM: 5000,
		ArmingTime: 10 * time.Millisecond, MinFlightTime: 10 * time.Millisecond,
		MaxFlightTime: 50 * time.Millisecond, ClosingSpeedMps: 100,
		TerminalTime: 10 * time.Millisecond, PostCompleteTime: 10 * time.Millisecond,
		InterceptProbability: 1.0, MagazineRounds: 1, ReloadTime: 100 * time.Millisecond,
	})
	k.SetRandomSource(fixedRandom{v: 0})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k.Initialize(now)
	target := geo.Position{LatDeg: 0.001}

	require.True(t, k.Engage(target, now))
	// The round is only spent on entering Launching; Arming can still abort.
	require.Equal(t, 1, k.RemainingRounds())

	// Arming -> Launching
	now = now.Add(11 * time.Millisecond)
	k.Tick(now)
	assert.Equal(t, PhaseLaunching, k.Phase())
	assert.Equal(t, 0, k.RemainingRounds())

	// Launching -> InFlight
	now = now.Add(201 * time.Millisecond)
	k.Tick(now)
	assert.Equal(t, PhaseInFlight, k.Phase())

	// InFlight -> Terminal
	now = now.Add(51 * time.Millisecond)
	k.Tick(now)
	assert.Equal(t, PhaseTerminal, k.Phase())

	// Terminal -> Complete
	now = now.Add(11 * time.Millisecond)
	k.Tick(now)
	assert.Equal(t, PhaseComplete, k.Phase())
	assert.True(t, k.LastInterceptSucceeded())

	// Complete -> Reloading (no rounds left)
	now = now.Add(11 * time.Millisecond)
	k.Tick(now)
	assert.Equal(t, StatusReloading, k.Status())

	now = now.Add(101 * time.Millisecond)
	k.Tick(now)
	assert.Equal(t, StatusReady, k.Status())
}

type fixedRandom struct{ v float64 }

func (f fixedRandom) Float64() float64 { return f.v }

func TestDirectedEnergyDwellCompletesThenCooldown(t *testing.T) {
	d := NewDirectedEnergySystem("de-1", "DE One", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Initialize(now)
	target := geo.Position{LatDeg: 0.001}

	require.True(t, d.Engage(target, now))
	assert.True(t, d.IsTracking())

	now = now.Add(d.cfg.DwellTimeRequired + time.Millisecond)
	d.Tick(now)
	assert.Equal(t, StatusCooldown, d.Status())
	assert.False(t, d.IsTracking())

	now = now.Add(d.cfg.CooldownTime + time.Millisecond)
	d.Tick(now)
	assert.Equal(t, StatusReady, d.Status())
}

func TestDirectedEnergyCanAbortMidDwell(t *testing.T) {
	d := NewDirectedEnergySystem("de-2", "DE Two", nil)
	now := time.Now()
	d.Initialize(now)
	target := geo.Position{LatDeg: 0.001}
	require.True(t, d.Engage(target, now))

	assert.True(t, d.Disengage(now))
	assert.Equal(t, StatusCooldown, d.Status())
}

func TestRegistryCreatesEachFamily(t *testing.T) {
	for _, fam := range []Family{FamilyRFJammer, FamilyKineticInterceptor, FamilyDirectedEnergy} {
		eff, err := Create(fam, "id-"+string(fam), "display", nil)
		require.NoError(t, err)
		assert.Equal(t, fam, eff.Family())
	}
}

func TestRegistryUnknownFamilyErrors(t *testing.T) {
	_, err := Create(Family("bogus"), "id", "display", nil)
	assert.Error(t, err)
}
