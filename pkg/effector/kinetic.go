package effector

import (
	"math/rand"
	"time"

	"github.com/cuas/core/pkg/geo"
)

// LaunchPhase is the kinetic interceptor's sub-state while Engaged.
type LaunchPhase string

const (
	PhaseNone      LaunchPhase = ""
	PhaseArming    LaunchPhase = "Arming"
	PhaseLaunching LaunchPhase = "Launching"
	PhaseInFlight  LaunchPhase = "InFlight"
	PhaseTerminal  LaunchPhase = "Terminal"
	PhaseComplete  LaunchPhase = "Complete"
)

// KineticInterceptorConfig tunes round count, phase timing, and the
// intercept probability roll.
type KineticInterceptorConfig struct {
	MinRangeM          float64
	MaxRangeM          float64
	ArmingTime         time.Duration
	MinFlightTime      time.Duration
	MaxFlightTime      time.Duration
	ClosingSpeedMps    float64 // used to derive flight time from range
	TerminalTime       time.Duration
	PostCompleteTime   time.Duration
	InterceptProbability float64
	MagazineRounds     int
	ReloadTime         time.Duration
}

// DefaultKineticInterceptorConfig returns the documented defaults: 500ms
// arming, flight time derived from range at 100 m/s closing speed and
// clamped to [1s, configured max], 500ms terminal dwell, 1s post-complete
// settle, 85% intercept probability, 10-round magazine, 20s reload.
func DefaultKineticInterceptorConfig() KineticInterceptorConfig {
	return KineticInterceptorConfig{
		MinRangeM:            50,
		MaxRangeM:             5000,
		ArmingTime:            500 * time.Millisecond,
		MinFlightTime:         1 * time.Second,
		MaxFlightTime:         15 * time.Second,
		ClosingSpeedMps:       100,
		TerminalTime:          500 * time.Millisecond,
		PostCompleteTime:      1 * time.Second,
		InterceptProbability:  0.85,
		MagazineRounds:        10,
		ReloadTime:            20 * time.Second,
	}
}

// RandomSource supplies the intercept-probability roll. Tests substitute a
// deterministic implementation; production uses math/rand.
type RandomSource interface {
	Float64() float64
}

// KineticInterceptor runs a five-phase launch sequence
// (Arming->Launching->InFlight->Terminal->Complete) per engagement, then
// returns to Ready if rounds remain or Reloading otherwise. Disengage can
// only abort the Arming phase; once the round launches, an abort is
// refused.
type KineticInterceptor struct {
	base
	cfg    KineticInterceptorConfig
	random RandomSource

	phase           LaunchPhase
	phaseDeadline   time.Time
	pendingFlight   time.Duration
	remainingRounds int
	reloadUntil     time.Time
	lastInterceptOK bool
}

// NewKineticInterceptor constructs a kinetic interceptor with a full
// magazine, Offline until Initialize is called.
func NewKineticInterceptor(id, displayName string, sink Sink) *KineticInterceptor {
	cfg := DefaultKineticInterceptorConfig()
	return &KineticInterceptor{
		base:            newBase(id, displayName, sink),
		cfg:             cfg,
		random:          defaultRandomSource{},
		remainingRounds: cfg.MagazineRounds,
	}
}

// SetConfig overrides timing/capacity configuration.
func (k *KineticInterceptor) SetConfig(cfg KineticInterceptorConfig) {
	k.cfg = cfg
	if k.remainingRounds > cfg.MagazineRounds {
		k.remainingRounds = cfg.MagazineRounds
	}
}

// SetRandomSource overrides the intercept-probability roll source; intended
// for deterministic tests.
func (k *KineticInterceptor) SetRandomSource(r RandomSource) { k.random = r }

func (k *KineticInterceptor) Family() Family         { return FamilyKineticInterceptor }
func (k *KineticInterceptor) MinRange() float64      { return k.cfg.MinRangeM }
func (k *KineticInterceptor) MaxRange() float64      { return k.cfg.MaxRangeM }
func (k *KineticInterceptor) Effectiveness() float64 { return k.cfg.InterceptProbability }

func (k *KineticInterceptor) CanEngage(target geo.Position) bool {
	if !genericCanEngage(k, target) {
		return false
	}
	k.mu.RLock()
	rounds := k.remainingRounds
	k.mu.RUnlock()
	return rounds > 0
}

// Phase returns the current launch sub-phase, PhaseNone when not Engaged.
func (k *KineticInterceptor) Phase() LaunchPhase {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.phase
}

// RemainingRounds returns the interceptor's current magazine count.
func (k *KineticInterceptor) RemainingRounds() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.remainingRounds
}

func (k *KineticInterceptor) Initialize(now time.Time) {
	k.setStatus(StatusInitializing)
	k.setStatus(StatusReady)
}

func (k *KineticInterceptor) Shutdown(now time.Time) {
	if k.IsEngaged() {
		k.Disengage(now)
	}
	k.setStatus(StatusOffline)
}

func (k *KineticInterceptor) Reset(now time.Time) {
	if k.Status() == StatusFault {
		k.setStatus(StatusInitializing)
		k.setStatus(StatusReady)
	}
}

// Engage begins the Arming phase. The round does not actually fire until
// Tick advances it through Launching.
func (k *KineticInterceptor) Engage(target geo.Position, now time.Time) bool {
	if !k.CanEngage(target) {
		return false
	}
	k.mu.Lock()
	k.phase = PhaseArming
	k.phaseDeadline = now.Add(k.cfg.ArmingTime)
	k.mu.Unlock()

	k.setStatus(StatusEngaged)
	k.recordEngagementStart(now, target)
	return true
}

// Disengage aborts the engagement, but only while still in the Arming
// phase; once the round has begun launching it cannot be recalled, matching
// the reference interceptor's refusal to abort mid-flight.
func (k *KineticInterceptor) Disengage(now time.Time) bool {
	k.mu.Lock()
	if k.health.Status != StatusEngaged || k.phase != PhaseArming {
		k.mu.Unlock()
		return false
	}
	k.phase = PhaseNone
	k.mu.Unlock()

	k.recordEngagementComplete(false)
	k.setStatus(StatusReady)
	return true
}

// Tick advances the launch sequence by one step if its phase deadline has
// elapsed.
func (k *KineticInterceptor) Tick(now time.Time) {
	if k.Status() == StatusReloading {
		k.mu.RLock()
		due := !k.reloadUntil.IsZero() && !now.Before(k.reloadUntil)
		k.mu.RUnlock()
		if due {
			k.setStatus(StatusReady)
		}
		return
	}

	if !k.IsEngaged() {
		return
	}

	k.mu.RLock()
	phase := k.phase
	due := !k.phaseDeadline.IsZero() && !now.Before(k.phaseDeadline)
	target := k.currentTarget
	k.mu.RUnlock()
	if !due {
		return
	}

	switch phase {
	case PhaseArming:
		k.advanceToLaunching(now, target)
	case PhaseLaunching:
		k.advanceToInFlight(now)
	case PhaseInFlight:
		k.advanceToTerminal(now)
	case PhaseTerminal:
		k.resolveIntercept(now)
	case PhaseComplete:
		k.recycleAfterEngagement(now)
	}
}

func (k *KineticInterceptor) advanceToLaunching(now time.Time, target geo.Position) {
	k.mu.Lock()
	k.remainingRounds--
	k.phase = PhaseLaunching
	// Flight time derives from closing range, clamped to the configured
	// bounds, mirroring the reference interceptor's qBound(minFlight,
	// range/closingSpeed, maxFlight).
	dist := geo.Distance(k.position, target)
	flight := time.Duration(dist / k.cfg.ClosingSpeedMps * float64(time.Second))
	if flight < k.cfg.MinFlightTime {
		flight = k.cfg.MinFlightTime
	}
	if flight > k.cfg.MaxFlightTime {
		flight = k.cfg.MaxFlightTime
	}
	// Launching is a brief pyrotechnic phase; its own deadline is fixed
	// and short, with InFlight carrying the derived flight duration.
	k.phaseDeadline = now.Add(200 * time.Millisecond)
	k.pendingFlight = flight
	k.mu.Unlock()
}

func (k *KineticInterceptor) advanceToInFlight(now time.Time) {
	k.mu.Lock()
	k.phase = PhaseInFlight
	k.phaseDeadline = now.Add(k.pendingFlight)
	k.mu.Unlock()
}

func (k *KineticInterceptor) advanceToTerminal(now time.Time) {
	k.mu.Lock()
	k.phase = PhaseTerminal
	k.phaseDeadline = now.Add(k.cfg.TerminalTime)
	k.mu.Unlock()
}

func (k *KineticInterceptor) resolveIntercept(now time.Time) {
	success := k.random.Float64() < k.cfg.InterceptProbability
	k.mu.Lock()
	k.lastInterceptOK = success
	k.phase = PhaseComplete
	k.phaseDeadline = now.Add(k.cfg.PostCompleteTime)
	k.mu.Unlock()
	k.recordEngagementComplete(success)
}

func (k *KineticInterceptor) recycleAfterEngagement(now time.Time) {
	k.mu.Lock()
	k.phase = PhaseNone
	rounds := k.remainingRounds
	k.mu.Unlock()

	if rounds > 0 {
		k.setStatus(StatusReady)
		return
	}
	k.mu.Lock()
	k.reloadUntil = now.Add(k.cfg.ReloadTime)
	k.mu.Unlock()
	k.setStatus(StatusReloading)
}

// LastInterceptSucceeded reports the outcome of the most recently completed
// engagement.
func (k *KineticInterceptor) LastInterceptSucceeded() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.lastInterceptOK
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 { return rand.Float64() }

func init() {
	Register(FamilyKineticInterceptor, func(id, displayName string, sink Sink) Effector {
		return NewKineticInterceptor(id, displayName, sink)
	})
}
