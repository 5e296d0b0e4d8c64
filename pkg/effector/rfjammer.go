package effector

import (
	"time"

	"github.com/cuas/core/pkg/geo"
)

// RFJammerConfig tunes engagement/cooldown timing and power envelope.
// Defaults mirror the reference jammer: a 30 second engagement window and
// a 5 second cooldown.
type RFJammerConfig struct {
	MinRangeM        float64
	MaxRangeM        float64
	DefaultPowerW    float64
	MaxPowerW        float64
	JamFrequenciesMHz []float64
	EngagementTime   time.Duration
	CooldownTime     time.Duration
}

// DefaultRFJammerConfig returns the documented defaults.
func DefaultRFJammerConfig() RFJammerConfig {
	return RFJammerConfig{
		MinRangeM:         50,
		MaxRangeM:         2000,
		DefaultPowerW:     50,
		MaxPowerW:         200,
		JamFrequenciesMHz: []float64{2400, 5800},
		EngagementTime:    30 * time.Second,
		CooldownTime:      5 * time.Second,
	}
}

// RFJammer cycles Ready -> Engaged -> Cooldown -> Ready. Engagement ends
// either by an explicit Disengage or by the engagement timer elapsing, both
// of which start the cooldown.
type RFJammer struct {
	base
	cfg RFJammerConfig

	currentPowerW float64
	engagedUntil  time.Time
	cooldownUntil time.Time
}

// NewRFJammer constructs an RF jammer effector in the Offline state;
// Initialize must be called before it can engage.
func NewRFJammer(id, displayName string, sink Sink) *RFJammer {
	return &RFJammer{base: newBase(id, displayName, sink), cfg: DefaultRFJammerConfig()}
}

// SetConfig overrides the jammer's timing/power configuration.
func (j *RFJammer) SetConfig(cfg RFJammerConfig) { j.cfg = cfg }

func (j *RFJammer) Family() Family    { return FamilyRFJammer }
func (j *RFJammer) MinRange() float64 { return j.cfg.MinRangeM }
func (j *RFJammer) MaxRange() float64 { return j.cfg.MaxRangeM }

// Effectiveness is fixed; jamming has no probabilistic kill chance, only a
// binary engaged/not-engaged effect.
func (j *RFJammer) Effectiveness() float64 { return 0.8 }

func (j *RFJammer) CanEngage(target geo.Position) bool { return genericCanEngage(j, target) }

// Initialize transitions Offline -> Ready immediately; the reference
// engine's two second simulated boot delay is modeled as zero-cost here
// since the cadence loop ticks far more often than any caller would poll
// status during boot.
func (j *RFJammer) Initialize(now time.Time) {
	j.setStatus(StatusInitializing)
	j.setStatus(StatusReady)
}

func (j *RFJammer) Shutdown(now time.Time) {
	if j.IsEngaged() {
		j.Disengage(now)
	}
	j.setStatus(StatusOffline)
}

func (j *RFJammer) Reset(now time.Time) {
	if j.Status() == StatusFault {
		j.setStatus(StatusInitializing)
		j.setStatus(StatusReady)
	}
}

// Engage starts jamming at the configured default power; the engagement
// timer is satisfied by Tick.
func (j *RFJammer) Engage(target geo.Position, now time.Time) bool {
	if !j.CanEngage(target) {
		return false
	}
	j.mu.Lock()
	j.currentPowerW = j.cfg.DefaultPowerW
	j.engagedUntil = now.Add(j.cfg.EngagementTime)
	j.mu.Unlock()

	j.setStatus(StatusEngaged)
	j.recordEngagementStart(now, target)
	return true
}

// Disengage can be called at any time while Engaged; it always succeeds and
// starts the cooldown timer.
func (j *RFJammer) Disengage(now time.Time) bool {
	if !j.IsEngaged() {
		return false
	}
	j.mu.Lock()
	j.currentPowerW = 0
	j.cooldownUntil = now.Add(j.cfg.CooldownTime)
	j.mu.Unlock()

	j.recordEngagementComplete(true)
	j.setStatus(StatusCooldown)
	return true
}

// Tick advances the engagement and cooldown timers.
func (j *RFJammer) Tick(now time.Time) {
	switch j.Status() {
	case StatusEngaged:
		j.mu.RLock()
		due := !j.engagedUntil.IsZero() && !now.Before(j.engagedUntil)
		j.mu.RUnlock()
		if due {
			j.Disengage(now)
		}
	case StatusCooldown:
		j.mu.RLock()
		due := !j.cooldownUntil.IsZero() && !now.Before(j.cooldownUntil)
		j.mu.RUnlock()
		if due {
			j.setStatus(StatusReady)
		}
	}
}

func init() {
	Register(FamilyRFJammer, func(id, displayName string, sink Sink) Effector {
		return NewRFJammer(id, displayName, sink)
	})
}
