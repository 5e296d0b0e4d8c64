package effector

import (
	"time"

	"github.com/cuas/core/pkg/geo"
)

// DirectedEnergyConfig tunes dwell/cooldown timing and power envelope.
type DirectedEnergyConfig struct {
	MinRangeM         float64
	MaxRangeM         float64
	MaxPowerKW        float64
	DwellTimeRequired time.Duration
	CooldownTime      time.Duration
}

// DefaultDirectedEnergyConfig returns the documented defaults: a 100-1000 m
// range, a 2 second dwell requirement and 15 second cooldown.
func DefaultDirectedEnergyConfig() DirectedEnergyConfig {
	return DirectedEnergyConfig{
		MinRangeM:         100,
		MaxRangeM:         1000,
		MaxPowerKW:        30,
		DwellTimeRequired: 2 * time.Second,
		CooldownTime:      15 * time.Second,
	}
}

// DirectedEnergySystem holds full power on target for a required dwell
// period before declaring target effect achieved; unlike the kinetic
// interceptor, it can be disengaged (aborted) at any point during the dwell
// with no penalty beyond forfeiting the engagement and entering cooldown.
type DirectedEnergySystem struct {
	base
	cfg DirectedEnergyConfig

	currentPowerKW float64
	dwellUntil     time.Time
	cooldownUntil  time.Time
	tracking       bool
}

// NewDirectedEnergySystem constructs a directed energy effector, Offline
// until Initialize is called.
func NewDirectedEnergySystem(id, displayName string, sink Sink) *DirectedEnergySystem {
	return &DirectedEnergySystem{base: newBase(id, displayName, sink), cfg: DefaultDirectedEnergyConfig()}
}

// SetConfig overrides timing/power configuration.
func (d *DirectedEnergySystem) SetConfig(cfg DirectedEnergyConfig) { d.cfg = cfg }

func (d *DirectedEnergySystem) Family() Family         { return FamilyDirectedEnergy }
func (d *DirectedEnergySystem) MinRange() float64      { return d.cfg.MinRangeM }
func (d *DirectedEnergySystem) MaxRange() float64      { return d.cfg.MaxRangeM }
func (d *DirectedEnergySystem) Effectiveness() float64 { return 0.9 }

func (d *DirectedEnergySystem) CanEngage(target geo.Position) bool { return genericCanEngage(d, target) }

func (d *DirectedEnergySystem) Initialize(now time.Time) {
	d.setStatus(StatusInitializing)
	d.setStatus(StatusReady)
}

func (d *DirectedEnergySystem) Shutdown(now time.Time) {
	if d.IsEngaged() {
		d.Disengage(now)
	}
	d.setStatus(StatusOffline)
}

func (d *DirectedEnergySystem) Reset(now time.Time) {
	if d.Status() == StatusFault {
		d.setStatus(StatusInitializing)
		d.setStatus(StatusReady)
	}
}

// Engage brings the emitter to full power and begins tracking toward the
// dwell requirement.
func (d *DirectedEnergySystem) Engage(target geo.Position, now time.Time) bool {
	if !d.CanEngage(target) {
		return false
	}
	d.mu.Lock()
	d.currentPowerKW = d.cfg.MaxPowerKW
	d.tracking = true
	d.dwellUntil = now.Add(d.cfg.DwellTimeRequired)
	d.mu.Unlock()

	d.setStatus(StatusEngaged)
	d.recordEngagementStart(now, target)
	return true
}

// Disengage aborts the dwell at any point, always succeeding, and reports
// engagement failure (success=false) before entering cooldown.
func (d *DirectedEnergySystem) Disengage(now time.Time) bool {
	if !d.IsEngaged() {
		return false
	}
	d.mu.Lock()
	d.currentPowerKW = 0
	d.tracking = false
	d.cooldownUntil = now.Add(d.cfg.CooldownTime)
	d.mu.Unlock()

	d.recordEngagementComplete(false)
	d.setStatus(StatusCooldown)
	return true
}

// Tick completes the dwell once its deadline has elapsed (declaring target
// effect achieved) and releases cooldown once it elapses.
func (d *DirectedEnergySystem) Tick(now time.Time) {
	switch d.Status() {
	case StatusEngaged:
		d.mu.RLock()
		due := !d.dwellUntil.IsZero() && !now.Before(d.dwellUntil)
		d.mu.RUnlock()
		if due {
			d.completeDwell(now)
		}
	case StatusCooldown:
		d.mu.RLock()
		due := !d.cooldownUntil.IsZero() && !now.Before(d.cooldownUntil)
		d.mu.RUnlock()
		if due {
			d.setStatus(StatusReady)
		}
	}
}

func (d *DirectedEnergySystem) completeDwell(now time.Time) {
	d.mu.Lock()
	d.currentPowerKW = 0
	d.tracking = false
	d.cooldownUntil = now.Add(d.cfg.CooldownTime)
	d.mu.Unlock()

	d.recordEngagementComplete(true)
	d.setStatus(StatusCooldown)
}

// IsTracking reports whether the emitter currently holds power on target.
func (d *DirectedEnergySystem) IsTracking() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tracking
}

func init() {
	Register(FamilyDirectedEnergy, func(id, displayName string, sink Sink) Effector {
		return NewDirectedEnergySystem(id, displayName, sink)
	})
}
