// Package effector defines the polymorphic effector contract (C6) and its
// three concrete families: RF jammer, kinetic interceptor, and directed
// energy. Every family drives its own internal timed state machine through
// Tick, matching the cadence-driven pattern used by the track manager and
// threat assessor rather than real per-effector OS timers.
package effector

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuas/core/pkg/geo"
)

// Status is an effector's operational state.
type Status string

const (
	StatusUnknown      Status = "Unknown"
	StatusOffline      Status = "Offline"
	StatusInitializing Status = "Initializing"
	StatusReady        Status = "Ready"
	StatusEngaged      Status = "Engaged"
	StatusReloading    Status = "Reloading"
	StatusCooldown     Status = "Cooldown"
	StatusMaintenance  Status = "Maintenance"
	StatusFault        Status = "Fault"
)

// Family identifies an effector's underlying engagement mechanism.
type Family string

const (
	FamilyRFJammer           Family = "rf_jammer"
	FamilyKineticInterceptor Family = "kinetic_interceptor"
	FamilyDirectedEnergy     Family = "directed_energy"
)

// Health is a point-in-time readiness snapshot.
type Health struct {
	Status            Status
	Readiness         float64
	RemainingRounds   int // -1 for unlimited
	TotalEngagements  int
	FaultMessage      string
	LastEngagementAt  time.Time
	LastMaintenanceAt time.Time
}

// EventType names one of the typed events an effector emits.
type EventType string

const (
	EventStatusChanged      EventType = "effector_status_changed"
	EventEngagementStarted  EventType = "effector_engagement_started"
	EventEngagementComplete EventType = "effector_engagement_complete"
	EventFault              EventType = "effector_fault"
)

// Event is emitted after an effector's internal lock is released.
type Event struct {
	EffectorID string
	Type       EventType
	Status     Status
	Success    bool
	Message    string
}

// Sink receives effector events.
type Sink func(Event)

// Effector is the contract every engagement mechanism implements: identity,
// readiness, range/effectiveness for the recommender, and the
// engage/disengage/tick lifecycle.
type Effector interface {
	ID() string
	Family() Family
	DisplayName() string

	Position() geo.Position
	SetPosition(geo.Position)

	Status() Status
	Health() Health
	IsReady() bool
	IsEngaged() bool

	Engage(target geo.Position, now time.Time) bool
	// Disengage attempts to abort or end the current engagement. It
	// returns false if the effector refuses the abort (a kinetic
	// interceptor's round already in flight cannot be recalled).
	Disengage(now time.Time) bool
	CanEngage(target geo.Position) bool

	MinRange() float64
	MaxRange() float64
	Effectiveness() float64

	Initialize(now time.Time)
	Shutdown(now time.Time)
	Reset(now time.Time)

	// Tick advances the effector's internal timers to now, driving any
	// pending phase transition (arming complete, dwell complete, cooldown
	// complete, and so on). Callers invoke it on every cycle tick,
	// regardless of whether this effector is currently engaged.
	Tick(now time.Time)
}

// base holds the fields and bookkeeping every family shares: identity,
// position, health, current target, and event emission. Families
// embed base and only implement the engagement-specific behavior.
type base struct {
	mu sync.RWMutex

	id          string
	displayName string
	position    geo.Position
	health      Health

	currentTarget geo.Position
	sink          Sink
}

func newBase(id, displayName string, sink Sink) base {
	return base{
		id:          id,
		displayName: displayName,
		sink:        sink,
		health:      Health{Status: StatusOffline, RemainingRounds: -1},
	}
}

func (b *base) ID() string          { return b.id }
func (b *base) DisplayName() string { return b.displayName }

func (b *base) Position() geo.Position { b.mu.RLock(); defer b.mu.RUnlock(); return b.position }
func (b *base) SetPosition(p geo.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = p
}

func (b *base) Status() Status { b.mu.RLock(); defer b.mu.RUnlock(); return b.health.Status }
func (b *base) Health() Health { b.mu.RLock(); defer b.mu.RUnlock(); return b.health }
func (b *base) IsReady() bool  { return b.Status() == StatusReady }
func (b *base) IsEngaged() bool { return b.Status() == StatusEngaged }

func (b *base) distanceToTarget(target geo.Position) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return geo.Distance(b.position, target)
}

// setStatus mutates status under lock and emits statusChanged after
// release, never under it.
func (b *base) setStatus(status Status) {
	b.mu.Lock()
	changed := b.health.Status != status
	b.health.Status = status
	b.mu.Unlock()

	if changed {
		b.emit(Event{EffectorID: b.id, Type: EventStatusChanged, Status: status})
	}
}

func (b *base) reportFault(message string) {
	b.mu.Lock()
	b.health.FaultMessage = message
	b.health.Status = StatusFault
	b.mu.Unlock()

	b.emit(Event{EffectorID: b.id, Type: EventFault, Status: StatusFault, Message: message})
}

func (b *base) emit(e Event) {
	if b.sink != nil {
		b.sink(e)
	}
}

func (b *base) recordEngagementStart(now time.Time, target geo.Position) {
	b.mu.Lock()
	b.currentTarget = target
	b.health.TotalEngagements++
	b.health.LastEngagementAt = now
	b.mu.Unlock()
	b.emit(Event{EffectorID: b.id, Type: EventEngagementStarted})
}

func (b *base) recordEngagementComplete(success bool) {
	b.emit(Event{EffectorID: b.id, Type: EventEngagementComplete, Success: success})
}

// genericCanEngage applies the shared range gate every family uses:
// ready, and target distance within [minRange, maxRange].
func genericCanEngage(e Effector, target geo.Position) bool {
	if !e.IsReady() {
		return false
	}
	dist := geo.Distance(e.Position(), target)
	return dist >= e.MinRange() && dist <= e.MaxRange()
}

// Factory creates an effector instance of a specific family.
type Factory func(id, displayName string, sink Sink) Effector

// Registry manages effector factories keyed by family, mirroring the agent
// package's factory registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[Family]Factory
}

var globalRegistry = &Registry{factories: make(map[Family]Factory)}

// Register adds a new effector factory to the global registry.
func Register(family Family, factory Factory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.factories[family] = factory
}

// Create instantiates an effector of the given family.
func Create(family Family, id, displayName string, sink Sink) (Effector, error) {
	globalRegistry.mu.RLock()
	factory, ok := globalRegistry.factories[family]
	globalRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("effector: unknown family %q", family)
	}
	return factory(id, displayName, sink), nil
}

// ListFamilies returns every registered effector family.
func ListFamilies() []Family {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	out := make([]Family, 0, len(globalRegistry.factories))
	for f := range globalRegistry.factories {
		out = append(out, f)
	}
	return out
}
