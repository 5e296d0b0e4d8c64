// Package threat implements the Threat Assessor (C5): a cadence-driven
// per-track composite scorer that derives an integer threat level and
// raises alerts on upward threat-level transitions or defended-asset
// proximity breaches.
package threat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/track"
)

// Severity is an alert's urgency.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarn     Severity = "Warn"
	SeverityCritical Severity = "Critical"
)

// DefendedAsset is a protected point with critical/warning radii.
type DefendedAsset struct {
	ID             string
	Name           string
	Position       geo.Position
	CriticalRadius float64
	WarningRadius  float64
	Priority       int // 1-5
}

// Alert is an append-only record of a threat escalation or proximity breach.
type Alert struct {
	ID       string
	TrackID  string
	At       time.Time
	Severity Severity
	Message  string
	AssetID  string // optional
}

// Metrics is a point-in-time snapshot of fleet-wide threat posture.
type Metrics struct {
	HostileCount   int
	HighThreatCount int
	CriticalCount  int
	AvgThreat      float64
}

// Config tunes the assessor's cadence and alert history bound.
type Config struct {
	CadenceHz         float64
	AlertRingCapacity int
	MaxClosureRateMps float64
	MaxWarningDwell   time.Duration
}

// DefaultConfig returns the documented defaults: 2 Hz cadence, a 500-entry
// alert ring.
func DefaultConfig() Config {
	return Config{
		CadenceHz:         2,
		AlertRingCapacity: 500,
		MaxClosureRateMps: 50,
		MaxWarningDwell:   30 * time.Second,
	}
}

// Clock is the time seam for cadence timing, mirroring pkg/track.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Sink receives NewAlert notifications. Threat levels are not routed through
// the Sink; the assessor writes them via the Track Manager's SetThreat.
type Sink interface {
	NewAlert(Alert)
}

// Assessor is the Threat Assessor (C5). It reads track snapshots from a
// track.Manager and writes threat levels back through it, never mutating
// tracks directly.
type Assessor struct {
	mu     sync.RWMutex
	assets map[string]DefendedAsset
	alerts []Alert

	cfg    Config
	tracks *track.Manager
	sink   Sink
	clock  Clock
	logger zerolog.Logger

	lastLevel       map[string]int
	warningEnteredAt map[string]time.Time

	nextAlertID int
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New constructs a Threat Assessor over the given Track Manager.
func New(cfg Config, tracks *track.Manager, sink Sink, logger zerolog.Logger) *Assessor {
	return &Assessor{
		assets:           make(map[string]DefendedAsset),
		cfg:              cfg,
		tracks:           tracks,
		sink:             sink,
		clock:            realClock{},
		logger:           logger.With().Str("component", "threat_assessor").Logger(),
		lastLevel:        make(map[string]int),
		warningEnteredAt: make(map[string]time.Time),
	}
}

// SetClock overrides the assessor's time source; intended for tests.
func (a *Assessor) SetClock(c Clock) { a.clock = c }

// Start launches the periodic scoring cycle at the configured cadence.
func (a *Assessor) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	interval := time.Duration(float64(time.Second) / a.cfg.CadenceHz)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				a.RunCycle()
			}
		}
	}()
}

// Stop halts the periodic cycle and waits for it to exit.
func (a *Assessor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// AddDefendedAsset registers or replaces a defended asset.
func (a *Assessor) AddDefendedAsset(asset DefendedAsset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assets[asset.ID] = asset
}

// RemoveDefendedAsset deregisters a defended asset by id.
func (a *Assessor) RemoveDefendedAsset(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assets, id)
}

// DefendedAssets returns a snapshot of all registered assets.
func (a *Assessor) DefendedAssets() []DefendedAsset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]DefendedAsset, 0, len(a.assets))
	for _, asset := range a.assets {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Alerts returns a snapshot of the alert history, most recent last.
func (a *Assessor) Alerts() []Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Alert(nil), a.alerts...)
}

func (a *Assessor) appendAlert(al Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	if len(a.alerts) > a.cfg.AlertRingCapacity {
		a.alerts = a.alerts[len(a.alerts)-a.cfg.AlertRingCapacity:]
	}
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.NewAlert(al)
	}
}

// nearestAsset returns the closest defended asset to pos and the distance
// to it, or ok=false if none are registered.
func (a *Assessor) nearestAsset(pos geo.Position) (DefendedAsset, float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var best DefendedAsset
	var bestDist float64
	found := false
	for _, asset := range a.assets {
		d := geo.Distance(pos, asset.Position)
		if !found || d < bestDist {
			best = asset
			bestDist = d
			found = true
		}
	}
	return best, bestDist, found
}

// score computes the [0,1] composite threat score for one track, folding in
// proximity to the nearest defended asset, closure rate, classification,
// dwell time inside the warning radius, and detection-source diversity.
func (a *Assessor) score(tr track.Track, now time.Time) float64 {
	if tr.Classification == track.ClassificationFriendly {
		return 0
	}

	asset, dist, hasAsset := a.nearestAsset(tr.Position)

	var proximityComp float64
	var closureComp float64
	var dwellComp float64

	if hasAsset {
		switch {
		case dist <= asset.CriticalRadius:
			proximityComp = 1
		case dist <= asset.WarningRadius:
			span := asset.WarningRadius - asset.CriticalRadius
			if span <= 0 {
				proximityComp = 1
			} else {
				proximityComp = (asset.WarningRadius - dist) / span
			}
		}

		if dist <= asset.WarningRadius {
			north, east := geo.Offset(tr.Position, asset.Position)
			norm := math.Hypot(north, east)
			if norm > 0 {
				closing := (tr.Velocity.NorthMps*north + tr.Velocity.EastMps*east) / norm
				closureComp = clamp01(closing / a.cfg.MaxClosureRateMps)
			}

			a.mu.Lock()
			enteredAt, ok := a.warningEnteredAt[tr.ID]
			if !ok {
				a.warningEnteredAt[tr.ID] = now
				enteredAt = now
			}
			a.mu.Unlock()
			dwellComp = clamp01(now.Sub(enteredAt).Seconds() / a.cfg.MaxWarningDwell.Seconds())
		} else {
			a.mu.Lock()
			delete(a.warningEnteredAt, tr.ID)
			a.mu.Unlock()
		}
	}

	diversityComp := clamp01(float64(len(tr.Sources)-1) / 2)

	score := 0.4*proximityComp + 0.3*closureComp + 0.2*diversityComp + 0.1*dwellComp

	if tr.Classification == track.ClassificationHostile {
		score = clamp01(score * 1.25)
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func levelFromScore(score float64) int {
	level := int(math.Round(score * 5))
	if level < 0 {
		return 0
	}
	if level > 5 {
		return 5
	}
	return level
}

// RunCycle scores every non-Dropped track once, writes the resulting threat
// level back through the Track Manager (which itself emits
// track_threat_level_changed / high_threat_detected), and raises alerts on
// upward level transitions or defended-asset radius breaches.
func (a *Assessor) RunCycle() {
	now := a.clock.Now()
	tracks := a.tracks.All()

	for _, tr := range tracks {
		score := a.score(tr, now)
		level := levelFromScore(score)

		a.mu.Lock()
		prevLevel, known := a.lastLevel[tr.ID]
		a.lastLevel[tr.ID] = level
		a.mu.Unlock()

		a.tracks.SetThreat(tr.ID, level)

		if known && level > prevLevel {
			a.raiseThreatAlert(tr, level)
		}

		if asset, dist, ok := a.nearestAsset(tr.Position); ok {
			a.checkAssetBreach(tr, asset, dist)
		}
	}
}

func (a *Assessor) raiseThreatAlert(tr track.Track, level int) {
	sev := SeverityInfo
	if level >= 4 {
		sev = SeverityCritical
	} else if level >= 2 {
		sev = SeverityWarn
	}
	a.appendAlert(Alert{
		ID:       a.newAlertID(),
		TrackID:  tr.ID,
		At:       a.clock.Now(),
		Severity: sev,
		Message:  fmt.Sprintf("track %s threat level increased to %d", tr.ID, level),
	})
}

func (a *Assessor) checkAssetBreach(tr track.Track, asset DefendedAsset, dist float64) {
	switch {
	case dist <= asset.CriticalRadius:
		a.appendAlert(Alert{
			ID:       a.newAlertID(),
			TrackID:  tr.ID,
			At:       a.clock.Now(),
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("track %s within critical radius of asset %s", tr.ID, asset.Name),
			AssetID:  asset.ID,
		})
	case dist <= asset.WarningRadius:
		a.appendAlert(Alert{
			ID:       a.newAlertID(),
			TrackID:  tr.ID,
			At:       a.clock.Now(),
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("track %s within warning radius of asset %s", tr.ID, asset.Name),
			AssetID:  asset.ID,
		})
	}
}

func (a *Assessor) newAlertID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextAlertID++
	return fmt.Sprintf("ALT-%06d", a.nextAlertID)
}

// SnapshotMetrics computes the current fleet-wide metrics snapshot.
func (a *Assessor) SnapshotMetrics() Metrics {
	tracks := a.tracks.All()
	var m Metrics
	var totalThreat int
	for _, tr := range tracks {
		if tr.Classification == track.ClassificationHostile {
			m.HostileCount++
		}
		if tr.IsHighThreat() {
			m.HighThreatCount++
		}
		if tr.ThreatLevel == 5 {
			m.CriticalCount++
		}
		totalThreat += tr.ThreatLevel
	}
	if len(tracks) > 0 {
		m.AvgThreat = float64(totalThreat) / float64(len(tracks))
	}
	return m
}
