package engagement

import (
	"fmt"
	"time"

	"github.com/cuas/core/pkg/effector"
	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/track"
)

// SelectTrack begins (or restarts) an engagement against trackID. Any
// engagement currently in flight is implicitly aborted first, matching the
// reference engine's cancel-on-reselect behavior.
func (m *Manager) SelectTrack(trackID string) {
	if _, ok := m.tracks.ByID(trackID); !ok {
		m.logger.Warn().Str("track_id", trackID).Msg("select_track referenced unknown track")
		return
	}

	m.mu.Lock()
	var finishAbort func()
	var abortedID string
	if !isTerminal(m.state) {
		abortedID = m.currentEngagementID
		finishAbort = m.abortLocked("new track selected")
	}
	m.selectedTrackID = trackID
	m.selectedEffector = ""
	emitState := m.transitionTo(StateTrackSelected)
	autoRecommend := m.cfg.AutoRecommendEffector
	m.mu.Unlock()

	if finishAbort != nil {
		finishAbort()
		m.emit(Event{Type: EventAborted, EngagementID: abortedID, Reason: "new track selected"})
	}
	emitState()
	m.emit(Event{Type: EventTrackSelected, TrackID: trackID})

	if autoRecommend {
		m.RecommendEffector()
	}
}

// ClearSelection drops the current selection and returns to Idle without
// recording a history entry; intended for an operator backing out before
// authorization is ever requested.
func (m *Manager) ClearSelection() {
	m.mu.Lock()
	m.selectedTrackID = ""
	m.selectedEffector = ""
	emitState := m.transitionTo(StateIdle)
	m.mu.Unlock()
	emitState()
}

// SelectEffector manually pins the effector to engage with, overriding any
// auto-recommendation.
func (m *Manager) SelectEffector(effectorID string) {
	m.mu.Lock()
	if m.selectedTrackID == "" {
		m.mu.Unlock()
		m.logger.Warn().Msg("select_effector called without a selected track")
		return
	}
	if _, ok := m.effectors[effectorID]; !ok {
		m.mu.Unlock()
		m.logger.Warn().Str("effector_id", effectorID).Msg("select_effector referenced unknown effector")
		return
	}
	m.selectedEffector = effectorID

	var emitState func()
	if m.state == StateTrackSelected {
		emitState = m.transitionTo(StateEffectorRecommended)
	} else {
		emitState = func() {}
	}
	m.mu.Unlock()

	m.emit(Event{Type: EventEffectorRecommended, EffectorID: effectorID})
	emitState()
}

// RecommendEffector scores every registered effector against the selected
// track and pins the best-scoring one, if any.
func (m *Manager) RecommendEffector() {
	m.mu.Lock()
	if m.selectedTrackID == "" {
		m.mu.Unlock()
		return
	}
	tr, ok := m.tracks.ByID(m.selectedTrackID)
	if !ok {
		m.mu.Unlock()
		return
	}
	best := m.recommendedEffectorLocked(tr)
	if best == nil {
		m.mu.Unlock()
		return
	}
	m.selectedEffector = best.ID()
	emitState := m.transitionTo(StateEffectorRecommended)
	family := best.Family()
	m.mu.Unlock()

	emitState()
	m.emit(Event{
		Type:       EventEffectorRecommended,
		EffectorID: best.ID(),
		Reason:     "recommended based on target range and " + string(family) + " capability",
	})
}

// RequestAuthorization snapshots the current track/effector pair into a new
// engagement record and an authorization request, starting the
// authorization timeout clock.
func (m *Manager) RequestAuthorization() {
	m.mu.Lock()
	if m.selectedTrackID == "" || m.selectedEffector == "" {
		m.mu.Unlock()
		m.logger.Warn().Msg("cannot request authorization without track and effector")
		return
	}
	tr, ok := m.tracks.ByID(m.selectedTrackID)
	eff, effOK := m.effectors[m.selectedEffector]
	if !ok || !effOK {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	m.createEngagementRecordLocked(tr, eff, now)

	distance := geo.Distance(m.base, tr.Position)
	req := AuthorizationRequest{
		EngagementID:   m.currentEngagementID,
		TrackID:        m.selectedTrackID,
		EffectorID:     m.selectedEffector,
		EffectorFamily: eff.Family(),
		TargetPosition: tr.Position,
		Distance:       distance,
		ThreatLevel:    tr.ThreatLevel,
		Classification: tr.Classification,
		RecommendationReason: fmt.Sprintf("effector %s recommended for %s target at threat level %d",
			m.selectedEffector, tr.Classification, tr.ThreatLevel),
		RequestTime:    now,
		TimeoutSeconds: int(m.cfg.AuthorizationTimeout.Seconds()),
	}
	m.currentAuthRequest = req
	m.authDeadline = now.Add(m.cfg.AuthorizationTimeout)
	emitState := m.transitionTo(StateAwaitingAuthorization)
	m.mu.Unlock()

	emitState()
	m.emit(Event{Type: EventAuthorizationRequested, EngagementID: req.EngagementID, Request: req})
}

// Authorize grants authorization for the in-flight engagement by operatorID.
func (m *Manager) Authorize(operatorID string) {
	m.mu.Lock()
	if m.state != StateAwaitingAuthorization {
		m.mu.Unlock()
		m.logger.Warn().Msg("authorize called while not awaiting authorization")
		return
	}
	m.current.OperatorID = operatorID
	m.current.AuthorizationTime = m.clock.Now()
	m.authDeadline = time.Time{}
	emitState := m.transitionTo(StateAuthorized)
	id := m.currentEngagementID
	m.mu.Unlock()

	emitState()
	m.emit(Event{Type: EventAuthorizationGranted, EngagementID: id})
}

// Deny refuses authorization and finalizes the engagement as Aborted.
func (m *Manager) Deny(reason string) {
	m.mu.Lock()
	if m.state != StateAwaitingAuthorization {
		m.mu.Unlock()
		return
	}
	m.authDeadline = time.Time{}
	m.current.Notes = appendNote(m.current.Notes, "Denied: "+reason)
	emitState := m.transitionTo(StateAborted)
	id := m.currentEngagementID
	finalize := m.finalizeEngagementLocked(StateAborted)
	m.mu.Unlock()

	emitState()
	finalize()
	m.emit(Event{Type: EventAuthorizationDenied, EngagementID: id, Reason: reason})
}

// Execute hands the selected target to the selected effector. Failure to
// find the track/effector, or an effector that refuses to engage, finalizes
// the engagement as Failed instead. If a prior effect log entry exists for
// this engagement/effector pair (a redelivered decision), it replays the
// stored outcome instead of engaging the effector again.
func (m *Manager) Execute() {
	m.mu.Lock()
	if m.state != StateAuthorized {
		m.mu.Unlock()
		m.logger.Warn().Msg("cannot execute without authorization")
		return
	}
	eff, effOK := m.effectors[m.selectedEffector]
	tr, trOK := m.tracks.ByID(m.selectedTrackID)
	id := m.currentEngagementID
	effectorID := m.selectedEffector

	if m.effectLog != nil {
		if prior, ok := m.effectLog.Lookup(EffectIdempotencyKey(id, effectorID)); ok {
			m.current.BDAResult = prior.BDAResult
			m.current.Notes = appendNote(m.current.Notes, "replayed prior effect: "+prior.Reason)
			emitState := m.transitionTo(prior.FinalState)
			finalize := m.finalizeEngagementLocked(prior.FinalState)
			m.mu.Unlock()
			emitState()
			finalize()
			m.emit(Event{
				Type:         eventTypeForState(prior.FinalState),
				EngagementID: id,
				EffectorID:   effectorID,
				BDAResult:    prior.BDAResult,
				Reason:       "replayed prior effect (idempotent)",
			})
			return
		}
	}

	if !effOK || !trOK {
		emitState := m.transitionTo(StateFailed)
		finalize := m.finalizeEngagementLocked(StateFailed)
		m.mu.Unlock()
		emitState()
		finalize()
		m.emit(Event{Type: EventFailed, EngagementID: id, Reason: "effector or track unavailable"})
		return
	}
	if !eff.IsReady() {
		emitState := m.transitionTo(StateFailed)
		finalize := m.finalizeEngagementLocked(StateFailed)
		m.mu.Unlock()
		emitState()
		finalize()
		m.emit(Event{Type: EventFailed, EngagementID: id, Reason: "effector not ready"})
		return
	}

	now := m.clock.Now()
	m.current.ExecutionTime = now
	m.mu.Unlock()

	m.tracks.SetEngaged(tr.ID, true)
	success := eff.Engage(tr.Position, now)

	m.mu.Lock()
	if !success {
		emitState := m.transitionTo(StateFailed)
		finalize := m.finalizeEngagementLocked(StateFailed)
		m.mu.Unlock()
		emitState()
		finalize()
		m.emit(Event{Type: EventFailed, EngagementID: id, Reason: "effector engagement failed"})
		return
	}
	emitState := m.transitionTo(StateEngaging)
	m.mu.Unlock()

	emitState()
	m.emit(Event{Type: EventStarted, EngagementID: id})
}

// Abort cancels whatever engagement is in flight, disengaging the effector
// if currently Engaging. A no-op from any terminal state.
func (m *Manager) Abort(reason string) {
	m.mu.Lock()
	if isTerminal(m.state) {
		m.mu.Unlock()
		return
	}
	id := m.currentEngagementID
	finishAbort := m.abortLocked(reason)
	m.mu.Unlock()

	finishAbort()
	m.emit(Event{Type: EventAborted, EngagementID: id, Reason: reason})
}

// abortLocked performs the abort transition and finalization under the
// caller's lock, but defers every emission and the effector disengage call
// to the returned closure, which the caller must run after unlocking m.mu —
// the same emit-after-unlock discipline transitionTo and
// finalizeEngagementLocked already follow. Caller must hold m.mu and must
// still emit EventAborted itself once the closure returns.
func (m *Manager) abortLocked(reason string) func() {
	m.authDeadline = time.Time{}
	var disengage func()
	if m.state == StateEngaging {
		if eff, ok := m.effectors[m.selectedEffector]; ok {
			disengage = func() { eff.Disengage(m.clock.Now()) }
		}
	}
	m.current.WasAborted = true
	m.current.AbortReason = reason
	emitState := m.transitionTo(StateAborted)
	finalize := m.finalizeEngagementLocked(StateAborted)

	return func() {
		if disengage != nil {
			disengage()
		}
		emitState()
		finalize()
	}
}

// SetBDAResult records the battle damage assessment for the in-flight (or
// just-completed) engagement.
func (m *Manager) SetBDAResult(result BDAResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.BDAResult = result
}

// AddNote appends an operator note to the in-flight engagement record.
func (m *Manager) AddNote(note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Notes = appendNote(m.current.Notes, note)
}

// HandleTrackEvent reacts to track lifecycle events the way the reference
// engine's onTrackDropped slot does: a drop of the selected track either
// triggers a completion check (if Engaging — the drop may itself be the
// kill) or an abort (in any other non-idle state).
func (m *Manager) HandleTrackEvent(e track.Event) {
	if e.Type != track.EventTrackDropped || e.TrackID == "" {
		return
	}
	m.mu.Lock()
	if e.TrackID != m.selectedTrackID {
		m.mu.Unlock()
		return
	}
	if m.state == StateEngaging {
		m.current.BDAResult = BDAAssessmentPending
		m.mu.Unlock()
		m.checkEngagementCompletion()
		return
	}
	if !isTerminal(m.state) {
		id := m.currentEngagementID
		finishAbort := m.abortLocked("target track dropped")
		m.mu.Unlock()
		finishAbort()
		m.emit(Event{Type: EventAborted, EngagementID: id, Reason: "target track dropped"})
		return
	}
	m.mu.Unlock()
}

// HandleEffectorEvent reacts to effector status changes the way the
// reference engine's onEffectorStatusChanged slot does: if the selected
// effector stops being engaged mid-Engaging, that is the completion signal.
func (m *Manager) HandleEffectorEvent(e effector.Event) {
	m.mu.Lock()
	relevant := e.EffectorID == m.selectedEffector && m.state == StateEngaging
	m.mu.Unlock()
	if relevant {
		m.checkEngagementCompletion()
	}
}

// Tick drives both timer-backed transitions: an expired authorization
// deadline aborts to Aborted, and while Engaging it polls the selected
// effector's engaged status for completion. Callers invoke this from their
// own cadence loop, mirroring the reference engine's two QTimers.
func (m *Manager) Tick() {
	m.mu.Lock()
	now := m.clock.Now()
	timedOut := m.state == StateAwaitingAuthorization && !m.authDeadline.IsZero() && !now.Before(m.authDeadline)
	checking := m.state == StateEngaging
	m.mu.Unlock()

	if timedOut {
		m.onAuthorizationTimeout()
		return
	}
	if checking {
		m.checkEngagementCompletion()
	}
}

func (m *Manager) onAuthorizationTimeout() {
	m.mu.Lock()
	if m.state != StateAwaitingAuthorization {
		m.mu.Unlock()
		return
	}
	emitState := m.transitionTo(StateAborted)
	finalize := m.finalizeEngagementLocked(StateAborted)
	id := m.currentEngagementID
	m.mu.Unlock()

	emitState()
	finalize()
	m.emit(Event{Type: EventAuthorizationTimeout, EngagementID: id})
}

func (m *Manager) checkEngagementCompletion() {
	m.mu.Lock()
	if m.state != StateEngaging {
		m.mu.Unlock()
		return
	}
	eff, ok := m.effectors[m.selectedEffector]
	id := m.currentEngagementID
	if !ok {
		emitState := m.transitionTo(StateFailed)
		finalize := m.finalizeEngagementLocked(StateFailed)
		m.mu.Unlock()
		emitState()
		finalize()
		m.emit(Event{Type: EventFailed, EngagementID: id, Reason: "effector lost"})
		return
	}
	if eff.IsEngaged() {
		m.mu.Unlock()
		return
	}

	m.current.CompletionTime = m.clock.Now()
	trackID := m.selectedTrackID
	tr, trOK := m.tracks.ByID(trackID)
	if (!trOK || tr.State == track.StateDropped) && m.current.BDAResult == BDAUnknown {
		m.current.BDAResult = BDAAssessmentPending
	}
	bda := m.current.BDAResult
	emitState := m.transitionTo(StateCompleted)
	finalize := m.finalizeEngagementLocked(StateCompleted)
	m.mu.Unlock()

	emitState()
	finalize()
	m.emit(Event{Type: EventCompleted, EngagementID: id, BDAResult: bda})
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
