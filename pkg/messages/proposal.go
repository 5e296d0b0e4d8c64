package messages

import "time"

// EngagementProposal is published on the ENGAGEMENTS stream when the
// Engagement Manager enters AwaitingAuthorization, mirroring
// engagement.AuthorizationRequest over the wire for the human authorizer
// and the Policy Gate to act on.
type EngagementProposal struct {
	Envelope Envelope `json:"envelope"`

	EngagementID   string `json:"engagement_id"`
	TrackID        string `json:"track_id"`
	EffectorID     string `json:"effector_id"`
	EffectorFamily string `json:"effector_family"`

	TargetPosition Position `json:"target_position"`
	Distance       float64  `json:"distance_m"`
	ThreatLevel    int      `json:"threat_level"`
	Classification string   `json:"classification"`
	Reason         string   `json:"reason"`

	RequestedAt    time.Time `json:"requested_at"`
	TimeoutSeconds int       `json:"timeout_seconds"`

	PolicyDecision PolicyDecision `json:"policy_decision"`
}

func (p *EngagementProposal) GetEnvelope() Envelope {
	return p.Envelope
}

func (p *EngagementProposal) SetEnvelope(e Envelope) {
	p.Envelope = e
}

func (p *EngagementProposal) Subject() string {
	return "engagement.proposal." + p.EffectorFamily
}

// NewEngagementProposal creates a new proposal published by the engagement
// agent wrapping the Engagement Manager.
func NewEngagementProposal(engagementAgentID string) *EngagementProposal {
	return &EngagementProposal{
		Envelope:    NewEnvelope(engagementAgentID, "engagement"),
		RequestedAt: time.Now().UTC(),
	}
}

// Decision is a human authorization decision on an EngagementProposal,
// published by the authorizer agent. A proposal that times out gets no
// Decision; the authorizer marks it expired instead.
type Decision struct {
	Envelope Envelope `json:"envelope"`

	DecisionID   string `json:"decision_id"`
	EngagementID string `json:"engagement_id"`

	Approved   bool      `json:"approved"`
	ApprovedBy string    `json:"approved_by"` // Operator id
	DecidedAt  time.Time `json:"decided_at"`
	Reason     string    `json:"reason,omitempty"`

	TrackID    string `json:"track_id"`
	EffectorID string `json:"effector_id"`
}

func (d *Decision) GetEnvelope() Envelope {
	return d.Envelope
}

func (d *Decision) SetEnvelope(e Envelope) {
	d.Envelope = e
}

func (d *Decision) Subject() string {
	if d.Approved {
		return "decision.approved." + d.EngagementID
	}
	return "decision.denied." + d.EngagementID
}

// NewDecision creates a new decision for a proposal.
func NewDecision(proposal *EngagementProposal, authorizerID string) *Decision {
	return &Decision{
		Envelope: NewEnvelope(authorizerID, "authorizer").
			WithCorrelation(proposal.Envelope.CorrelationID, proposal.Envelope.MessageID),
		EngagementID: proposal.EngagementID,
		TrackID:      proposal.TrackID,
		EffectorID:   proposal.EffectorID,
		DecidedAt:    time.Now().UTC(),
	}
}

// EffectLog records the execution and outcome of an authorized engagement,
// published on the EFFECTS stream once the Engagement Manager finalizes.
type EffectLog struct {
	Envelope Envelope `json:"envelope"`

	EffectID     string `json:"effect_id"`
	DecisionID   string `json:"decision_id"`
	EngagementID string `json:"engagement_id"`
	TrackID      string `json:"track_id"`
	EffectorID   string `json:"effector_id"`

	FinalState    string    `json:"final_state"` // Completed, Aborted, Failed
	BDAResult     string    `json:"bda_result"`
	ExecutedAt    time.Time `json:"executed_at"`
	CompletedAt   time.Time `json:"completed_at"`
	IdempotentKey string    `json:"idempotent_key"`
	Idempotent    bool      `json:"idempotent"` // True if this was a replay
	Notes         string    `json:"notes,omitempty"`
}

func (el *EffectLog) GetEnvelope() Envelope {
	return el.Envelope
}

func (el *EffectLog) SetEnvelope(e Envelope) {
	el.Envelope = e
}

func (el *EffectLog) Subject() string {
	return "effect." + el.FinalState + "." + el.EffectorID
}

// NewEffectLog creates a new effect log for a decision.
func NewEffectLog(decision *Decision, effectorAgentID string) *EffectLog {
	return &EffectLog{
		Envelope: NewEnvelope(effectorAgentID, "effector").
			WithCorrelation(decision.Envelope.CorrelationID, decision.Envelope.MessageID),
		DecisionID:   decision.DecisionID,
		EngagementID: decision.EngagementID,
		TrackID:      decision.TrackID,
		EffectorID:   decision.EffectorID,
		ExecutedAt:   time.Now().UTC(),
	}
}
