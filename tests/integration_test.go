// Package tests contains comprehensive tests for the C-UAS platform
package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cuas/core/pkg/messages"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IntegrationTestSuite provides a mock environment for integration testing
// the detect -> track -> propose -> decide -> effect pipeline.
type IntegrationTestSuite struct {
	detections map[string]*messages.Detection
	tracks     map[string]*messages.TrackMessage
	proposals  map[string]*messages.EngagementProposal
	decisions  map[string]*messages.Decision
	effectLogs map[string]*messages.EffectLog

	detectQueue   chan *messages.Detection
	trackQueue    chan *messages.TrackMessage
	proposalQueue chan *messages.EngagementProposal
	decisionQueue chan *messages.Decision
	effectQueue   chan *messages.EffectLog

	processedMessages map[string]bool
	idempotentKeys    map[string]bool

	opaServer *httptest.Server

	mu sync.RWMutex
}

// NewIntegrationTestSuite creates a new test suite
func NewIntegrationTestSuite() *IntegrationTestSuite {
	suite := &IntegrationTestSuite{
		detections:        make(map[string]*messages.Detection),
		tracks:            make(map[string]*messages.TrackMessage),
		proposals:         make(map[string]*messages.EngagementProposal),
		decisions:         make(map[string]*messages.Decision),
		effectLogs:        make(map[string]*messages.EffectLog),
		detectQueue:       make(chan *messages.Detection, 100),
		trackQueue:        make(chan *messages.TrackMessage, 100),
		proposalQueue:     make(chan *messages.EngagementProposal, 100),
		decisionQueue:     make(chan *messages.Decision, 100),
		effectQueue:       make(chan *messages.EffectLog, 100),
		processedMessages: make(map[string]bool),
		idempotentKeys:    make(map[string]bool),
	}

	suite.opaServer = suite.createMockOPAServer()

	return suite
}

// Close cleans up the test suite
func (s *IntegrationTestSuite) Close() {
	if s.opaServer != nil {
		s.opaServer.Close()
	}
	close(s.detectQueue)
	close(s.trackQueue)
	close(s.proposalQueue)
	close(s.decisionQueue)
	close(s.effectQueue)
}

// createMockOPAServer creates a mock OPA server matching pkg/opa's policy paths
func (s *IntegrationTestSuite) createMockOPAServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		path := r.URL.Path

		switch path {
		case "/v1/data/cuas/origin":
			var input struct {
				Input map[string]interface{} `json:"input"`
			}
			json.NewDecoder(r.Body).Decode(&input)

			envelope, _ := input.Input["envelope"].(map[string]interface{})
			source, _ := envelope["source"].(string)
			sourceType, _ := envelope["source_type"].(string)

			allowed := false
			switch sourceType {
			case "sensor":
				allowed = len(source) > 7 && source[:7] == "sensor-"
			case "fusion":
				allowed = len(source) > 7 && source[:7] == "fusion-"
			case "threat":
				allowed = len(source) > 7 && source[:7] == "threat-"
			case "engagement":
				allowed = len(source) > 11 && source[:11] == "engagement-"
			case "authorizer":
				allowed = len(source) > 11 && source[:11] == "authorizer-"
			case "effector":
				allowed = len(source) > 9 && source[:9] == "effector-"
			}

			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"allow": allowed,
					"deny":  []string{},
				},
			})

		case "/v1/data/cuas/engagements":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"allow":    true,
					"deny":     []string{},
					"warnings": []string{},
				},
			})

		case "/v1/data/cuas/effects":
			var input struct {
				Input map[string]interface{} `json:"input"`
			}
			json.NewDecoder(r.Body).Decode(&input)

			decision, _ := input.Input["decision"].(map[string]interface{})
			approved, _ := decision["approved"].(bool)
			approvedBy, _ := decision["approved_by"].(string)
			alreadyExecuted, _ := input.Input["already_executed"].(bool)

			allowed := approved && approvedBy != "" && approvedBy != "system" && !alreadyExecuted

			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"allow_effect":  allowed,
					"require_human": true,
					"deny":          []string{},
				},
			})

		case "/health":
			w.WriteHeader(http.StatusOK)

		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"allow": true,
				},
			})
		}
	}))
}

// PublishDetection simulates publishing a detection to NATS
func (s *IntegrationTestSuite) PublishDetection(det *messages.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processedMessages[det.Envelope.MessageID] {
		return nil
	}

	s.detections[det.Envelope.MessageID] = det
	s.processedMessages[det.Envelope.MessageID] = true

	select {
	case s.detectQueue <- det:
		return nil
	default:
		return fmt.Errorf("detection queue full")
	}
}

// classificationAndThreatLevel derives a track classification and threat
// level from a detection's confidence, standing in for the fusion agent's
// Kalman-filtered track manager and the threat assessor's scoring.
func classificationAndThreatLevel(confidence float64) (string, int) {
	switch {
	case confidence > 0.8:
		return "Hostile", 4
	case confidence > 0.5:
		return "Unknown", 2
	default:
		return "Friendly", 0
	}
}

// ProcessDetection simulates the fusion agent turning a detection into a track
func (s *IntegrationTestSuite) ProcessDetection(det *messages.Detection) (*messages.TrackMessage, error) {
	track := messages.NewTrackMessage("fusion-001", "track_created")
	track.Envelope = track.Envelope.WithCorrelation(det.Envelope.CorrelationID, det.Envelope.MessageID)
	track.TrackID = det.TrackID
	track.Position = det.Position
	track.Velocity = det.Velocity
	track.Sources = []string{det.SensorID}
	track.State = "Active"
	track.Classification, track.ThreatLevel = classificationAndThreatLevel(det.Confidence)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processedMessages[track.Envelope.MessageID] {
		return track, nil
	}

	s.tracks[track.Envelope.MessageID] = track
	s.processedMessages[track.Envelope.MessageID] = true

	select {
	case s.trackQueue <- track:
	default:
	}

	return track, nil
}

// ProcessTrack simulates the engagement manager proposing an engagement for
// a sufficiently threatening track
func (s *IntegrationTestSuite) ProcessTrack(track *messages.TrackMessage) (*messages.EngagementProposal, error) {
	proposal := messages.NewEngagementProposal("engagement-001")
	proposal.Envelope = proposal.Envelope.WithCorrelation(track.Envelope.CorrelationID, track.Envelope.MessageID)
	proposal.EngagementID = uuid.New().String()
	proposal.TrackID = track.TrackID
	proposal.TargetPosition = track.Position
	proposal.ThreatLevel = track.ThreatLevel
	proposal.Classification = track.Classification
	proposal.TimeoutSeconds = 30

	switch {
	case track.ThreatLevel >= 4:
		proposal.EffectorID = "jammer-01"
		proposal.EffectorFamily = "rf_jammer"
	case track.ThreatLevel >= 2:
		proposal.EffectorID = "jammer-01"
		proposal.EffectorFamily = "rf_jammer"
	default:
		proposal.EffectorID = ""
		proposal.EffectorFamily = "monitor"
	}

	proposal.Reason = fmt.Sprintf("automated response to threat level %d target", track.ThreatLevel)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processedMessages[proposal.Envelope.MessageID] {
		return proposal, nil
	}

	s.proposals[proposal.EngagementID] = proposal
	s.processedMessages[proposal.Envelope.MessageID] = true

	select {
	case s.proposalQueue <- proposal:
	default:
	}

	return proposal, nil
}

// ApproveProposal simulates a human approving a proposal
func (s *IntegrationTestSuite) ApproveProposal(proposal *messages.EngagementProposal, approverID string) (*messages.Decision, error) {
	decision := messages.NewDecision(proposal, "authorizer-001")
	decision.DecisionID = uuid.New().String()
	decision.Approved = true
	decision.ApprovedBy = approverID
	decision.Reason = "approved by authorized commander"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processedMessages[decision.Envelope.MessageID] {
		return decision, nil
	}

	s.decisions[decision.DecisionID] = decision
	s.processedMessages[decision.Envelope.MessageID] = true

	select {
	case s.decisionQueue <- decision:
	default:
	}

	return decision, nil
}

// DenyProposal simulates a human denying a proposal
func (s *IntegrationTestSuite) DenyProposal(proposal *messages.EngagementProposal, approverID, reason string) (*messages.Decision, error) {
	decision := messages.NewDecision(proposal, "authorizer-001")
	decision.DecisionID = uuid.New().String()
	decision.Approved = false
	decision.ApprovedBy = approverID
	decision.Reason = reason

	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions[decision.DecisionID] = decision
	s.processedMessages[decision.Envelope.MessageID] = true

	select {
	case s.decisionQueue <- decision:
	default:
	}

	return decision, nil
}

// ExecuteDecision simulates the effector executing an approved decision
func (s *IntegrationTestSuite) ExecuteDecision(decision *messages.Decision) (*messages.EffectLog, error) {
	if !decision.Approved {
		return nil, fmt.Errorf("cannot execute denied decision")
	}

	effectLog := messages.NewEffectLog(decision, "effector-001")
	effectLog.EffectID = uuid.New().String()
	effectLog.IdempotentKey = fmt.Sprintf("effect:%s:%s", decision.DecisionID, decision.EngagementID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idempotentKeys[effectLog.IdempotentKey] {
		effectLog.Idempotent = true
		effectLog.FinalState = "Completed"
		return effectLog, nil
	}

	effectLog.FinalState = "Completed"
	effectLog.BDAResult = fmt.Sprintf("effect executed on track %s via %s", decision.TrackID, decision.EffectorID)
	effectLog.CompletedAt = time.Now().UTC()
	effectLog.Idempotent = false

	s.effectLogs[effectLog.EffectID] = effectLog
	s.idempotentKeys[effectLog.IdempotentKey] = true
	s.processedMessages[effectLog.Envelope.MessageID] = true

	select {
	case s.effectQueue <- effectLog:
	default:
	}

	return effectLog, nil
}

// GetMetrics returns statistics about processed messages
func (s *IntegrationTestSuite) GetMetrics() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]int{
		"detections": len(s.detections),
		"tracks":     len(s.tracks),
		"proposals":  len(s.proposals),
		"decisions":  len(s.decisions),
		"effects":    len(s.effectLogs),
	}
}

// TestFullPipelineDetectionToProposal tests the full pipeline from detection to proposal
func TestFullPipelineDetectionToProposal(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Position = messages.Position{Lat: 37.7749, Lon: -122.4194, Alt: 10000}
	det.Velocity = messages.Velocity{Speed: 500, Heading: 45}
	det.Confidence = 0.85
	det.Envelope.CorrelationID = uuid.New().String()

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, err := suite.ProcessDetection(det)
	require.NoError(t, err)
	assert.Equal(t, "Hostile", track.Classification)
	assert.Equal(t, det.Envelope.CorrelationID, track.Envelope.CorrelationID)
	assert.Equal(t, det.Envelope.MessageID, track.Envelope.CausationID)

	proposal, err := suite.ProcessTrack(track)
	require.NoError(t, err)
	assert.Equal(t, "rf_jammer", proposal.EffectorFamily)
	assert.Equal(t, det.Envelope.CorrelationID, proposal.Envelope.CorrelationID)

	metrics := suite.GetMetrics()
	assert.Equal(t, 1, metrics["detections"])
	assert.Equal(t, 1, metrics["tracks"])
	assert.Equal(t, 1, metrics["proposals"])
}

// TestDecisionFlowProposalToEffect tests the decision flow from proposal to effect
func TestDecisionFlowProposalToEffect(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.9
	det.Envelope.CorrelationID = uuid.New().String()

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, err := suite.ProcessDetection(det)
	require.NoError(t, err)

	proposal, err := suite.ProcessTrack(track)
	require.NoError(t, err)

	decision, err := suite.ApproveProposal(proposal, "commander-alpha")
	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.Equal(t, "commander-alpha", decision.ApprovedBy)
	assert.Equal(t, det.Envelope.CorrelationID, decision.Envelope.CorrelationID)

	effectLog, err := suite.ExecuteDecision(decision)
	require.NoError(t, err)
	assert.Equal(t, "Completed", effectLog.FinalState)
	assert.False(t, effectLog.Idempotent)
	assert.Equal(t, det.Envelope.CorrelationID, effectLog.Envelope.CorrelationID)

	metrics := suite.GetMetrics()
	assert.Equal(t, 1, metrics["decisions"])
	assert.Equal(t, 1, metrics["effects"])
}

// TestDecisionDenied tests that denied decisions cannot be executed
func TestDecisionDenied(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.9
	det.Envelope.CorrelationID = uuid.New().String()

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, _ := suite.ProcessDetection(det)
	proposal, _ := suite.ProcessTrack(track)

	decision, err := suite.DenyProposal(proposal, "commander-alpha", "ROE not met")
	require.NoError(t, err)
	assert.False(t, decision.Approved)

	_, err = suite.ExecuteDecision(decision)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot execute denied decision")

	metrics := suite.GetMetrics()
	assert.Equal(t, 0, metrics["effects"])
}

// TestIdempotencyAcrossChainIntegration tests idempotency across the full chain
func TestIdempotencyAcrossChainIntegration(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.85
	det.Envelope.CorrelationID = uuid.New().String()

	for i := 0; i < 3; i++ {
		err := suite.PublishDetection(det)
		require.NoError(t, err)
	}

	metrics := suite.GetMetrics()
	assert.Equal(t, 1, metrics["detections"])

	track, _ := suite.ProcessDetection(det)
	proposal, _ := suite.ProcessTrack(track)
	decision, _ := suite.ApproveProposal(proposal, "commander-alpha")

	for i := 0; i < 3; i++ {
		effectLog, err := suite.ExecuteDecision(decision)
		require.NoError(t, err)

		if i == 0 {
			assert.False(t, effectLog.Idempotent)
		} else {
			assert.True(t, effectLog.Idempotent)
		}
	}

	metrics = suite.GetMetrics()
	assert.Equal(t, 1, metrics["effects"])
}

// TestCorrelationIDPropagationIntegration tests that correlation IDs flow through the entire chain
func TestCorrelationIDPropagationIntegration(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	initialCorrelationID := uuid.New().String()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.85
	det.Envelope.CorrelationID = initialCorrelationID

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, err := suite.ProcessDetection(det)
	require.NoError(t, err)
	assert.Equal(t, initialCorrelationID, track.Envelope.CorrelationID)

	proposal, err := suite.ProcessTrack(track)
	require.NoError(t, err)
	assert.Equal(t, initialCorrelationID, proposal.Envelope.CorrelationID)

	decision, err := suite.ApproveProposal(proposal, "commander-alpha")
	require.NoError(t, err)
	assert.Equal(t, initialCorrelationID, decision.Envelope.CorrelationID)

	effectLog, err := suite.ExecuteDecision(decision)
	require.NoError(t, err)
	assert.Equal(t, initialCorrelationID, effectLog.Envelope.CorrelationID)
}

// TestCausationChain tests that causation IDs properly chain
func TestCausationChain(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.85

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, _ := suite.ProcessDetection(det)
	assert.Equal(t, det.Envelope.MessageID, track.Envelope.CausationID)

	proposal, _ := suite.ProcessTrack(track)
	assert.Equal(t, track.Envelope.MessageID, proposal.Envelope.CausationID)

	decision, _ := suite.ApproveProposal(proposal, "commander-alpha")
	assert.Equal(t, proposal.Envelope.MessageID, decision.Envelope.CausationID)

	effectLog, _ := suite.ExecuteDecision(decision)
	assert.Equal(t, decision.Envelope.MessageID, effectLog.Envelope.CausationID)
}

// TestMultipleDetectionsSameTrack tests processing multiple detections for the same track
func TestMultipleDetectionsSameTrack(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	trackID := "track-001"
	correlationID := uuid.New().String()

	for i := 0; i < 5; i++ {
		det := messages.NewDetection(fmt.Sprintf("sensor-%03d", i), "radar")
		det.TrackID = trackID
		det.Confidence = 0.7 + float64(i)*0.05
		det.Envelope.CorrelationID = correlationID
		det.Position = messages.Position{
			Lat: 37.7749 + float64(i)*0.001,
			Lon: -122.4194 + float64(i)*0.001,
			Alt: 10000 + float64(i)*100,
		}

		err := suite.PublishDetection(det)
		require.NoError(t, err)
	}

	metrics := suite.GetMetrics()
	assert.Equal(t, 5, metrics["detections"])
}

// TestThreatLevelClassification tests different threat level and effector family assignments
func TestThreatLevelClassification(t *testing.T) {
	tests := []struct {
		name                 string
		confidence           float64
		expectClass          string
		expectThreatLevel    int
		expectEffectorFamily string
	}{
		{
			name:                 "high confidence hostile",
			confidence:           0.95,
			expectClass:          "Hostile",
			expectThreatLevel:    4,
			expectEffectorFamily: "rf_jammer",
		},
		{
			name:                 "medium confidence unknown",
			confidence:           0.65,
			expectClass:          "Unknown",
			expectThreatLevel:    2,
			expectEffectorFamily: "rf_jammer",
		},
		{
			name:                 "low confidence friendly",
			confidence:           0.35,
			expectClass:          "Friendly",
			expectThreatLevel:    0,
			expectEffectorFamily: "monitor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := NewIntegrationTestSuite()
			defer suite.Close()

			det := messages.NewDetection("sensor-001", "radar")
			det.TrackID = "track-001"
			det.Confidence = tt.confidence

			err := suite.PublishDetection(det)
			require.NoError(t, err)

			track, err := suite.ProcessDetection(det)
			require.NoError(t, err)
			assert.Equal(t, tt.expectClass, track.Classification)
			assert.Equal(t, tt.expectThreatLevel, track.ThreatLevel)

			proposal, err := suite.ProcessTrack(track)
			require.NoError(t, err)
			assert.Equal(t, tt.expectEffectorFamily, proposal.EffectorFamily)
		})
	}
}

// TestHumanApprovalRequired tests that human approval is always required before an effect
func TestHumanApprovalRequired(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.9

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, _ := suite.ProcessDetection(det)
	proposal, _ := suite.ProcessTrack(track)

	assert.NotEmpty(t, proposal.EngagementID)
	assert.Greater(t, proposal.TimeoutSeconds, 0)

	metrics := suite.GetMetrics()
	assert.Equal(t, 1, metrics["proposals"])
	assert.Equal(t, 0, metrics["decisions"])
	assert.Equal(t, 0, metrics["effects"])
}

// TestEndToEndWithContextTimeout tests handling of context timeouts
func TestEndToEndWithContextTimeout(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.85

	done := make(chan bool)

	go func() {
		err := suite.PublishDetection(det)
		if err != nil {
			return
		}

		track, err := suite.ProcessDetection(det)
		if err != nil {
			return
		}

		proposal, err := suite.ProcessTrack(track)
		if err != nil {
			return
		}

		decision, err := suite.ApproveProposal(proposal, "commander-alpha")
		if err != nil {
			return
		}

		_, err = suite.ExecuteDecision(decision)
		if err != nil {
			return
		}

		done <- true
	}()

	select {
	case <-done:
		metrics := suite.GetMetrics()
		assert.Equal(t, 1, metrics["effects"])
	case <-ctx.Done():
		t.Fatal("Test timed out")
	}
}

// TestConcurrentDetections tests concurrent detection processing
func TestConcurrentDetections(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	numDetections := 10
	var wg sync.WaitGroup

	for i := 0; i < numDetections; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			det := messages.NewDetection(fmt.Sprintf("sensor-%03d", index), "radar")
			det.TrackID = fmt.Sprintf("track-%03d", index)
			det.Confidence = 0.8
			det.Envelope.CorrelationID = uuid.New().String()

			err := suite.PublishDetection(det)
			assert.NoError(t, err)

			_, err = suite.ProcessDetection(det)
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()

	metrics := suite.GetMetrics()
	assert.Equal(t, numDetections, metrics["detections"])
	assert.Equal(t, numDetections, metrics["tracks"])
}

// TestProposalTimeout tests that a proposal's authorization window is bounded
func TestProposalTimeout(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.9

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	track, _ := suite.ProcessDetection(det)
	proposal, _ := suite.ProcessTrack(track)

	// Manually expire the proposal's authorization window
	proposal.RequestedAt = time.Now().Add(-1 * time.Hour)

	// In the real authorizer, a proposal past RequestedAt+TimeoutSeconds
	// is marked expired by a timeout sweep; this mock approves it anyway.
	decision, err := suite.ApproveProposal(proposal, "commander-alpha")
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

// TestMessageSubjects tests that message subjects are correctly generated
func TestMessageSubjects(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	det := messages.NewDetection("sensor-001", "radar")
	det.TrackID = "track-001"
	det.Confidence = 0.9

	err := suite.PublishDetection(det)
	require.NoError(t, err)

	assert.Equal(t, "detect.sensor-001.radar", det.Subject())

	track, _ := suite.ProcessDetection(det)
	assert.Equal(t, "track.track_created.track-001", track.Subject())

	proposal, _ := suite.ProcessTrack(track)
	assert.Contains(t, proposal.Subject(), "engagement.proposal.")

	decision, _ := suite.ApproveProposal(proposal, "commander-alpha")
	assert.Contains(t, decision.Subject(), "decision.approved.")

	effectLog, _ := suite.ExecuteDecision(decision)
	assert.Contains(t, effectLog.Subject(), "effect.Completed.")
}

// TestPipelineMetrics tests that metrics are correctly tracked
func TestPipelineMetrics(t *testing.T) {
	suite := NewIntegrationTestSuite()
	defer suite.Close()

	metrics := suite.GetMetrics()
	assert.Equal(t, 0, metrics["detections"])
	assert.Equal(t, 0, metrics["tracks"])
	assert.Equal(t, 0, metrics["proposals"])
	assert.Equal(t, 0, metrics["decisions"])
	assert.Equal(t, 0, metrics["effects"])

	for i := 0; i < 5; i++ {
		det := messages.NewDetection(fmt.Sprintf("sensor-%03d", i), "radar")
		det.TrackID = fmt.Sprintf("track-%03d", i)
		det.Confidence = 0.9

		suite.PublishDetection(det)
		track, _ := suite.ProcessDetection(det)
		proposal, _ := suite.ProcessTrack(track)
		decision, _ := suite.ApproveProposal(proposal, "commander-alpha")
		suite.ExecuteDecision(decision)
	}

	metrics = suite.GetMetrics()
	assert.Equal(t, 5, metrics["detections"])
	assert.Equal(t, 5, metrics["tracks"])
	assert.Equal(t, 5, metrics["proposals"])
	assert.Equal(t, 5, metrics["decisions"])
	assert.Equal(t, 5, metrics["effects"])
}
