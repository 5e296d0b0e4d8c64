// Engagement Engine - the consolidated core process. It owns the Track
// Manager, Threat Assessor, and Engagement Manager in one address space
// (they share a single *track.Manager by concrete pointer, so they cannot
// be split across processes without inventing a distributed track-identity
// scheme) and exposes their state to the rest of the platform purely as
// NATS JetStream output: fused tracks, alerts, engagement proposals, and
// effect logs. The only inbound NATS traffic it consumes is raw detections
// and the authorizer's decisions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cuas/core/pkg/agent"
	"github.com/cuas/core/pkg/effector"
	"github.com/cuas/core/pkg/engagement"
	"github.com/cuas/core/pkg/geo"
	"github.com/cuas/core/pkg/messages"
	"github.com/cuas/core/pkg/natsstreams"
	"github.com/cuas/core/pkg/opa"
	"github.com/cuas/core/pkg/threat"
	"github.com/cuas/core/pkg/track"
)

// engagementThreshold is the minimum track threat level that triggers an
// automatic engagement recommendation. Below this, a track is tracked and
// alerted on but never handed to the Engagement Manager.
const engagementThreshold = 3

// EngagementEngine wraps the fused track/threat/engagement core and its
// NATS ingress and egress.
type EngagementEngine struct {
	*agent.BaseAgent
	logger zerolog.Logger

	tracks     *track.Manager
	assessor   *threat.Assessor
	engagement *engagement.Manager
	opaClient  *opa.Client
	effectLog  *engagement.MemoryEffectLog

	detections jetstream.Consumer
	decisions  jetstream.Consumer

	effectors    []effector.Effector
	basePosition geo.Position
}

// NewEngagementEngine wires the three domain managers together. base is the
// defended asset's position every range calculation in the recommender is
// measured against; the threat assessor measures against its own configured
// defended assets.
func NewEngagementEngine(cfg agent.Config, base geo.Position, opaURL string) (*EngagementEngine, error) {
	baseAgent, err := agent.NewBaseAgent(cfg)
	if err != nil {
		return nil, err
	}

	e := &EngagementEngine{
		BaseAgent:    baseAgent,
		logger:       *baseAgent.Logger(),
		opaClient:    opa.NewClient(opaURL),
		basePosition: base,
	}

	e.tracks = track.NewManager(track.DefaultConfig(), e.onTrackEvent, e.logger)
	e.assessor = threat.New(threat.DefaultConfig(), e.tracks, e, e.logger)
	e.engagement = engagement.New(engagement.DefaultConfig(), e.tracks, base, e.onEngagementEvent, e.logger)
	e.effectLog = engagement.NewMemoryEffectLog()
	e.engagement.SetEffectLog(e.effectLog)

	for _, family := range effector.ListFamilies() {
		id := fmt.Sprintf("%s-01", family)
		eff, err := effector.Create(family, id, string(family)+" battery 1", e.onEffectorEvent)
		if err != nil {
			return nil, fmt.Errorf("failed to create effector %s: %w", family, err)
		}
		eff.SetPosition(base)
		eff.Initialize(time.Now().UTC())
		e.engagement.RegisterEffector(eff)
		e.effectors = append(e.effectors, eff)
	}

	return e, nil
}

// Run starts the engine: the Track Manager and Threat Assessor cadence
// loops, the NATS consumers, and the Engagement Manager's own poll ticker.
func (e *EngagementEngine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start base agent: %w", err)
	}

	if err := natsstreams.SetupStreams(ctx, e.JetStream()); err != nil {
		return fmt.Errorf("failed to setup streams: %w", err)
	}

	detections, err := natsstreams.SetupConsumer(ctx, e.JetStream(), "DETECTIONS", "engagement")
	if err != nil {
		return fmt.Errorf("failed to setup detections consumer: %w", err)
	}
	e.detections = detections

	decisions, err := natsstreams.SetupConsumer(ctx, e.JetStream(), "ENGAGEMENTS", "engagement-decisions")
	if err != nil {
		return fmt.Errorf("failed to setup decisions consumer: %w", err)
	}
	e.decisions = decisions

	e.tracks.Start(ctx)
	defer e.tracks.Stop()
	e.assessor.Start(ctx)
	defer e.assessor.Stop()

	go e.tickEngagement(ctx)
	go e.consumeDecisions(ctx)

	e.logger.Info().Msg("Engagement engine started")
	return e.consumeDetections(ctx)
}

// tickEngagement drives the Engagement Manager's authorization-timeout and
// completion polling, mirroring the reference engine's dedicated timer.
func (e *EngagementEngine) tickEngagement(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.engagement.Tick()
			for _, eff := range e.effectors {
				eff.Tick(now)
			}
		}
	}
}

func (e *EngagementEngine) consumeDetections(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := e.detections.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if err == context.DeadlineExceeded || err == context.Canceled {
				continue
			}
			e.logger.Error().Err(err).Msg("failed to fetch detections")
			e.RecordError("fetch_error")
			time.Sleep(time.Second)
			continue
		}

		for msg := range msgs.Messages() {
			if err := e.processDetection(msg); err != nil {
				e.logger.Error().Err(err).Msg("failed to process detection")
				e.RecordError("process_error")
				msg.Nak()
				continue
			}
			msg.Ack()
		}
	}
}

func (e *EngagementEngine) processDetection(msg jetstream.Msg) error {
	start := time.Now()

	var det messages.Detection
	if err := json.Unmarshal(msg.Data(), &det); err != nil {
		return fmt.Errorf("failed to unmarshal detection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	decision, err := e.opaClient.CheckOrigin(ctx, det.Envelope)
	cancel()
	if err != nil {
		e.logger.Warn().Err(err).Msg("origin check unavailable, admitting detection")
	} else if !decision.Allowed {
		e.logger.Warn().Strs("reasons", decision.Reasons).Str("sensor_id", det.SensorID).Msg("detection rejected by origin policy")
		e.RecordMessage("rejected", "detection")
		return nil
	}

	ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	handling, err := e.opaClient.CheckDataHandling(ctx, e.ID(), string(agent.AgentTypeEngagement), det)
	cancel()
	if err != nil {
		e.logger.Warn().Err(err).Msg("data handling check unavailable, admitting detection")
	} else if !handling.Allowed {
		e.logger.Warn().Strs("reasons", handling.Reasons).Str("sensor_id", det.SensorID).Msg("detection rejected by data handling policy")
		e.RecordMessage("rejected", "detection")
		return nil
	}

	pos := geo.Position{LatDeg: det.Position.Lat, LonDeg: det.Position.Lon, AltM: det.Position.Alt}
	now := time.Now().UTC()

	var id string
	var created bool
	switch det.SensorType {
	case "rf":
		id, created = e.tracks.IngestRF(pos, det.Confidence, now)
	case "camera":
		id, created = e.tracks.IngestCamera(track.CameraDetection{EstimatedPos: pos}, now)
	default:
		vel := headingSpeedToVelocity(det.Velocity.Speed, det.Velocity.Heading)
		id, created = e.tracks.IngestRadar(pos, vel, det.Confidence, now)
	}

	e.logger.Debug().Str("track_id", id).Bool("created", created).Str("sensor_type", det.SensorType).Msg("ingested detection")
	e.RecordMessage("success", "detection")
	e.RecordLatency("detection", time.Since(start))
	return nil
}

func (e *EngagementEngine) consumeDecisions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := e.decisions.Fetch(5, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if err == context.DeadlineExceeded || err == context.Canceled {
				continue
			}
			e.logger.Error().Err(err).Msg("failed to fetch decisions")
			time.Sleep(time.Second)
			continue
		}

		for msg := range msgs.Messages() {
			e.processDecision(msg)
			msg.Ack()
		}
	}
}

func (e *EngagementEngine) processDecision(msg jetstream.Msg) {
	var dec messages.Decision
	if err := json.Unmarshal(msg.Data(), &dec); err != nil {
		e.logger.Error().Err(err).Msg("failed to unmarshal decision")
		return
	}

	if e.engagement.CurrentEngagementID() != dec.EngagementID {
		e.logger.Warn().Str("engagement_id", dec.EngagementID).Msg("decision for unknown or stale engagement")
		return
	}

	if !dec.Approved {
		e.engagement.Deny(dec.Reason)
		return
	}

	e.engagement.Authorize(dec.ApprovedBy)

	req := e.engagement.CurrentAuthorizationRequest()
	_, alreadyExecuted := e.effectLog.Lookup(engagement.EffectIdempotencyKey(dec.EngagementID, req.EffectorID))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	gate, err := e.opaClient.CheckEffectRelease(ctx, dec, req, string(req.EffectorFamily), alreadyExecuted)
	cancel()
	if err != nil {
		e.logger.Warn().Err(err).Msg("effect release check unavailable, admitting execution")
	} else if !gate.Allowed {
		e.logger.Warn().Strs("reasons", gate.Reasons).Str("engagement_id", dec.EngagementID).Msg("effect release denied by policy")
		e.engagement.Abort("policy gate: " + firstOrDefault(gate.Reasons, "denied"))
		return
	}

	e.engagement.Execute()
}

// onTrackEvent is the Track Manager's sink: it publishes a TrackMessage for
// observability and forwards the event to the Engagement Manager, which
// reacts to a drop of its selected track.
func (e *EngagementEngine) onTrackEvent(ev track.Event) {
	e.engagement.HandleTrackEvent(ev)

	tr, ok := e.tracks.ByID(ev.TrackID)
	if !ok {
		return
	}

	msg := messages.NewTrackMessage(e.ID(), string(ev.Type))
	msg.TrackID = tr.ID
	msg.State = string(tr.State)
	msg.Classification = string(tr.Classification)
	msg.Position = messages.Position{Lat: tr.Position.LatDeg, Lon: tr.Position.LonDeg, Alt: tr.Position.AltM}
	msg.Velocity = messages.Velocity{Speed: tr.Velocity.Speed(), Heading: tr.Velocity.HeadingDeg()}
	msg.ThreatLevel = tr.ThreatLevel
	msg.Engaged = tr.Engaged
	msg.FirstSeen = tr.CreatedAt
	msg.LastUpdated = tr.LastUpdate
	for src := range tr.Sources {
		msg.Sources = append(msg.Sources, string(src))
	}
	e.publish(msg.Subject(), msg)

	if ev.Type == track.EventHighThreatDetected && tr.Classification == track.ClassificationHostile {
		e.maybeRecommendEngagement(tr.ID)
	}
}

// NewAlert implements threat.Sink: publish the alert and, on a critical
// severity raised against a hostile track not already in an engagement
// workflow, kick off the recommendation.
func (e *EngagementEngine) NewAlert(al threat.Alert) {
	msg := messages.NewAlertMessage(e.ID())
	msg.AlertID = al.ID
	msg.TrackID = al.TrackID
	msg.Severity = string(al.Severity)
	msg.Reason = al.Message
	msg.AssetID = al.AssetID
	msg.RaisedAt = al.At
	if tr, ok := e.tracks.ByID(al.TrackID); ok {
		msg.ThreatLevel = tr.ThreatLevel
		msg.Position = messages.Position{Lat: tr.Position.LatDeg, Lon: tr.Position.LonDeg, Alt: tr.Position.AltM}
	}
	e.publish(msg.Subject(), msg)

	if al.Severity == threat.SeverityCritical {
		e.maybeRecommendEngagement(al.TrackID)
	}
}

// maybeRecommendEngagement starts the engagement workflow for a hostile
// track above the engagement threshold, unless one is already in flight.
func (e *EngagementEngine) maybeRecommendEngagement(trackID string) {
	tr, ok := e.tracks.ByID(trackID)
	if !ok || tr.Classification != track.ClassificationHostile || tr.ThreatLevel < engagementThreshold {
		return
	}
	switch e.engagement.State() {
	case engagement.StateIdle, engagement.StateCompleted, engagement.StateAborted, engagement.StateFailed:
	default:
		return
	}
	e.engagement.SelectTrack(trackID)
}

// onEngagementEvent is the Engagement Manager's sink. AuthorizationRequested
// runs the engagement policy gate and either publishes the proposal for the
// human authorizer or denies it outright; Completed/Aborted/Failed publish
// an EffectLog.
func (e *EngagementEngine) onEngagementEvent(ev engagement.Event) {
	switch ev.Type {
	case engagement.EventAuthorizationRequested:
		e.handleAuthorizationRequested(ev)
	case engagement.EventCompleted, engagement.EventAborted, engagement.EventFailed:
		e.publishEffectLog(ev)
	}
}

func (e *EngagementEngine) handleAuthorizationRequested(ev engagement.Event) {
	req := ev.Request

	proposal := messages.NewEngagementProposal(e.ID())
	proposal.EngagementID = req.EngagementID
	proposal.TrackID = req.TrackID
	proposal.EffectorID = req.EffectorID
	proposal.EffectorFamily = string(req.EffectorFamily)
	proposal.TargetPosition = messages.Position{Lat: req.TargetPosition.LatDeg, Lon: req.TargetPosition.LonDeg, Alt: req.TargetPosition.AltM}
	proposal.Distance = req.Distance
	proposal.ThreatLevel = req.ThreatLevel
	proposal.Classification = string(req.Classification)
	proposal.Reason = req.RecommendationReason
	proposal.RequestedAt = req.RequestTime
	proposal.TimeoutSeconds = req.TimeoutSeconds

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr, trackExists := e.tracks.ByID(req.TrackID)
	pending := []interface{}{}
	gate, err := e.opaClient.CheckEngagementProposal(ctx, proposal, tr, trackExists, pending)
	if err != nil {
		e.logger.Warn().Err(err).Msg("engagement policy check unavailable, admitting proposal")
	} else if !gate.Allowed {
		e.logger.Warn().Strs("reasons", gate.Reasons).Str("engagement_id", req.EngagementID).Msg("engagement proposal denied by policy")
		e.engagement.Deny("policy gate: " + firstOrDefault(gate.Reasons, "denied"))
		return
	} else {
		proposal.PolicyDecision = messages.PolicyDecision{Allowed: gate.Allowed, Reasons: gate.Reasons, Warnings: gate.Warnings}
	}

	e.publish(proposal.Subject(), proposal)
}

func (e *EngagementEngine) publishEffectLog(ev engagement.Event) {
	log := &messages.EffectLog{
		Envelope:      messages.NewEnvelope(e.ID(), "engagement"),
		EffectID:      uuid.New().String(),
		EngagementID:  ev.EngagementID,
		TrackID:       ev.TrackID,
		EffectorID:    ev.EffectorID,
		FinalState:    string(ev.State),
		BDAResult:     string(ev.BDAResult),
		ExecutedAt:    time.Now().UTC(),
		CompletedAt:   time.Now().UTC(),
		IdempotentKey: ev.EngagementID,
		Notes:         ev.Reason,
	}
	e.publish(log.Subject(), log)
}

// onEffectorEvent is every registered effector's sink: forward to the
// Engagement Manager's own effector-event handler, which detects
// engagement completion when the selected effector stops being engaged.
func (e *EngagementEngine) onEffectorEvent(ev effector.Event) {
	e.engagement.HandleEffectorEvent(ev)
	if ev.Type == effector.EventFault {
		e.logger.Warn().Str("effector_id", ev.EffectorID).Str("message", ev.Message).Msg("effector fault")
	}
}

func (e *EngagementEngine) publish(subject string, msg messages.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error().Err(err).Str("subject", subject).Msg("failed to marshal message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.JetStream().Publish(ctx, subject, data); err != nil {
		e.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish message")
	}
}

func firstOrDefault(s []string, def string) string {
	if len(s) > 0 {
		return s[0]
	}
	return def
}

// headingSpeedToVelocity converts a speed/heading pair into a north/east
// velocity vector; down is unmodeled since detections don't carry climb rate.
func headingSpeedToVelocity(speed, headingDeg float64) geo.Velocity {
	rad := headingDeg * math.Pi / 180
	return geo.Velocity{
		NorthMps: speed * math.Cos(rad),
		EastMps:  speed * math.Sin(rad),
	}
}

func main() {
	base := geo.Position{
		LatDeg: getEnvFloat("BASE_LAT", 38.8719),
		LonDeg: getEnvFloat("BASE_LON", -77.0563),
		AltM:   getEnvFloat("BASE_ALT", 0),
	}

	cfg := agent.Config{
		ID:      getEnv("AGENT_ID", "engagement-"+uuid.New().String()[:8]),
		Type:    agent.AgentTypeEngagement,
		NATSUrl: getEnv("NATS_URL", "nats://localhost:4222"),
		OPAUrl:  getEnv("OPA_URL", "http://localhost:8181"),
		Secret:  []byte(getEnv("AGENT_SECRET", "engagement-secret")),
	}

	engine, err := NewEngagementEngine(cfg, base, cfg.OPAUrl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create engagement engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		metricsAddr := getEnv("METRICS_ADDR", ":9090")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(engine.Metrics(), promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			health := engine.Health()
			if health.Healthy {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			json.NewEncoder(w).Encode(health)
		})
		engine.logger.Info().Str("addr", metricsAddr).Msg("starting metrics server")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			engine.logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			engine.logger.Error().Err(err).Msg("engagement engine error")
			cancel()
		}
	}()

	sig := <-sigCh
	engine.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := engine.Stop(shutdownCtx); err != nil {
		engine.logger.Error().Err(err).Msg("error during shutdown")
	}
	engine.logger.Info().Msg("engagement engine stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
