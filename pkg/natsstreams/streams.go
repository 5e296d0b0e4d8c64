// Package natsstreams provides NATS JetStream configuration and helpers for
// the Counter-UAS platform's event bus.
package natsstreams

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfigs defines all streams used by the Counter-UAS platform.
var StreamConfigs = map[string]jetstream.StreamConfig{
	"DETECTIONS": {
		Name:              "DETECTIONS",
		Description:       "Raw sensor detection events",
		Subjects:          []string{"detect.>"},
		Retention:         jetstream.LimitsPolicy,
		MaxBytes:          1 * 1024 * 1024 * 1024, // 1GB
		MaxAge:            24 * time.Hour,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: 100000,
	},
	"TRACKS": {
		Name:        "TRACKS",
		Description: "Fused track lifecycle events",
		Subjects:    []string{"track.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    2 * 1024 * 1024 * 1024, // 2GB
		MaxAge:      72 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
	"ALERTS": {
		Name:        "ALERTS",
		Description: "Threat assessor alerts (threat transitions, asset breaches)",
		Subjects:    []string{"alert.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    512 * 1024 * 1024,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
	"ENGAGEMENTS": {
		Name:        "ENGAGEMENTS",
		Description: "Engagement proposals awaiting authorization and resulting decisions",
		Subjects:    []string{"engagement.>", "decision.>"},
		Retention:   jetstream.WorkQueuePolicy, // Consume once
		MaxBytes:    512 * 1024 * 1024,         // 512MB
		MaxAge:      1 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
	"EFFECTS": {
		Name:        "EFFECTS",
		Description: "Executed engagement effect logs with BDA outcomes",
		Subjects:    []string{"effect.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    512 * 1024 * 1024,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
}

// ConsumerConfigs defines consumers for each agent type. The engagement
// engine owns fusion, threat assessment, and effect release in one process,
// so it holds both the raw-detection and authorizer-decision consumers;
// only the authorizer itself remains a separate durable consumer.
var ConsumerConfigs = map[string]jetstream.ConsumerConfig{
	"engagement": {
		Durable:       "engagement",
		Description:   "Engagement engine consumer for raw detections",
		FilterSubject: "detect.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 1000,
	},
	"engagement-decisions": {
		Durable:       "engagement-decisions",
		Description:   "Engagement engine consumer for authorizer decisions",
		FilterSubject: "decision.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 100,
	},
	"authorizer": {
		Durable:       "authorizer",
		Description:   "Authorizer agent consumer for engagement proposals",
		FilterSubject: "engagement.proposal.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       300 * time.Second, // Longer wait for human decisions
		MaxDeliver:    1,                 // No retry for human decisions
		MaxAckPending: 100,
	},
}

// SetupStreams creates all required streams.
func SetupStreams(ctx context.Context, js jetstream.JetStream) error {
	for name, cfg := range StreamConfigs {
		_, err := js.Stream(ctx, name)
		if err == nil {
			continue // Stream exists
		}

		_, err = js.CreateStream(ctx, cfg)
		if err != nil {
			return err
		}
	}
	return nil
}

// SetupConsumer creates a consumer for an agent.
func SetupConsumer(ctx context.Context, js jetstream.JetStream, streamName, consumerName string) (jetstream.Consumer, error) {
	cfg, ok := ConsumerConfigs[consumerName]
	if !ok {
		cfg = jetstream.ConsumerConfig{
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 100,
		}
	}

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}

	consumer, err := stream.Consumer(ctx, cfg.Durable)
	if err == nil {
		return consumer, nil
	}

	return stream.CreateConsumer(ctx, cfg)
}
