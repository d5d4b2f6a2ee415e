package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

const (
	// StreamName is the name of the broadcast stream.
	StreamName = "BROADCASTS"

	// SubjectPrefix is the prefix for all broadcast subjects.
	SubjectPrefix = "broadcast"

	privatePrefix = "private-"
)

// Subject maps a channel name to its NATS subject. The private- prefix is
// dropped so "private-conversation.7" and "conversation.7" share a subject.
func Subject(channel string) string {
	return SubjectPrefix + "." + strings.TrimPrefix(channel, privatePrefix)
}

// Subscription is an active broadcast subscription.
type Subscription interface {
	Unsubscribe() error
}

// StreamManager publishes and subscribes to broadcast events.
type StreamManager struct {
	client *Client
	maxAge time.Duration
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client, maxAge: 24 * time.Hour}
}

// EnsureStream creates the broadcast stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.maxAge,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Description: "Real-time broadcast events for private channels",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish publishes an envelope on its channel and waits for the stream ack.
func (m *StreamManager) Publish(ctx context.Context, env model.Envelope) (uint64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, Subject(env.Channel), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish %s: %w", env.Event, err)
	}
	return ack.Sequence, nil
}

// Subscribe delivers every envelope published on channel to handler as raw JSON.
// Delivery is live only; past events are not replayed.
func (m *StreamManager) Subscribe(channel string, handler func(data []byte)) (Subscription, error) {
	sub, err := m.client.Conn().Subscribe(Subject(channel), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return sub, nil
}

// RecordStats exports the stream's size to metrics.
func (m *StreamManager) RecordStats(ctx context.Context) {
	stream, err := m.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		m.client.logger.Debug("stream info unavailable", zap.Error(err))
		return
	}
	info, err := stream.Info(ctx)
	if err != nil {
		m.client.logger.Debug("stream info unavailable", zap.Error(err))
		return
	}
	metrics.RecordStream(StreamName, info.State.Msgs, info.State.Bytes)
}
