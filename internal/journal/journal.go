package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/dialogue"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/pkg/logger"
	"github.com/dailogi/scene-client/pkg/metrics"
)

const (
	// StreamName is the name of the scenes stream.
	StreamName = "SCENES"

	// SubjectPrefix is the prefix for all scene subjects.
	SubjectPrefix = "scene"

	publishTimeout = 5 * time.Second
)

// Subject returns the subject an event of the given type is published on.
func Subject(sceneID, eventType string) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, sceneID, eventType)
}

// EnsureStream creates the scenes stream when it does not exist yet.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Dialogue events of streamed scenes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	c.logger.Info("created journal stream", zap.String("stream", StreamName))
	return nil
}

// Publisher sends journal events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, ev *model.JournalEvent) error
}

// Nop discards every event. It is used when no NATS server is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *model.JournalEvent) error { return nil }

// JetStreamPublisher publishes events asynchronously; acks are awaited in
// the background so a slow server never stalls a dialogue.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	logger *logger.Logger
}

// NewPublisher creates a publisher on the client's JetStream context.
func NewPublisher(c *Client) *JetStreamPublisher {
	return &JetStreamPublisher{js: c.js, logger: c.logger}
}

// Publish implements Publisher. The event id doubles as the JetStream
// message id, so retries are deduplicated by the server. ctx bounds the
// wait for the server's ack; without a deadline the wait is capped at five
// seconds.
func (p *JetStreamPublisher) Publish(ctx context.Context, ev *model.JournalEvent) error {
	if err := ctx.Err(); err != nil {
		metrics.JournalPublishTotal.WithLabelValues("canceled").Inc()
		return fmt.Errorf("failed to publish journal event: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal journal event: %w", err)
	}

	fut, err := p.js.PublishAsync(Subject(ev.SceneID, ev.Type), data, jetstream.WithMsgID(ev.ID))
	if err != nil {
		metrics.JournalPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish journal event: %w", err)
	}

	go p.await(ctx, fut, ev)
	return nil
}

func (p *JetStreamPublisher) await(ctx context.Context, fut jetstream.PubAckFuture, ev *model.JournalEvent) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	select {
	case <-fut.Ok():
		metrics.JournalPublishTotal.WithLabelValues("ok").Inc()
	case err := <-fut.Err():
		metrics.JournalPublishTotal.WithLabelValues("error").Inc()
		p.logger.Warn("journal publish failed",
			zap.String("scene_id", ev.SceneID),
			zap.String("event", ev.Type),
			zap.Error(err),
		)
	case <-ctx.Done():
		status := "timeout"
		if errors.Is(ctx.Err(), context.Canceled) {
			status = "canceled"
		}
		metrics.JournalPublishTotal.WithLabelValues(status).Inc()
		p.logger.Warn("journal publish ack not received",
			zap.String("scene_id", ev.SceneID),
			zap.String("status", status),
		)
	}
}

// Flush waits for outstanding publishes or until ctx is done.
func (p *JetStreamPublisher) Flush(ctx context.Context) error {
	select {
	case <-p.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewEvent wraps a dialogue event in a journal envelope.
func NewEvent(sceneID, userID string, ev dialogue.Event) (*model.JournalEvent, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.Type(), err)
	}
	return &model.JournalEvent{
		ID:        uuid.NewString(),
		SceneID:   sceneID,
		UserID:    userID,
		Type:      string(ev.Type()),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Hook returns an event observer that journals every event of one scene.
// Failures are logged and never interrupt the dialogue.
func Hook(pub Publisher, sceneID, userID string, log *logger.Logger) func(context.Context, dialogue.Event) {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, ev dialogue.Event) {
		je, err := NewEvent(sceneID, userID, ev)
		if err != nil {
			log.Warn("failed to build journal event", zap.String("scene_id", sceneID), zap.Error(err))
			return
		}

		// The dialogue's cancellation must not drop events already applied.
		if err := pub.Publish(context.WithoutCancel(ctx), je); err != nil {
			log.Warn("failed to journal event",
				zap.String("scene_id", sceneID),
				zap.String("event", je.Type),
				zap.Error(err),
			)
		}
	}
}
