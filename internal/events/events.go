// Package events publishes upload outcomes to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	TypeUploaded     = "image.uploaded"
	TypeUploadFailed = "image.upload_failed"

	DefaultPublishTimeout = 2 * time.Second
)

var ErrTopicRequired = errors.New("pubsub topic is required")

// Event is the JSON body of every published message.
type Event struct {
	Type       string `json:"type"`
	UploadID   string `json:"uploadId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Label      string `json:"label"`
	Filename   string `json:"filename"`
	URL        string `json:"url,omitempty"`
	MIMEType   string `json:"mimeType,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Failure    string `json:"failure,omitempty"`
	Error      string `json:"error,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PubSubPublisher publishes events to one topic and waits for the server ack.
type PubSubPublisher struct {
	Topic   *pubsub.Topic
	Timeout time.Duration
}

func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{Topic: topic, Timeout: DefaultPublishTimeout}
}

func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	if p.Topic == nil {
		return ErrTopicRequired
	}
	if e.OccurredAt == "" {
		e.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	publishCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := p.Topic.Publish(publishCtx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": e.Type, "label": e.Label},
	})
	_, err = result.Get(publishCtx)
	return err
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Logged wraps a publisher and logs failures instead of returning them.
func Logged(next Publisher, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return loggedPublisher{next: next, logger: logger}
}

type loggedPublisher struct {
	next   Publisher
	logger *slog.Logger
}

func (l loggedPublisher) Publish(ctx context.Context, e Event) error {
	if err := l.next.Publish(ctx, e); err != nil {
		l.logger.Error("publish failed for event", "type", e.Type, "upload_id", e.UploadID, "err", err)
	}
	return nil
}

func EnsureTopic(ctx context.Context, client *pubsub.Client, topicName string) error {
	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = client.CreateTopic(ctx, topicName)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// EnsureTopicWithRetry retries EnsureTopic while the emulator starts up.
func EnsureTopicWithRetry(ctx context.Context, client *pubsub.Client, topicName string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := EnsureTopic(ctx, client, topicName); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
