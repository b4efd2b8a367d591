package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/tontine/internal/events"
	"github.com/smallbiznis/tontine/pkg/httpclient"
	"go.uber.org/zap"
)

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt events.Event) error
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification.log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, evt events.Event) error {
	s.log.Info("domain event",
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", string(evt.Type)),
		zap.String("aggregate_type", evt.AggregateType),
		zap.String("aggregate_id", evt.AggregateID.String()),
		zap.Time("occurred_at", evt.OccurredAt),
		zap.Any("payload", evt.Payload),
	)
	return nil
}

// WebhookSink posts events as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *retryablehttp.Client
}

func NewWebhookSink(url string, timeout time.Duration, log *zap.Logger) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: httpclient.New(log.Named("notification.webhook"), httpclient.Options{Timeout: timeout}),
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, evt events.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(evt.Type))
	req.Header.Set("X-Event-ID", evt.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
