// Package notify delivers session lifecycle events to an external platform
// endpoint as JSON webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bitriver-relay/internal/events"
	"bitriver-relay/internal/observability/metrics"
)

const (
	defaultMaxAttempts   = 3
	defaultRetryInterval = 500 * time.Millisecond
	defaultHTTPTimeout   = 10 * time.Second
)

// Config controls webhook delivery.
type Config struct {
	// Endpoint receives POSTed lifecycle events.
	Endpoint string
	// Token, when set, is sent as a bearer credential so the platform can
	// authenticate callbacks.
	Token string
	// Client overrides the HTTP client used for deliveries.
	Client *http.Client
	// MaxAttempts bounds deliveries per event, including the first try.
	MaxAttempts int
	// RetryInterval is the base delay between attempts; the wait grows
	// linearly with the attempt number.
	RetryInterval time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Notifier drains a queue subscription and posts each event to the
// configured endpoint. Delivery is best effort: an event that exhausts its
// attempts is logged and dropped so the stream keeps moving.
type Notifier struct {
	queue         events.Queue
	endpoint      string
	token         string
	client        *http.Client
	logger        *slog.Logger
	metrics       *metrics.Recorder
	maxAttempts   int
	retryInterval time.Duration
}

// New validates cfg and returns a notifier bound to queue.
func New(queue events.Queue, cfg Config) (*Notifier, error) {
	if queue == nil {
		return nil, errors.New("notify: queue is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("notify: endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &Notifier{
		queue:         queue,
		endpoint:      endpoint,
		token:         strings.TrimSpace(cfg.Token),
		client:        client,
		logger:        logger.With("component", "notify"),
		metrics:       recorder,
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
	}, nil
}

// Run blocks delivering events until ctx is cancelled or the subscription
// closes.
func (n *Notifier) Run(ctx context.Context) error {
	sub := n.queue.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.Events():
			if !ok {
				return nil
			}
			n.deliver(ctx, evt)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, evt events.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("encode webhook payload", "eventId", evt.ID, "error", err)
		return
	}
	label := string(evt.Type)

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		n.metrics.ObserveNotifyAttempt(label)
		lastErr = n.post(ctx, payload)
		if lastErr == nil {
			n.logger.Debug("webhook delivered", "eventId", evt.ID, "type", label, "attempt", attempt)
			return
		}
		n.metrics.ObserveNotifyFailure(label)
		if attempt == n.maxAttempts {
			break
		}
		n.logger.Warn("webhook delivery failed",
			"eventId", evt.ID,
			"type", label,
			"attempt", attempt,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.retryInterval * time.Duration(attempt)):
		}
	}
	n.logger.Error("webhook delivery abandoned",
		"eventId", evt.ID,
		"type", label,
		"attempts", n.maxAttempts,
		"error", lastErr,
	)
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
