// Package notify delivers pipeline failure alerts.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"etl-orchestrator/internal/domain"
)

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "alerts")}
}

var _ domain.Notifier = (*LogNotifier)(nil)

// Notify logs the alert at error level.
func (n *LogNotifier) Notify(_ context.Context, a domain.Alert) error {
	n.logger.Error("pipeline failed",
		"pipeline", a.Pipeline, "batch_id", a.BatchID, "reason", a.Reason, "recipients", a.Recipients)
	return nil
}

// WebhookNotifier POSTs each alert as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. client may be nil.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	return &WebhookNotifier{url: url, client: client}
}

var _ domain.Notifier = (*WebhookNotifier)(nil)

// Notify sends the alert. Any non-2xx response is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, a domain.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ErrThrottled is returned when an alert is dropped by the rate limit.
var ErrThrottled = errors.New("alert dropped: rate limit exceeded")

// Throttled drops alerts beyond a token bucket rate.
type Throttled struct {
	next    domain.Notifier
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewThrottled allows perMinute alerts per minute with a burst of the same size.
func NewThrottled(next domain.Notifier, perMinute int, logger *slog.Logger) *Throttled {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger.With("component", "alerts"),
	}
}

var _ domain.Notifier = (*Throttled)(nil)

// Notify forwards the alert when a token is available.
func (t *Throttled) Notify(ctx context.Context, a domain.Alert) error {
	if !t.limiter.Allow() {
		t.logger.Warn("alert throttled", "pipeline", a.Pipeline, "batch_id", a.BatchID)
		return ErrThrottled
	}
	return t.next.Notify(ctx, a)
}

// Multi fans an alert out to several notifiers and joins their errors.
type Multi []domain.Notifier

var _ domain.Notifier = Multi(nil)

// Notify calls every notifier.
func (m Multi) Notify(ctx context.Context, a domain.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers alerts on background goroutines so slow channels never
// delay a run. Delivery errors are logged.
type Async struct {
	next   domain.Notifier
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsync wraps next.
func NewAsync(next domain.Notifier, logger *slog.Logger) *Async {
	return &Async{next: next, logger: logger.With("component", "alerts")}
}

var _ domain.Notifier = (*Async)(nil)

// Notify queues the alert and returns immediately.
func (a *Async) Notify(ctx context.Context, alert domain.Alert) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.next.Notify(context.WithoutCancel(ctx), alert); err != nil {
			a.logger.Warn("alert delivery failed", "pipeline", alert.Pipeline, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every queued alert has been delivered or dropped.
func (a *Async) Wait() {
	a.wg.Wait()
}

// New builds the notifier chain of the server: the log notifier, plus the
// webhook when url is set, throttled and delivered asynchronously.
func New(webhookURL string, perMinute int, logger *slog.Logger) *Async {
	chain := Multi{NewLogNotifier(logger)}
	if webhookURL != "" {
		chain = append(chain, NewWebhookNotifier(webhookURL, nil))
	}
	return NewAsync(NewThrottled(chain, perMinute, logger), logger)
}
