package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/skuflow-io/skuflow/internal/config"
)

const (
	defaultDeliveryTimeout = 30 * time.Second
	defaultTestTimeout     = 10 * time.Second
	defaultBackoffBase     = 1 * time.Second
	defaultRateLimit       = 20
	defaultRateBurst       = 20

	// maxTestBodyBytes bounds the response body echoed back from a manual
	// test delivery.
	maxTestBodyBytes = 500
)

// Summary status values.
const (
	StatusSuccess    = "success"
	StatusNoWebhooks = "no_webhooks"
	StatusError      = "error"
)

type (
	// Config holds dispatcher configuration.
	Config struct {
		// DeliveryTimeout is the per-request timeout for pipeline-triggered deliveries.
		DeliveryTimeout time.Duration

		// TestTimeout is the per-request timeout for manual test deliveries.
		TestTimeout time.Duration

		// BackoffBase is the base delay for exponential backoff between
		// attempts: base × 2^attempt with a zero-based attempt index.
		BackoffBase time.Duration

		// RateLimit caps outbound requests per second across all endpoints.
		// Zero disables rate limiting.
		RateLimit float64

		// RateBurst is the rate limiter burst size.
		RateBurst int
	}

	// Sleeper blocks for the given duration or until the context is done.
	// Tests inject a zero-delay sleeper to exercise the retry loop without
	// real waits.
	Sleeper func(ctx context.Context, d time.Duration) error

	// Dispatcher delivers event payloads to subscribed endpoints.
	//
	// Endpoints are iterated sequentially; each endpoint's retry loop is
	// independent and shares no timing state with others. Telemetry is
	// written after every attempt, success or failure.
	Dispatcher struct {
		store   Store
		client  *http.Client
		cfg     *Config
		limiter *rate.Limiter
		sleep   Sleeper
		now     func() time.Time
		logger  *slog.Logger
	}

	// Option configures optional Dispatcher behavior.
	Option func(*Dispatcher)

	// TestResult is the outcome of a manual test delivery.
	TestResult struct {
		StatusCode *int
		Latency    *float64 // seconds
		Body       string
		TimedOut   bool
		Err        error
	}
)

// LoadConfig loads dispatcher configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		DeliveryTimeout: config.GetEnvDuration("WEBHOOK_DELIVERY_TIMEOUT", defaultDeliveryTimeout),
		TestTimeout:     config.GetEnvDuration("WEBHOOK_TEST_TIMEOUT", defaultTestTimeout),
		BackoffBase:     config.GetEnvDuration("WEBHOOK_BACKOFF_BASE", defaultBackoffBase),
		RateLimit:       float64(config.GetEnvInt("WEBHOOK_RATE_LIMIT", defaultRateLimit)),
		RateBurst:       config.GetEnvInt("WEBHOOK_RATE_BURST", defaultRateBurst),
	}
}

// WithSleeper overrides the inter-attempt sleep. Used by tests to inject a
// zero-delay clock.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) {
		d.sleep = s
	}
}

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// WithClock overrides the time source used for telemetry timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a Dispatcher over the given endpoint store.
func NewDispatcher(store Store, cfg *Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		store:  store,
		client: &http.Client{},
		cfg:    cfg,
		sleep:  sleepContext,
		now:    time.Now,
		logger: logger,
	}

	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Backoff returns the delay before the next attempt: base × 2^attempt with a
// zero-based attempt index (1s, 2s, 4s, ... for a 1s base).
func Backoff(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}

// Dispatch delivers the payload to every active endpoint subscribed to the
// event type and returns an aggregate summary.
//
// The payload is augmented with the event type and a timestamp before
// sending. Individual delivery failures are retried per endpoint up to its
// budget and then counted, never raised. A top-level error (e.g. the endpoint
// store being unavailable) is caught and reported as an error-status summary
// without raising further.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]interface{}) *Summary {
	endpoints, err := d.store.ListActiveByEvent(ctx, eventType)
	if err != nil {
		d.logger.Error("failed to list webhook endpoints",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)

		return &Summary{Status: StatusError, Message: err.Error()}
	}

	if len(endpoints) == 0 {
		return &Summary{
			Status:  StatusNoWebhooks,
			Message: fmt.Sprintf("no endpoints configured for event %s", eventType),
		}
	}

	body, err := json.Marshal(d.augment(eventType, payload))
	if err != nil {
		return &Summary{Status: StatusError, Message: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	summary := &Summary{Status: StatusSuccess, Total: len(endpoints)}

	for _, endpoint := range endpoints {
		if d.deliver(ctx, endpoint, body) {
			summary.Triggered++
		} else {
			summary.Failed++
		}
	}

	summary.Message = fmt.Sprintf("triggered %d of %d endpoints", summary.Triggered, summary.Total)

	return summary
}

// Notify dispatches an event and logs the summary. This is the entry point
// the ingest pipeline uses for terminal events, where the aggregate outcome
// is observability, not control flow.
func (d *Dispatcher) Notify(ctx context.Context, eventType string, payload map[string]interface{}) {
	summary := d.Dispatch(ctx, eventType, payload)

	d.logger.Info("webhook dispatch finished",
		slog.String("event_type", eventType),
		slog.String("status", summary.Status),
		slog.Int("total", summary.Total),
		slog.Int("triggered", summary.Triggered),
		slog.Int("failed", summary.Failed),
	)
}

// SendTest performs a single manual test delivery against one endpoint with
// the shorter test timeout. Telemetry is updated exactly as for pipeline
// deliveries. The response body is truncated for display.
func (d *Dispatcher) SendTest(ctx context.Context, endpointID int64) (*TestResult, error) {
	endpoint, err := d.store.Find(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"test":    true,
		"message": fmt.Sprintf("Test trigger for %s", endpoint.EventType),
		"data": map[string]interface{}{
			"webhook_id":  endpoint.ID,
			"webhook_url": endpoint.URL,
		},
	}

	body, err := json.Marshal(d.augment(endpoint.EventType, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encode test payload: %w", err)
	}

	attempt := d.post(ctx, endpoint.URL, body, d.cfg.TestTimeout, true)
	d.recordAttempt(ctx, endpoint, &attempt)

	result := &TestResult{
		StatusCode: attempt.StatusCode,
		TimedOut:   isTimeout(attempt.Err),
		Err:        attempt.Err,
		Body:       attempt.body,
	}

	if attempt.StatusCode != nil {
		latency := attempt.Elapsed.Seconds()
		result.Latency = &latency
	}

	return result, nil
}

// deliver runs the retry loop for one endpoint. Returns true when a 2xx
// response was received within the endpoint's attempt budget.
func (d *Dispatcher) deliver(ctx context.Context, endpoint *Endpoint, body []byte) bool {
	attempts := endpoint.RetryCount + 1

	for i := 0; i < attempts; i++ {
		attempt := d.post(ctx, endpoint.URL, body, d.cfg.DeliveryTimeout, false)
		attempt.Attempt = i

		d.recordAttempt(ctx, endpoint, &attempt)

		if attempt.Delivered() {
			return true
		}

		d.logger.Warn("webhook delivery attempt failed",
			slog.Int64("endpoint_id", endpoint.ID),
			slog.String("url", endpoint.URL),
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", attempts),
		)

		if i < attempts-1 {
			if err := d.sleep(ctx, Backoff(d.cfg.BackoffBase, i)); err != nil {
				// Context cancelled mid-backoff: stop retrying this endpoint.
				return false
			}
		}
	}

	return false
}

// attemptResult extends DeliveryAttempt with the response body, which only
// manual test deliveries surface.
type attemptResult struct {
	DeliveryAttempt
	body string
}

// post performs one HTTP POST with the given timeout and classifies the outcome.
func (d *Dispatcher) post(ctx context.Context, endpointURL string, body []byte, timeout time.Duration, captureBody bool) attemptResult {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(reqCtx); err != nil {
			return attemptResult{DeliveryAttempt: DeliveryAttempt{Err: err}}
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{DeliveryAttempt: DeliveryAttempt{Err: err}}
	}

	req.Header.Set("Content-Type", "application/json")

	start := d.now()

	resp, err := d.client.Do(req)

	elapsed := d.now().Sub(start)
	if err != nil {
		return attemptResult{DeliveryAttempt: DeliveryAttempt{Elapsed: elapsed, Err: err}}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	result := attemptResult{DeliveryAttempt: DeliveryAttempt{
		StatusCode: &resp.StatusCode,
		Elapsed:    elapsed,
	}}

	if captureBody {
		truncated, _ := io.ReadAll(io.LimitReader(resp.Body, maxTestBodyBytes))
		result.body = string(truncated)
	}

	return result
}

// recordAttempt persists delivery telemetry. Telemetry failures are logged
// and swallowed: losing a telemetry write must not fail a delivery.
func (d *Dispatcher) recordAttempt(ctx context.Context, endpoint *Endpoint, attempt *attemptResult) {
	var latency *float64

	if attempt.StatusCode != nil {
		seconds := attempt.Elapsed.Seconds()
		latency = &seconds
	}

	if err := d.store.RecordDelivery(ctx, endpoint.ID, d.now(), attempt.StatusCode, latency); err != nil {
		d.logger.Error("failed to record webhook delivery telemetry",
			slog.Int64("endpoint_id", endpoint.ID),
			slog.String("error", err.Error()),
		)
	}
}

// augment copies the payload and stamps the event type and timestamp.
func (d *Dispatcher) augment(eventType string, payload map[string]interface{}) map[string]interface{} {
	augmented := make(map[string]interface{}, len(payload)+2)

	for k, v := range payload {
		augmented[k] = v
	}

	augmented["event"] = eventType
	augmented["timestamp"] = d.now().UTC().Format(time.RFC3339)

	return augmented
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTimeout reports whether the delivery error was a timeout rather than a
// generic transport failure.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}

	return false
}
