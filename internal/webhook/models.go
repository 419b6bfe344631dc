// Package webhook delivers terminal-event notifications to registered HTTP
// endpoints with per-endpoint retry, exponential backoff, and delivery
// telemetry. Delivery is at-least-once: a slow or flaky endpoint is retried
// up to its budget and then counted as failed without aborting other
// endpoints or the ingest job.
package webhook

import (
	"context"
	"errors"
	"time"
)

// Event types endpoints can subscribe to.
const (
	EventProductCreated     = "product_created"
	EventProductUpdated     = "product_updated"
	EventProductDeleted     = "product_deleted"
	EventBulkUploadComplete = "bulk_upload_complete"
	EventBulkUploadFailed   = "bulk_upload_failed"
	EventBulkDeleteComplete = "bulk_delete_complete"
)

// DefaultRetryCount is the retry budget applied to endpoints created without
// an explicit value.
const DefaultRetryCount = 3

// Sentinel errors for endpoint storage operations.
var (
	// ErrEndpointNotFound is returned when an endpoint ID does not exist.
	ErrEndpointNotFound = errors.New("webhook endpoint not found")

	// ErrEndpointNil is returned when a nil endpoint is provided.
	ErrEndpointNil = errors.New("webhook endpoint cannot be nil")

	// ErrInvalidEventType is returned when an endpoint subscribes to an
	// unknown event type.
	ErrInvalidEventType = errors.New("invalid webhook event type")

	// ErrURLEmpty is returned when an endpoint URL is empty.
	ErrURLEmpty = errors.New("webhook URL cannot be empty")
)

type (
	// Endpoint is a registered callback target for one event type.
	//
	// Telemetry fields (LastTriggeredAt, LastResponseCode, LastResponseTime)
	// are mutated by the Dispatcher after every delivery attempt and never by
	// the ingest pipeline directly. LastResponseCode is nil after a timeout or
	// transport error. LastResponseTime is seconds.
	Endpoint struct {
		ID               int64
		URL              string
		EventType        string
		Description      string
		Active           bool
		RetryCount       int
		LastTriggeredAt  *time.Time
		LastResponseCode *int
		LastResponseTime *float64
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// DeliveryAttempt summarizes one outbound call to an endpoint. Attempts
	// are ephemeral: only the most recent attempt's summary is retained on
	// the endpoint row.
	DeliveryAttempt struct {
		Attempt    int // zero-based attempt index
		StatusCode *int
		Elapsed    time.Duration
		Err        error
	}

	// Summary aggregates the outcome of dispatching one event across all
	// subscribed endpoints.
	Summary struct {
		Status    string // "success", "no_webhooks", or "error"
		Message   string
		Total     int
		Triggered int
		Failed    int
	}

	// Store is the endpoint persistence boundary used by the Dispatcher.
	// Endpoint rows have exactly one writer at a time by construction: only
	// the Dispatcher records delivery telemetry.
	Store interface {
		// Find retrieves an endpoint by ID.
		Find(ctx context.Context, id int64) (*Endpoint, error)

		// ListActiveByEvent returns active endpoints subscribed to the event type.
		ListActiveByEvent(ctx context.Context, eventType string) ([]*Endpoint, error)

		// RecordDelivery persists delivery telemetry for an endpoint.
		// statusCode is nil on timeout/transport error; latency is seconds.
		RecordDelivery(ctx context.Context, id int64, at time.Time, statusCode *int, latency *float64) error
	}
)

// ValidEventTypes returns all event types endpoints can subscribe to.
func ValidEventTypes() []string {
	return []string{
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
		EventBulkUploadComplete,
		EventBulkUploadFailed,
		EventBulkDeleteComplete,
	}
}

// IsValidEventType checks if the event type is known.
func IsValidEventType(eventType string) bool {
	for _, valid := range ValidEventTypes() {
		if eventType == valid {
			return true
		}
	}

	return false
}

// Delivered reports whether the attempt received a 2xx response.
func (a *DeliveryAttempt) Delivered() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}
