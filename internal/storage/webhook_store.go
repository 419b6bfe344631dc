package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skuflow-io/skuflow/internal/webhook"
)

// WebhookStore persists webhook endpoints and their delivery telemetry.
type WebhookStore struct {
	conn *Connection
}

// compile-time interface check
var _ webhook.Store = (*WebhookStore)(nil)

// NewWebhookStore creates a WebhookStore.
func NewWebhookStore(conn *Connection) (*WebhookStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &WebhookStore{conn: conn}, nil
}

// Create validates and inserts a new endpoint, filling in generated fields.
func (s *WebhookStore) Create(ctx context.Context, endpoint *webhook.Endpoint) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	if endpoint.RetryCount <= 0 {
		endpoint.RetryCount = webhook.DefaultRetryCount
	}

	row := s.conn.QueryRowContext(ctx, `
		INSERT INTO webhook_endpoints (url, event_type, description, is_active, retry_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		endpoint.URL, endpoint.EventType, endpoint.Description, endpoint.Active, endpoint.RetryCount)

	if err := row.Scan(&endpoint.ID, &endpoint.CreatedAt, &endpoint.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create webhook endpoint: %w", err)
	}

	return nil
}

// Find retrieves an endpoint by ID. Returns webhook.ErrEndpointNotFound when absent.
func (s *WebhookStore) Find(ctx context.Context, id int64) (*webhook.Endpoint, error) {
	row := s.conn.QueryRowContext(ctx, selectEndpoint+` WHERE id = $1`, id)

	endpoint, err := scanEndpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", webhook.ErrEndpointNotFound, id)
		}

		return nil, fmt.Errorf("failed to query webhook endpoint: %w", err)
	}

	return endpoint, nil
}

// List returns all endpoints ordered by creation time, newest first.
func (s *WebhookStore) List(ctx context.Context) ([]*webhook.Endpoint, error) {
	rows, err := s.conn.QueryContext(ctx, selectEndpoint+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}

	return collectEndpoints(rows)
}

// ListActiveByEvent returns active endpoints subscribed to the event type, in
// creation order so dispatch order is stable.
func (s *WebhookStore) ListActiveByEvent(ctx context.Context, eventType string) ([]*webhook.Endpoint, error) {
	rows, err := s.conn.QueryContext(ctx,
		selectEndpoint+` WHERE event_type = $1 AND is_active = TRUE ORDER BY created_at`,
		eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints for event: %w", err)
	}

	return collectEndpoints(rows)
}

// Update validates and writes mutable endpoint fields.
func (s *WebhookStore) Update(ctx context.Context, endpoint *webhook.Endpoint) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	result, err := s.conn.ExecContext(ctx, `
		UPDATE webhook_endpoints SET
			url         = $2,
			event_type  = $3,
			description = $4,
			is_active   = $5,
			retry_count = $6,
			updated_at  = NOW()
		WHERE id = $1`,
		endpoint.ID, endpoint.URL, endpoint.EventType, endpoint.Description,
		endpoint.Active, endpoint.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to update webhook endpoint: %w", err)
	}

	return requireAffected(result, endpoint.ID)
}

// Delete removes an endpoint.
func (s *WebhookStore) Delete(ctx context.Context, id int64) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook endpoint: %w", err)
	}

	return requireAffected(result, id)
}

// RecordDelivery persists delivery telemetry after one attempt. statusCode and
// latency are nil together on timeout/transport error.
func (s *WebhookStore) RecordDelivery(ctx context.Context, id int64, at time.Time, statusCode *int, latency *float64) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE webhook_endpoints SET
			last_triggered_at  = $2,
			last_response_code = $3,
			last_response_time = $4,
			updated_at         = NOW()
		WHERE id = $1`,
		id, at, nullableInt(statusCode), nullableFloat(latency))
	if err != nil {
		return fmt.Errorf("failed to record webhook delivery: %w", err)
	}

	return requireAffected(result, id)
}

const selectEndpoint = `
	SELECT id, url, event_type, description, is_active, retry_count,
	       last_triggered_at, last_response_code, last_response_time,
	       created_at, updated_at
	FROM webhook_endpoints`

func validateEndpoint(endpoint *webhook.Endpoint) error {
	if endpoint == nil {
		return webhook.ErrEndpointNil
	}

	if strings.TrimSpace(endpoint.URL) == "" {
		return webhook.ErrURLEmpty
	}

	if !webhook.IsValidEventType(endpoint.EventType) {
		return fmt.Errorf("%w: %q", webhook.ErrInvalidEventType, endpoint.EventType)
	}

	return nil
}

func scanEndpoint(s scanner) (*webhook.Endpoint, error) {
	var (
		endpoint      webhook.Endpoint
		lastTriggered sql.NullTime
		lastCode      sql.NullInt64
		lastTime      sql.NullFloat64
	)

	err := s.Scan(
		&endpoint.ID,
		&endpoint.URL,
		&endpoint.EventType,
		&endpoint.Description,
		&endpoint.Active,
		&endpoint.RetryCount,
		&lastTriggered,
		&lastCode,
		&lastTime,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastTriggered.Valid {
		endpoint.LastTriggeredAt = &lastTriggered.Time
	}

	if lastCode.Valid {
		code := int(lastCode.Int64)
		endpoint.LastResponseCode = &code
	}

	if lastTime.Valid {
		endpoint.LastResponseTime = &lastTime.Float64
	}

	return &endpoint, nil
}

func collectEndpoints(rows *sql.Rows) ([]*webhook.Endpoint, error) {
	defer func() {
		_ = rows.Close()
	}()

	var endpoints []*webhook.Endpoint

	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint row: %w", err)
		}

		endpoints = append(endpoints, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook endpoint rows: %w", err)
	}

	return endpoints, nil
}

func requireAffected(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: id %d", webhook.ErrEndpointNotFound, id)
	}

	return nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *v, Valid: true}
}
