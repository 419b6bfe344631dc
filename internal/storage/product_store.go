package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/skuflow-io/skuflow/internal/ingest"
)

// ErrProductNotFound is returned when a product lookup matches no row.
var ErrProductNotFound = errors.New("product not found")

// Product is a stored catalog entry, uniquely keyed by SKU.
type Product struct {
	ID          int64
	SKU         string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductStore persists products in PostgreSQL. It is the upsert target of the
// ingest pipeline and backs the catalog read/delete operations.
type ProductStore struct {
	conn *Connection
}

// compile-time interface check
var _ ingest.Store = (*ProductStore)(nil)

// NewProductStore creates a ProductStore.
func NewProductStore(conn *Connection) (*ProductStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ProductStore{conn: conn}, nil
}

// UpsertBatch applies one deduplicated batch as a single transaction. Records
// are inserted or, on SKU conflict, updated in place. The transaction either
// commits whole or rolls back whole; no partial batch is ever visible.
func (s *ProductStore) UpsertBatch(ctx context.Context, batch []ingest.CandidateRecord) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (sku, name, description, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sku) DO UPDATE SET
			name        = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active   = EXCLUDED.is_active,
			updated_at  = NOW()`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	for _, record := range batch {
		if _, err := stmt.ExecContext(ctx, record.SKU, record.Name, record.Description, record.Active); err != nil {
			return fmt.Errorf("failed to upsert sku %q: %w", record.SKU, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert transaction: %w", err)
	}

	return nil
}

// FindBySKU retrieves one product by its SKU.
func (s *ProductStore) FindBySKU(ctx context.Context, sku string) (*Product, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, sku, name, description, is_active, created_at, updated_at
		FROM products
		WHERE sku = $1`, sku)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sku %q", ErrProductNotFound, sku)
		}

		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	return product, nil
}

// List returns products ordered by SKU, optionally filtered by a substring
// match on SKU or name.
func (s *ProductStore) List(ctx context.Context, search string, limit, offset int) ([]*Product, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, sku, name, description, is_active, created_at, updated_at
		FROM products
		WHERE $1 = '' OR sku ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'
		ORDER BY sku
		LIMIT $2 OFFSET $3`, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var products []*Product

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}

		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product rows: %w", err)
	}

	return products, nil
}

// Count returns the number of stored products.
func (s *ProductStore) Count(ctx context.Context) (int, error) {
	var count int

	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}

	return count, nil
}

// DeleteByIDs removes the given products and returns the rows that were
// actually deleted, so callers can report what disappeared.
func (s *ProductStore) DeleteByIDs(ctx context.Context, ids []int64) ([]*Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.QueryContext(ctx, `
		DELETE FROM products
		WHERE id = ANY($1)
		RETURNING id, sku, name, description, is_active, created_at, updated_at`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to delete products: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var deleted []*Product

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deleted product row: %w", err)
		}

		deleted = append(deleted, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deleted product rows: %w", err)
	}

	return deleted, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(s scanner) (*Product, error) {
	var product Product

	err := s.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Active,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &product, nil
}
