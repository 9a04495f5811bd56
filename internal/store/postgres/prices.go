package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// GetPrice retrieves the authoritative price row for a SKU.
func (db *DB) GetPrice(ctx context.Context, sku string) (*store.PriceRecord, error) {
	query := `SELECT sku, price, revision, updated_at FROM prices WHERE sku = $1`
	var rec store.PriceRecord
	err := db.conn.QueryRowContext(ctx, query, sku).Scan(&rec.SKU, &rec.Price, &rec.Revision, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return &rec, nil
}

// ApplyPrice writes the new price only if the stored revision still equals
// expectedRevision. The WHERE clause is the whole concurrency protocol:
// a lost race scans zero rows and reports ErrRevisionMismatch.
func (db *DB) ApplyPrice(ctx context.Context, sku string, newPrice decimal.Decimal, expectedRevision int64) (*store.PriceRecord, error) {
	query := `
		UPDATE prices
		SET price = $2,
		    revision = revision + 1,
		    updated_at = NOW()
		WHERE sku = $1 AND revision = $3
		RETURNING sku, price, revision, updated_at
	`
	var rec store.PriceRecord
	err := db.conn.QueryRowContext(ctx, query, sku, newPrice, expectedRevision).Scan(
		&rec.SKU, &rec.Price, &rec.Revision, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		var exists bool
		checkQuery := `SELECT EXISTS(SELECT 1 FROM prices WHERE sku = $1)`
		if err := db.conn.QueryRowContext(ctx, checkQuery, sku).Scan(&exists); err == nil && exists {
			return nil, store.ErrRevisionMismatch
		}
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply price: %w", err)
	}
	return &rec, nil
}

// SeedPrice inserts the initial price row for a SKU at revision 1. A
// concurrent seeder losing the insert race gets ErrRevisionMismatch.
func (db *DB) SeedPrice(ctx context.Context, sku string, price decimal.Decimal) (*store.PriceRecord, error) {
	query := `
		INSERT INTO prices (sku, price, revision, updated_at)
		VALUES ($1, $2, 1, NOW())
		RETURNING sku, price, revision, updated_at
	`
	var rec store.PriceRecord
	err := db.conn.QueryRowContext(ctx, query, sku, price).Scan(&rec.SKU, &rec.Price, &rec.Revision, &rec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return nil, store.ErrRevisionMismatch
		}
		return nil, fmt.Errorf("failed to seed price: %w", err)
	}
	return &rec, nil
}
