package postgres

import (
	"context"
	"fmt"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// RecordDelivery inserts one delivery attempt row.
func (db *DB) RecordDelivery(ctx context.Context, d *store.Delivery) error {
	query := `
		INSERT INTO deliveries (delivery_id, incident_id, channel, attempt, status, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.conn.ExecContext(ctx, query,
		d.DeliveryID, d.IncidentID, d.Channel, d.Attempt, d.Status, d.Detail, d.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns all delivery attempts for an incident, oldest first.
func (db *DB) ListDeliveries(ctx context.Context, incidentID string) ([]*store.Delivery, error) {
	query := `
		SELECT delivery_id, incident_id, channel, attempt, status, detail, at
		FROM deliveries
		WHERE incident_id = $1
		ORDER BY at ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*store.Delivery
	for rows.Next() {
		var d store.Delivery
		if err := rows.Scan(&d.DeliveryID, &d.IncidentID, &d.Channel, &d.Attempt, &d.Status, &d.Detail, &d.At); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
