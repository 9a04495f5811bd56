package postgres

import (
	"context"
	"fmt"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// AppendEvent inserts one event log row. Callers treat failures as
// best-effort; this method only reports them.
func (db *DB) AppendEvent(ctx context.Context, e *store.EventLogEntry) error {
	query := `
		INSERT INTO event_log (event_id, topic, payload, at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	if _, err := db.conn.ExecContext(ctx, query, e.EventID, e.Topic, payload, e.At); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}
