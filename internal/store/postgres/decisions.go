package postgres

import (
	"context"
	"fmt"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// AppendDecision inserts one governance decision row. The table is
// append-only; there is deliberately no update or delete path.
func (db *DB) AppendDecision(ctx context.Context, e *store.DecisionLogEntry) error {
	query := `
		INSERT INTO decision_log (decision_id, proposal_id, subject_key, action, rationale,
			prev_price, new_price, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := db.conn.ExecContext(ctx, query,
		e.DecisionID, e.ProposalID, e.SubjectKey, e.Action, e.Rationale,
		e.PrevPrice, e.NewPrice, e.Actor, e.At,
	)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// ListDecisions returns decision entries for a subject key, newest first.
// A zero limit returns all entries.
func (db *DB) ListDecisions(ctx context.Context, subjectKey string, limit int) ([]*store.DecisionLogEntry, error) {
	query := `
		SELECT decision_id, proposal_id, subject_key, action, rationale,
			prev_price, new_price, actor, at
		FROM decision_log
		WHERE ($1 = '' OR subject_key = $1)
		ORDER BY at DESC
	`
	args := []any{subjectKey}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*store.DecisionLogEntry
	for rows.Next() {
		var e store.DecisionLogEntry
		if err := rows.Scan(&e.DecisionID, &e.ProposalID, &e.SubjectKey, &e.Action, &e.Rationale,
			&e.PrevPrice, &e.NewPrice, &e.Actor, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
