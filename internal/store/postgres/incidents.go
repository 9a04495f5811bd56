package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

const incidentColumns = `incident_id, fingerprint, rule_id, subject_key, group_key,
	status, severity, title, first_seen, last_seen, last_dispatch, created_at, updated_at`

// scanIncident reads one incident row.
func scanIncident(row interface{ Scan(...any) error }) (*store.Incident, error) {
	var inc store.Incident
	var lastDispatch sql.NullTime
	err := row.Scan(
		&inc.IncidentID,
		&inc.Fingerprint,
		&inc.RuleID,
		&inc.SubjectKey,
		&inc.GroupKey,
		&inc.Status,
		&inc.Severity,
		&inc.Title,
		&inc.FirstSeen,
		&inc.LastSeen,
		&lastDispatch,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastDispatch.Valid {
		inc.LastDispatch = lastDispatch.Time
	}
	return &inc, nil
}

// CreateIncident inserts a new incident row. The partial unique index on
// fingerprint rejects a second non-resolved incident for the same
// fingerprint.
func (db *DB) CreateIncident(ctx context.Context, inc *store.Incident) error {
	query := `
		INSERT INTO incidents (incident_id, fingerprint, rule_id, subject_key, group_key,
			status, severity, title, first_seen, last_seen, last_dispatch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	var lastDispatch sql.NullTime
	if !inc.LastDispatch.IsZero() {
		lastDispatch = sql.NullTime{Time: inc.LastDispatch, Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, query,
		inc.IncidentID, inc.Fingerprint, inc.RuleID, inc.SubjectKey, inc.GroupKey,
		inc.Status, inc.Severity, inc.Title, inc.FirstSeen, inc.LastSeen, lastDispatch,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("active incident already exists for fingerprint %s", inc.Fingerprint)
		}
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (db *DB) GetIncident(ctx context.Context, incidentID string) (*store.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE incident_id = $1`
	inc, err := scanIncident(db.conn.QueryRowContext(ctx, query, incidentID))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return inc, nil
}

// ActiveByFingerprint returns the single non-resolved incident for a
// fingerprint, or ErrNotFound.
func (db *DB) ActiveByFingerprint(ctx context.Context, fingerprint string) (*store.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE fingerprint = $1 AND status != $2`
	inc, err := scanIncident(db.conn.QueryRowContext(ctx, query, fingerprint, store.StatusResolved))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident by fingerprint: %w", err)
	}
	return inc, nil
}

// TouchIncident bumps last_seen without changing status.
func (db *DB) TouchIncident(ctx context.Context, incidentID string, lastSeen time.Time) error {
	query := `UPDATE incidents SET last_seen = $2, updated_at = NOW() WHERE incident_id = $1`
	return db.execExpectingRow(ctx, query, "touch incident", incidentID, lastSeen)
}

// MarkDispatched records the time of the last sink fan-out for throttling.
func (db *DB) MarkDispatched(ctx context.Context, incidentID string, at time.Time) error {
	query := `UPDATE incidents SET last_dispatch = $2, updated_at = NOW() WHERE incident_id = $1`
	return db.execExpectingRow(ctx, query, "mark dispatched", incidentID, at)
}

// UpdateIncidentStatus sets the incident status.
func (db *DB) UpdateIncidentStatus(ctx context.Context, incidentID, status string) error {
	query := `UPDATE incidents SET status = $2, updated_at = NOW() WHERE incident_id = $1`
	return db.execExpectingRow(ctx, query, "update incident status", incidentID, status)
}

// ListIncidents returns incidents matching the filter, newest first.
func (db *DB) ListIncidents(ctx context.Context, f store.IncidentFilter) ([]*store.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR subject_key = $2)
		ORDER BY last_seen DESC`
	args := []any{f.Status, f.SubjectKey}
	if f.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var out []*store.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// execExpectingRow runs an update that must touch exactly one row.
func (db *DB) execExpectingRow(ctx context.Context, query, op string, args ...any) error {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
