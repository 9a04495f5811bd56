package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// LoadEnabledRules returns all enabled rule specs. Rows whose spec blob no
// longer unmarshals are skipped with a warning rather than failing the load.
func (db *DB) LoadEnabledRules(ctx context.Context) ([]rules.Spec, error) {
	return db.loadRules(ctx, true)
}

// ListRules returns every rule spec regardless of enabled state.
func (db *DB) ListRules(ctx context.Context) ([]rules.Spec, error) {
	return db.loadRules(ctx, false)
}

func (db *DB) loadRules(ctx context.Context, enabledOnly bool) ([]rules.Spec, error) {
	query := `SELECT rule_id, spec, enabled, version FROM rules`
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY rule_id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Spec
	for rows.Next() {
		var (
			ruleID   string
			specJSON []byte
			enabled  bool
			version  int64
		)
		if err := rows.Scan(&ruleID, &specJSON, &enabled, &version); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		var spec rules.Spec
		if err := json.Unmarshal(specJSON, &spec); err != nil {
			slog.Warn("Skipping rule with malformed spec blob", "rule_id", ruleID, "error", err)
			continue
		}
		spec.ID = ruleID
		spec.Enabled = enabled
		spec.Version = int(version)
		out = append(out, spec)
	}
	return out, rows.Err()
}

// RulesVersion returns the store-wide rules version counter.
func (db *DB) RulesVersion(ctx context.Context) (int64, error) {
	var version int64
	err := db.conn.QueryRowContext(ctx, `SELECT version FROM rules_meta WHERE id = 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get rules version: %w", err)
	}
	return version, nil
}

// GetRule retrieves a single rule spec by ID.
func (db *DB) GetRule(ctx context.Context, ruleID string) (*rules.Spec, error) {
	query := `SELECT rule_id, spec, enabled, version FROM rules WHERE rule_id = $1`
	var (
		specJSON []byte
		enabled  bool
		version  int64
	)
	err := db.conn.QueryRowContext(ctx, query, ruleID).Scan(&ruleID, &specJSON, &enabled, &version)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	var spec rules.Spec
	if err := json.Unmarshal(specJSON, &spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule spec: %w", err)
	}
	spec.ID = ruleID
	spec.Enabled = enabled
	spec.Version = int(version)
	return &spec, nil
}

// SaveRule inserts or replaces a rule, bumping its version and the
// store-wide rules version in one transaction.
func (db *DB) SaveRule(ctx context.Context, spec *rules.Spec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal rule spec: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO rules (rule_id, spec, enabled, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (rule_id) DO UPDATE
		SET spec = EXCLUDED.spec,
		    enabled = EXCLUDED.enabled,
		    version = rules.version + 1,
		    updated_at = NOW()
		RETURNING version
	`
	var version int64
	if err := tx.QueryRowContext(ctx, query, spec.ID, specJSON, spec.Enabled).Scan(&version); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	spec.Version = int(version)

	if _, err := tx.ExecContext(ctx, `UPDATE rules_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to bump rules version: %w", err)
	}
	return tx.Commit()
}

// ToggleRule flips a rule's enabled flag and bumps both version counters.
func (db *DB) ToggleRule(ctx context.Context, ruleID string, enabled bool) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rules
		SET enabled = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE rule_id = $1
	`
	result, err := tx.ExecContext(ctx, query, ruleID, enabled)
	if err != nil {
		return fmt.Errorf("failed to toggle rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE rules_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to bump rules version: %w", err)
	}
	return tx.Commit()
}
