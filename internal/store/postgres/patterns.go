package postgres

import (
	"context"
	"fmt"
	"time"

	"optiplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) InsertPattern(ctx context.Context, p *store.Pattern) error {
	evidence, err := store.MarshalEvidence(p.Evidence)
	if err != nil {
		return err
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO patterns (id, tenant_id, pattern_type, category, scope_type, scope_id,
				description, evidence, confidence, sample_size, window_days, impact_magnitude,
				applied, is_active, detected_at, applied_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, p.ID, p.TenantID, p.Type, p.Category, p.ScopeType, p.ScopeID,
			p.Description, evidence, p.Confidence, p.SampleSize, p.WindowDays, p.ImpactMagnitude,
			p.Applied, p.Active, p.DetectedAt, p.AppliedAt)
		return err
	})
}

const patternColumns = `id, tenant_id, pattern_type, category, scope_type, scope_id,
	description, evidence, confidence, sample_size, window_days, impact_magnitude,
	applied, is_active, detected_at, applied_at`

func (s *Store) ListPatterns(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]store.Pattern, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM patterns WHERE tenant_id = $1`, patternColumns)
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY detected_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	return scanPatterns(rows)
}

func (s *Store) ListEligiblePatterns(ctx context.Context, tenantID uuid.UUID, minConfidence float64) ([]store.Pattern, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM patterns
		WHERE tenant_id = $1 AND applied = FALSE AND is_active = TRUE AND confidence >= $2
		ORDER BY detected_at
	`, patternColumns)

	rows, err := s.db.QueryContext(ctx, query, tenantID, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible patterns: %w", err)
	}
	defer rows.Close()

	return scanPatterns(rows)
}

// ClaimPattern is the compare-and-set guard against double application:
// the update only succeeds if the pattern is still unapplied and active.
func (s *Store) ClaimPattern(ctx context.Context, tx store.DBTransaction, patternID uuid.UUID, appliedAt time.Time) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE patterns SET applied = TRUE, applied_at = $1
		WHERE id = $2 AND applied = FALSE AND is_active = TRUE
	`, appliedAt, patternID)
	if err != nil {
		return false, fmt.Errorf("failed to claim pattern %s: %w", patternID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (s *Store) DeactivatePatterns(ctx context.Context, tenantID uuid.UUID, pt store.PatternType, scopeID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE patterns SET is_active = FALSE
		WHERE tenant_id = $1 AND pattern_type = $2 AND scope_id = $3 AND is_active = TRUE AND applied = FALSE
	`, tenantID, pt, scopeID)
	if err != nil {
		return fmt.Errorf("failed to deactivate patterns: %w", err)
	}

	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPatterns(rows rowScanner) ([]store.Pattern, error) {
	var patterns []store.Pattern
	for rows.Next() {
		var p store.Pattern
		var evidence []byte
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Type, &p.Category, &p.ScopeType, &p.ScopeID,
			&p.Description, &evidence, &p.Confidence, &p.SampleSize, &p.WindowDays, &p.ImpactMagnitude,
			&p.Applied, &p.Active, &p.DetectedAt, &p.AppliedAt); err != nil {
			return nil, err
		}
		parsed, err := store.UnmarshalEvidence(evidence)
		if err != nil {
			return nil, err
		}
		p.Evidence = parsed
		patterns = append(patterns, p)
	}

	return patterns, rows.Err()
}
