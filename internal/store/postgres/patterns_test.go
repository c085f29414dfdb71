package postgres

import (
	"context"
	"testing"
	"time"

	"optiplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestClaimPattern_Success(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	patternID := uuid.New()
	appliedAt := time.Now()

	mock.ExpectExec(`UPDATE patterns SET applied = TRUE`).
		WithArgs(appliedAt, patternID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := st.ClaimPattern(ctx, nil, patternID, appliedAt)
	if err != nil {
		t.Fatalf("ClaimPattern failed: %v", err)
	}
	if !claimed {
		t.Error("expected claim to succeed")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClaimPattern_AlreadyApplied(t *testing.T) {
	// A concurrent run already flipped the applied flag, so the
	// compare-and-set matches zero rows and the claim is refused.
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	patternID := uuid.New()

	mock.ExpectExec(`UPDATE patterns SET applied = TRUE`).
		WithArgs(sqlmock.AnyArg(), patternID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := st.ClaimPattern(ctx, nil, patternID, time.Now())
	if err != nil {
		t.Fatalf("ClaimPattern failed: %v", err)
	}
	if claimed {
		t.Error("expected claim to be refused")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListEligiblePatterns_QueryStructure(t *testing.T) {
	// Verify the generated SQL keeps the eligibility predicate: unapplied,
	// active, and confidence at or above the threshold (inclusive).
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()
	patternID := uuid.New()
	evidence := []byte(`{"subsystem":{"subsystem":"search","avg_efficiency":1.4,"sample_count":40}}`)

	mock.ExpectQuery(`SELECT .* FROM patterns\s+WHERE tenant_id = \$1 AND applied = FALSE AND is_active = TRUE AND confidence >= \$2`).
		WithArgs(tenantID, 0.80).
		WillReturnRows(patternRows().
			AddRow(patternID, tenantID, "subsystem_efficiency", "efficiency", "subsystem", "search",
				"search subsystem outperforms", evidence, 0.80, 40, 14, 40.0, false, true, time.Now(), nil))

	patterns, err := st.ListEligiblePatterns(ctx, tenantID, 0.80)
	if err != nil {
		t.Fatalf("ListEligiblePatterns failed: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Evidence.Subsystem == nil {
		t.Fatal("expected subsystem evidence to be parsed")
	}
	if patterns[0].Evidence.Subsystem.Subsystem != "search" {
		t.Errorf("got subsystem %s, want search", patterns[0].Evidence.Subsystem.Subsystem)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListPatterns_ActiveOnly(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM patterns WHERE tenant_id = \$1 AND is_active = TRUE ORDER BY detected_at DESC LIMIT \$2`).
		WithArgs(tenantID, 50).
		WillReturnRows(patternRows())

	patterns, err := st.ListPatterns(ctx, tenantID, true, 0)
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("expected 0 patterns, got %d", len(patterns))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertPattern_MarshalsEvidence(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	p := &store.Pattern{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Type:     store.PatternTaskComplexity,
		Category: store.CategoryOptimization,
		Evidence: store.Evidence{
			TaskComplexity: &store.TaskComplexityEvidence{
				TaskType:       "report",
				AvgEfficiency:  0.6,
				AvgComplexity:  5.5,
				SampleCount:    12,
				TimeMultiplier: 1.67,
			},
		},
		Confidence: 0.7,
		SampleSize: 12,
		WindowDays: 14,
		Active:     true,
		DetectedAt: time.Now(),
	}

	mock.ExpectExec(`INSERT INTO patterns`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.InsertPattern(ctx, p); err != nil {
		t.Fatalf("InsertPattern failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func patternRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "pattern_type", "category", "scope_type", "scope_id",
		"description", "evidence", "confidence", "sample_size", "window_days", "impact_magnitude",
		"applied", "is_active", "detected_at", "applied_at",
	})
}
