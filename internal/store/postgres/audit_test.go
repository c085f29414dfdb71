package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestCountAuditEvents(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()
	from := time.Now().AddDate(0, 0, -30)
	to := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\),`).
		WithArgs(tenantID, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"total", "critical", "errors", "automated", "manual", "warnings"}).
			AddRow(120, 3, 7, 110, 10, 15))

	counts, err := st.CountAuditEvents(ctx, tenantID, from, to)
	if err != nil {
		t.Fatalf("CountAuditEvents failed: %v", err)
	}
	if counts.Total != 120 {
		t.Errorf("got total %d, want 120", counts.Total)
	}
	if counts.Critical != 3 {
		t.Errorf("got critical %d, want 3", counts.Critical)
	}
	if counts.Automated != 110 || counts.Manual != 10 {
		t.Errorf("got automated/manual %d/%d, want 110/10", counts.Automated, counts.Manual)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCompleteVerification_AlreadyVerified(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	optimizationID := uuid.New()

	mock.ExpectExec(`UPDATE optimizations SET measured_improvement`).
		WithArgs(4.2, "verified", sqlmock.AnyArg(), optimizationID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.CompleteVerification(ctx, optimizationID, 4.2, "verified", time.Now())
	if err == nil {
		t.Error("expected error when optimization is already verified")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCountRecentAccessFailures(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM security_events`).
		WithArgs("10.0.0.9", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	count, err := st.CountRecentAccessFailures(ctx, "10.0.0.9", since)
	if err != nil {
		t.Fatalf("CountRecentAccessFailures failed: %v", err)
	}
	if count != 6 {
		t.Errorf("got %d failures, want 6", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
