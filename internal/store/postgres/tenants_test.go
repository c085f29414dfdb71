package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"optiplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestGetTenantByID_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()
	tenantName := "Acme Corp"
	createdAt := time.Now().Truncate(time.Second)

	mock.ExpectQuery(`SELECT id, name, status, rate_limit, rate_limit_burst, created_at FROM tenants WHERE id = \$1`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "rate_limit", "rate_limit_burst", "created_at"}).
			AddRow(tenantID, tenantName, "active", 100, 20, createdAt))

	tenant, err := store.GetTenantByID(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetTenantByID failed: %v", err)
	}
	if tenant.ID != tenantID {
		t.Errorf("got ID %v, want %v", tenant.ID, tenantID)
	}
	if tenant.Name != tenantName {
		t.Errorf("got Name %s, want %s", tenant.Name, tenantName)
	}
	if tenant.RateLimit != 100 {
		t.Errorf("got RateLimit %d, want 100", tenant.RateLimit)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetTenantByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT id, name, status, rate_limit, rate_limit_burst, created_at FROM tenants WHERE id = \$1`).
		WithArgs(tenantID).
		WillReturnError(sql.ErrNoRows)

	tenant, err := store.GetTenantByID(ctx, tenantID)
	if err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
	if tenant != nil {
		t.Error("expected nil tenant")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreateTenant_InsertsDefaults(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	tenant := &store.Tenant{
		ID:        uuid.New(),
		Name:      "Acme Corp",
		Status:    "active",
		CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).
		WithArgs(tenant.ID, tenant.Name, tenant.Status, "hashed-key", 0, 0, tenant.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO tenant_settings`).
		WithArgs(tenant.ID, true, false, 0.80, 10, 14, 24).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.CreateTenant(ctx, tenant, "hashed-key"); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetSettings_DefaultsWhenMissing(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT tenant_id, learning_enabled`).
		WithArgs(tenantID).
		WillReturnError(sql.ErrNoRows)

	settings, err := st.GetSettings(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if settings.TenantID != tenantID {
		t.Errorf("got TenantID %v, want %v", settings.TenantID, tenantID)
	}
	if !settings.LearningEnabled {
		t.Error("expected learning enabled by default")
	}
	if settings.AutoOptimizationEnabled {
		t.Error("expected auto optimization disabled by default")
	}
	if settings.ConfidenceThreshold != 0.80 {
		t.Errorf("got threshold %v, want 0.80", settings.ConfidenceThreshold)
	}
	if settings.MinSampleSize != 10 {
		t.Errorf("got min sample size %d, want 10", settings.MinSampleSize)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetSettings_Stored(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	tenantID := uuid.New()
	updatedAt := time.Now()

	mock.ExpectQuery(`SELECT tenant_id, learning_enabled`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "learning_enabled", "auto_optimization_enabled", "confidence_threshold",
			"min_sample_size", "observation_window_days", "rollback_window_hours", "updated_at",
		}).AddRow(tenantID, true, true, 0.90, 20, 7, 48, updatedAt))

	settings, err := st.GetSettings(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if !settings.AutoOptimizationEnabled {
		t.Error("expected auto optimization enabled")
	}
	if settings.ConfidenceThreshold != 0.90 {
		t.Errorf("got threshold %v, want 0.90", settings.ConfidenceThreshold)
	}
	if settings.ObservationWindowDays != 7 {
		t.Errorf("got window %d, want 7", settings.ObservationWindowDays)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
