package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"optiplane/internal/store"
	"optiplane/pkg/api"

	"github.com/google/uuid"
)

func TestListPatterns_MapsEvidence(t *testing.T) {
	mock := &mockStore{patterns: []store.Pattern{{
		ID:         uuid.New(),
		Type:       store.PatternSubsystemEfficiency,
		Category:   store.CategoryOptimization,
		ScopeType:  store.ScopeSubsystem,
		ScopeID:    "search",
		Confidence: 0.8,
		Active:     true,
		Evidence: store.Evidence{Subsystem: &store.SubsystemEvidence{
			Subsystem:     "search",
			AvgEfficiency: 1.4,
			SampleCount:   40,
		}},
		DetectedAt: time.Now(),
	}}}
	h, _, _ := newTestHandlers(mock)
	tenant := &store.Tenant{ID: uuid.New()}

	rr := httptest.NewRecorder()
	h.ListPatterns(rr, authedRequest(http.MethodGet, "/api/v1/patterns?active=true", "", tenant))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}

	var resp []api.PatternResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("got %d patterns, want 1", len(resp))
	}
	if resp[0].Type != "subsystem_efficiency" || resp[0].ScopeID != "search" {
		t.Errorf("got %s/%s", resp[0].Type, resp[0].ScopeID)
	}
	if len(resp[0].Evidence) == 0 {
		t.Error("evidence not serialized")
	}
}

func TestListAlerts_StoreError(t *testing.T) {
	mock := &mockStore{listErr: errors.New("db down")}
	h, _, _ := newTestHandlers(mock)
	tenant := &store.Tenant{ID: uuid.New()}

	rr := httptest.NewRecorder()
	h.ListAlerts(rr, authedRequest(http.MethodGet, "/api/v1/alerts", "", tenant))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestResolveAlert_Audited(t *testing.T) {
	mock := &mockStore{}
	h, rec, _ := newTestHandlers(mock)
	tenant := &store.Tenant{ID: uuid.New()}
	alertID := uuid.New()

	req := authedRequest(http.MethodPost, "/api/v1/alerts/"+alertID.String()+"/resolve", "", tenant)
	req.SetPathValue("id", alertID.String())
	rr := httptest.NewRecorder()

	h.ResolveAlert(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rr.Code, rr.Body.String())
	}
	if len(mock.resolvedAlerts) != 1 || mock.resolvedAlerts[0] != alertID {
		t.Error("alert not resolved in store")
	}
	if len(rec.actions) != 1 || rec.actions[0].EntityType != "alert" {
		t.Error("resolution not audited")
	}
}

func TestResolveAlert_NotActive(t *testing.T) {
	mock := &mockStore{resolveErr: errors.New("alert is not active")}
	h, _, _ := newTestHandlers(mock)
	tenant := &store.Tenant{ID: uuid.New()}
	alertID := uuid.New()

	req := authedRequest(http.MethodPost, "/api/v1/alerts/"+alertID.String()+"/resolve", "", tenant)
	req.SetPathValue("id", alertID.String())
	rr := httptest.NewRecorder()

	h.ResolveAlert(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestListAudit_InvalidSince(t *testing.T) {
	h, _, _ := newTestHandlers(&mockStore{})
	tenant := &store.Tenant{ID: uuid.New()}

	rr := httptest.NewRecorder()
	h.ListAudit(rr, authedRequest(http.MethodGet, "/api/v1/audit?since=yesterday", "", tenant))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestListCompliance_MapsFields(t *testing.T) {
	mock := &mockStore{compliance: []store.ComplianceResult{{
		ID:        uuid.New(),
		Framework: "LGPD",
		Status:    store.ComplianceCompliant,
		Score:     100,
		RiskLevel: store.RiskLow,
	}}}
	h, _, _ := newTestHandlers(mock)
	tenant := &store.Tenant{ID: uuid.New()}

	rr := httptest.NewRecorder()
	h.ListCompliance(rr, authedRequest(http.MethodGet, "/api/v1/compliance", "", tenant))

	var resp []api.ComplianceResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(resp) != 1 || resp[0].Framework != "LGPD" || resp[0].Score != 100 {
		t.Errorf("unexpected response: %+v", resp)
	}
}
