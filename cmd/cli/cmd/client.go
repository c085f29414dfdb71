package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"optiplane/pkg/api"
	"time"
)

// EngineClient handles API calls to the optiplane engine.
type EngineClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewEngineClient creates a new client with the given base URL and token.
func NewEngineClient(baseURL, token string) *EngineClient {
	return &EngineClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *EngineClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// CreateTenant sends POST /tenants to register a new tenant.
func (c *EngineClient) CreateTenant(req api.CreateTenantRequest) (*api.CreateTenantResponse, error) {
	var result api.CreateTenantResponse
	if err := c.do(http.MethodPost, "/tenants", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPatterns sends GET /api/v1/patterns to retrieve detected patterns.
func (c *EngineClient) ListPatterns(activeOnly bool, limit int) ([]api.PatternResponse, error) {
	path := fmt.Sprintf("/api/v1/patterns?limit=%d", limit)
	if activeOnly {
		path += "&active=true"
	}

	var result []api.PatternResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListOptimizations sends GET /api/v1/optimizations.
func (c *EngineClient) ListOptimizations(limit int) ([]api.OptimizationResponse, error) {
	var result []api.OptimizationResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/optimizations?limit=%d", limit), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListAlerts sends GET /api/v1/alerts.
func (c *EngineClient) ListAlerts(activeOnly bool, limit int) ([]api.AlertResponse, error) {
	path := fmt.Sprintf("/api/v1/alerts?limit=%d", limit)
	if activeOnly {
		path += "&active=true"
	}

	var result []api.AlertResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveAlert sends POST /api/v1/alerts/{id}/resolve.
func (c *EngineClient) ResolveAlert(alertID string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/api/v1/alerts/%s/resolve", alertID), nil, nil)
}

// ListAudit sends GET /api/v1/audit to retrieve the audit timeline.
func (c *EngineClient) ListAudit(since string, limit int) ([]api.AuditEntryResponse, error) {
	path := fmt.Sprintf("/api/v1/audit?limit=%d", limit)
	if since != "" {
		path += "&since=" + url.QueryEscape(since)
	}

	var result []api.AuditEntryResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListCompliance sends GET /api/v1/compliance.
func (c *EngineClient) ListCompliance(limit int) ([]api.ComplianceResultResponse, error) {
	var result []api.ComplianceResultResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/compliance?limit=%d", limit), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListReports sends GET /api/v1/reports.
func (c *EngineClient) ListReports(limit int) ([]api.AuditReportResponse, error) {
	var result []api.AuditReportResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/reports?limit=%d", limit), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetSettings sends GET /api/v1/settings.
func (c *EngineClient) GetSettings() (*api.SettingsResponse, error) {
	var result api.SettingsResponse
	if err := c.do(http.MethodGet, "/api/v1/settings", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateSettings sends PUT /api/v1/settings with a partial update.
func (c *EngineClient) UpdateSettings(req api.UpdateSettingsRequest) (*api.SettingsResponse, error) {
	var result api.SettingsResponse
	if err := c.do(http.MethodPut, "/api/v1/settings", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TriggerCycle sends POST /api/v1/cycle to schedule an immediate
// learning cycle.
func (c *EngineClient) TriggerCycle() (*api.TriggerCycleResponse, error) {
	var result api.TriggerCycleResponse
	if err := c.do(http.MethodPost, "/api/v1/cycle", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
