// Package client is a Go client for the VitalGuard HTTP API.
package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/savegress/vitalguard/pkg/models"
)

// APIError is returned for non-2xx responses
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vitalguard: %d %s: %s", e.Status, e.Code, e.Message)
}

// Finding is one metric that breached a tier
type Finding struct {
	Metric string              `json:"metric"`
	Value  float64             `json:"value"`
	Unit   string              `json:"unit"`
	Tier   models.SeverityTier `json:"tier"`
	Bound  float64             `json:"bound"`
	Side   string              `json:"side"`
}

// CheckResult is the outcome of a vitals check
type CheckResult struct {
	Severity   models.SeverityTier `json:"severity"`
	Actions    []models.ActionType `json:"actions"`
	Findings   []Finding           `json:"findings"`
	ResponseID string              `json:"responseId,omitempty"`
}

// Stats summarizes recorded emergencies
type Stats struct {
	TotalCount   int                           `json:"totalCount"`
	Last24hCount int                           `json:"last24hCount"`
	BySeverity   map[models.SeverityTier]int   `json:"bySeverity"`
	ByStatus     map[models.ResponseStatus]int `json:"byStatus"`
}

type checkRequest struct {
	models.VitalsSnapshot
	UserID string `json:"userId,omitempty"`
}

// Client talks to a VitalGuard server
type Client struct {
	http *resty.Client
}

// New creates a client for the server at baseURL
func New(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// SetTimeout overrides the request timeout
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.http.SetTimeout(d)
	return c
}

// Classify classifies a snapshot without recording anything
func (c *Client) Classify(ctx context.Context, snapshot models.VitalsSnapshot) (*CheckResult, error) {
	return c.CheckVitals(ctx, "", snapshot)
}

// CheckVitals classifies a snapshot and, when userID is set, records an
// emergency response for abnormal readings
func (c *Client) CheckVitals(ctx context.Context, userID string, snapshot models.VitalsSnapshot) (*CheckResult, error) {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}

	var out CheckResult
	err := c.do(ctx, resty.MethodPost, "/api/vitals/check", checkRequest{VitalsSnapshot: snapshot, UserID: userID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns emergency statistics
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, resty.MethodGet, "/api/vitals/emergencies", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartMonitoring starts monitoring a user
func (c *Client) StartMonitoring(ctx context.Context, userID string) (*models.MonitoringSession, error) {
	return c.session(ctx, resty.MethodPost, "/api/monitoring/"+url.PathEscape(userID)+"/start")
}

// StopMonitoring stops monitoring a user
func (c *Client) StopMonitoring(ctx context.Context, userID string) (*models.MonitoringSession, error) {
	return c.session(ctx, resty.MethodPost, "/api/monitoring/"+url.PathEscape(userID)+"/stop")
}

// GetMonitoringStatus returns a user's session
func (c *Client) GetMonitoringStatus(ctx context.Context, userID string) (*models.MonitoringSession, error) {
	return c.session(ctx, resty.MethodGet, "/api/monitoring/"+url.PathEscape(userID))
}

// GetEmergencyResponse returns one response
func (c *Client) GetEmergencyResponse(ctx context.Context, responseID string) (*models.EmergencyResponse, error) {
	return c.response(ctx, resty.MethodGet, "/api/emergencies/"+url.PathEscape(responseID))
}

// GetUserEmergencyResponses returns a user's responses in creation order
func (c *Client) GetUserEmergencyResponses(ctx context.Context, userID string) ([]*models.EmergencyResponse, error) {
	var out []*models.EmergencyResponse
	if err := c.do(ctx, resty.MethodGet, "/api/users/"+url.PathEscape(userID)+"/emergencies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportUserEmergencies downloads a user's history as an xlsx workbook
func (c *Client) ExportUserEmergencies(ctx context.Context, userID string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/users/" + url.PathEscape(userID) + "/emergencies/export")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return resp.Body(), nil
}

// AcknowledgeEmergency acknowledges a response
func (c *Client) AcknowledgeEmergency(ctx context.Context, responseID string) (*models.EmergencyResponse, error) {
	return c.response(ctx, resty.MethodPost, "/api/emergencies/"+url.PathEscape(responseID)+"/acknowledge")
}

// ResolveEmergency resolves a response
func (c *Client) ResolveEmergency(ctx context.Context, responseID string) (*models.EmergencyResponse, error) {
	return c.response(ctx, resty.MethodPost, "/api/emergencies/"+url.PathEscape(responseID)+"/resolve")
}

// MarkActionExecuted records that an action of a response was carried out
func (c *Client) MarkActionExecuted(ctx context.Context, responseID string, action models.ActionType) (*models.EmergencyResponse, error) {
	path := fmt.Sprintf("/api/emergencies/%s/actions/%s/execute", url.PathEscape(responseID), url.PathEscape(string(action)))
	return c.response(ctx, resty.MethodPost, path)
}

func (c *Client) session(ctx context.Context, method, path string) (*models.MonitoringSession, error) {
	var out models.MonitoringSession
	if err := c.do(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) response(ctx context.Context, method, path string) (*models.EmergencyResponse, error) {
	var out models.EmergencyResponse
	if err := c.do(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&APIError{})
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *resty.Response) error {
	if e, ok := resp.Error().(*APIError); ok && e != nil && e.Code != "" {
		e.Status = resp.StatusCode()
		return e
	}
	return &APIError{
		Status:  resp.StatusCode(),
		Code:    "HTTP_ERROR",
		Message: resp.Status(),
	}
}
