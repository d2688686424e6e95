// Package authority implements the centralized authentication delegate.
// Every service resolves bearer tokens through this client instead of
// verifying JWT signatures locally, so revocation at the authority takes
// effect on the very next request.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"nileguard/internal/domain"
	"nileguard/internal/platform/telemetry"
)

const (
	validateTokenPath   = "/api/v1/integration/validate-token"
	checkPermissionPath = "/api/v1/integration/check-permission"
	userByIDPath        = "/api/v1/integration/users/"
	healthPath          = "/health"

	healthCheckTimeout = 2 * time.Second

	reasonUnavailable  = "Auth service unavailable"
	reasonTimeout      = "Auth service timeout"
	reasonInvalidToken = "Invalid token"
)

// Client calls the central Auth authority. Construct one at startup and
// inject it into the request pipeline; it is safe for concurrent use.
type Client struct {
	baseURL    string
	serviceID  string
	apiKey     string
	httpClient *http.Client
	metrics    *telemetry.GuardMetrics
}

// NewClient creates a delegate client for the authority at baseURL.
// serviceID and apiKey identify this service on every outbound call.
// timeout bounds each round trip; there are no retries — the caller decides
// whether to retry the whole request. The metrics parameter is optional;
// pass nil to skip metric recording.
func NewClient(baseURL, serviceID, apiKey string, timeout time.Duration, m *telemetry.GuardMetrics) *Client {
	return &Client{
		baseURL:    baseURL,
		serviceID:  serviceID,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

// upstreamUser tolerates both "id" and "userId" naming from the authority.
type upstreamUser struct {
	ID                          string   `json:"id"`
	UserID                      string   `json:"userId"`
	Email                       string   `json:"email"`
	Username                    string   `json:"username"`
	Role                        string   `json:"role"`
	Permissions                 []string `json:"permissions"`
	OrganizationID              string   `json:"organizationId"`
	FacilityID                  string   `json:"facilityId"`
	CanAccessMultipleFacilities bool     `json:"canAccessMultipleFacilities"`
}

type validateTokenResponse struct {
	Valid  bool          `json:"valid"`
	User   *upstreamUser `json:"user"`
	Reason string        `json:"reason"`
}

// ValidateToken resolves a bearer token into a principal. The token must be
// non-empty with the "Bearer " prefix already stripped. Transport failures
// become a negative result with a reason; this method never returns an error.
func (c *Client) ValidateToken(ctx context.Context, token string) domain.TokenValidationResult {
	if token == "" {
		return domain.TokenValidationResult{Valid: false, Reason: reasonInvalidToken}
	}

	start := time.Now()
	var resp validateTokenResponse
	err := c.post(ctx, validateTokenPath, validateTokenRequest{Token: token}, &resp)
	c.record(ctx, "validate_token", err, time.Since(start))

	if err != nil {
		slog.Warn("token validation call failed", "error", err)
		return domain.TokenValidationResult{Valid: false, Reason: failureReason(err)}
	}

	if !resp.Valid || resp.User == nil {
		reason := resp.Reason
		if reason == "" {
			reason = reasonInvalidToken
		}
		return domain.TokenValidationResult{Valid: false, Reason: reason}
	}

	p := mapPrincipal(resp.User)
	return domain.TokenValidationResult{Valid: true, User: &p}
}

type checkPermissionRequest struct {
	UserID     string `json:"userId"`
	Permission string `json:"permission"`
}

type checkPermissionResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckPermission asks the authority whether the user holds the permission.
// Fails closed: any transport or application error is a denial.
func (c *Client) CheckPermission(ctx context.Context, userID, permission string) bool {
	start := time.Now()
	var resp checkPermissionResponse
	err := c.post(ctx, checkPermissionPath, checkPermissionRequest{UserID: userID, Permission: permission}, &resp)
	c.record(ctx, "check_permission", err, time.Since(start))

	if err != nil {
		slog.Warn("permission check failed, denying",
			"user_id", userID,
			"permission", permission,
			"error", err,
		)
		return false
	}
	return resp.Allowed
}

type userResponse struct {
	Success bool          `json:"success"`
	User    *upstreamUser `json:"user"`
}

// GetUserByID looks a user up for service-to-service calls.
// Returns nil on any failure.
func (c *Client) GetUserByID(ctx context.Context, userID string) *domain.Principal {
	start := time.Now()
	var resp userResponse
	err := c.get(ctx, userByIDPath+userID, &resp)
	c.record(ctx, "get_user", err, time.Since(start))

	if err != nil || !resp.Success || resp.User == nil {
		return nil
	}
	p := mapPrincipal(resp.User)
	return &p
}

// HealthCheck probes the authority's liveness endpoint with a short timeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("authority returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// setHeaders attaches the service identity, shared secret, and a fresh
// trace id to every outbound call.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Service-ID", c.serviceID)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Request-ID", uuid.New().String())
}

func (c *Client) record(ctx context.Context, operation string, err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.metrics.RecordAuthorityRequest(ctx, operation, result, elapsed.Seconds())
}

// failureReason distinguishes a timed-out round trip from an unreachable
// authority in the result handed back to the caller.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return reasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return reasonTimeout
	}
	return reasonUnavailable
}

func mapPrincipal(u *upstreamUser) domain.Principal {
	id := u.UserID
	if id == "" {
		id = u.ID
	}
	return domain.Principal{
		UserID:                      id,
		Email:                       u.Email,
		Role:                        u.Role,
		Permissions:                 u.Permissions,
		OrganizationID:              u.OrganizationID,
		FacilityID:                  u.FacilityID,
		CanAccessMultipleFacilities: u.CanAccessMultipleFacilities,
	}
}
