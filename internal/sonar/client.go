package sonar

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/httpclient"
)

// Client wraps low-level HTTP communication with the SonarQube Web API.
// All write endpoints take form-encoded bodies and authenticate with HTTP
// basic auth; the principal is supplied per call.
type Client struct {
	logger  *zap.Logger
	baseURL string
	exec    *httpclient.Executor
	probe   *httpclient.Executor
}

// NewClient constructs a new SonarQube HTTP client.
// retryMax applies to provisioning calls only; the health probe never retries
// on its own, since the bounded health poll is the retry loop for it.
func NewClient(logger *zap.Logger, baseURL string, timeout time.Duration, retryMax int) *Client {
	httpClient := &http.Client{Timeout: timeout}

	onError := func(status int, body []byte) error {
		apiErr := parseAPIError(status, body)
		logger.Warn("sonar.client_error",
			zap.Int("status", status),
			zap.Strings("messages", apiErr.Messages))
		return apiErr
	}

	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		exec:    httpclient.New(logger, httpClient, retryMax, "sonar", onError),
		probe:   httpclient.New(logger, httpClient, 0, "sonar", onError),
	}
}

// Health fetches the current system status.
// GET /api/system/status
func (c *Client) Health(ctx context.Context) (*SystemStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/system/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var status SystemStatus
	if err := c.probe.DoJSON(ctx, req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CreateUser creates a local account.
// POST /api/users/create
func (c *Client) CreateUser(ctx context.Context, admin BasicAuth, login, name, password string) error {
	form := url.Values{}
	form.Set("login", login)
	form.Set("name", name)
	form.Set("password", password)

	return c.postForm(ctx, admin, "/api/users/create", form, nil)
}

// GrantPermission grants a global permission to an account. The call is
// idempotent on the service side: re-granting an existing permission succeeds.
// POST /api/permissions/add_user
func (c *Client) GrantPermission(ctx context.Context, admin BasicAuth, login, permission string) error {
	form := url.Values{}
	form.Set("login", login)
	form.Set("permission", permission)

	return c.postForm(ctx, admin, "/api/permissions/add_user", form, nil)
}

// GenerateToken creates a named access token. When login is non-empty the
// authenticated principal requests the token on that account's behalf;
// otherwise the token is issued to the principal itself.
// POST /api/user_tokens/generate
func (c *Client) GenerateToken(ctx context.Context, auth BasicAuth, name, login string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("name", name)
	if login != "" {
		form.Set("login", login)
	}

	var resp TokenResponse
	if err := c.postForm(ctx, auth, "/api/user_tokens/generate", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeToken deletes a named token. Revoking a token that does not exist is
// a no-op on the service side, which makes revoke-before-generate safe.
// POST /api/user_tokens/revoke
func (c *Client) RevokeToken(ctx context.Context, auth BasicAuth, name, login string) error {
	form := url.Values{}
	form.Set("name", name)
	if login != "" {
		form.Set("login", login)
	}

	return c.postForm(ctx, auth, "/api/user_tokens/revoke", form, nil)
}

// postForm performs an authenticated form-encoded POST and decodes the JSON
// response into out when out is non-nil.
func (c *Client) postForm(ctx context.Context, auth BasicAuth, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(auth.Username, auth.Password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.exec.DoJSON(ctx, req, out)
}
