package sonarstub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/sonar"
)

// --- Test Helpers ---

func newTestStub(t *testing.T, cfg Config) (*Stub, *fiber.App) {
	t.Helper()

	if cfg.AdminLogin == "" {
		cfg.AdminLogin = "admin"
		cfg.AdminPassword = "secret"
	}
	s := New(zap.NewNop(), cfg)
	return s, s.App()
}

func postForm(t *testing.T, app *fiber.App, path, login, password string, form url.Values) *http.Response {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(login, password)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func createUser(t *testing.T, app *fiber.App, login string) {
	t.Helper()

	resp := postForm(t, app, "/api/users/create", "admin", "secret", url.Values{
		"login":    {login},
		"name":     {login + " (CI)"},
		"password": {"bot-pass"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body struct {
		Errors []struct {
			Msg string `json:"msg"`
		} `json:"errors"`
	}
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	require.NotEmpty(t, body.Errors)
	return body.Errors[0].Msg
}

// --- Status Tests ---

func TestStatus_Up(t *testing.T) {
	_, app := newTestStub(t, Config{})

	req, _ := http.NewRequest(http.MethodGet, "/api/system/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var status sonar.SystemStatus
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, sonar.StatusUp, status.Status)
	assert.Equal(t, serverVersion, status.Version)
}

func TestStatus_StartingDuringDelay(t *testing.T) {
	_, app := newTestStub(t, Config{StartupDelay: time.Minute})

	req, _ := http.NewRequest(http.MethodGet, "/api/system/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var status sonar.SystemStatus
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, sonar.StatusStarting, status.Status)
}

func TestStatus_NoAuthRequired(t *testing.T) {
	_, app := newTestStub(t, Config{})

	req, _ := http.NewRequest(http.MethodGet, "/api/system/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

// --- CreateUser Tests ---

func TestCreateUser_Success(t *testing.T) {
	s, app := newTestStub(t, Config{})

	resp := postForm(t, app, "/api/users/create", "admin", "secret", url.Values{
		"login":    {"ci-bot"},
		"name":     {"CI Bot"},
		"password": {"bot-pass"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		User struct {
			Login string `json:"login"`
			Name  string `json:"name"`
			Local bool   `json:"local"`
		} `json:"user"`
	}
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "ci-bot", body.User.Login)
	assert.Equal(t, "CI Bot", body.User.Name)
	assert.True(t, body.User.Local)

	assert.True(t, s.UserExists("ci-bot"))
}

func TestCreateUser_Duplicate(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	resp := postForm(t, app, "/api/users/create", "admin", "secret", url.Values{
		"login":    {"ci-bot"},
		"name":     {"CI Bot"},
		"password": {"other-pass"},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "already exists")
}

func TestCreateUser_BadCredentials(t *testing.T) {
	_, app := newTestStub(t, Config{})

	resp := postForm(t, app, "/api/users/create", "admin", "wrong", url.Values{
		"login":    {"ci-bot"},
		"name":     {"CI Bot"},
		"password": {"bot-pass"},
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCreateUser_NonAdminForbidden(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	resp := postForm(t, app, "/api/users/create", "ci-bot", "bot-pass", url.Values{
		"login":    {"other"},
		"name":     {"Other"},
		"password": {"pass"},
	})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestCreateUser_MissingParam(t *testing.T) {
	_, app := newTestStub(t, Config{})

	resp := postForm(t, app, "/api/users/create", "admin", "secret", url.Values{
		"login":    {"ci-bot"},
		"password": {"bot-pass"},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "The 'name' parameter is missing", errorMessage(t, resp))
}

// --- AddPermission Tests ---

func TestAddPermission_Success(t *testing.T) {
	s, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	resp := postForm(t, app, "/api/permissions/add_user", "admin", "secret", url.Values{
		"login":      {"ci-bot"},
		"permission": {"scan"},
	})
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.True(t, s.HasPermission("ci-bot", "scan"))
}

func TestAddPermission_Idempotent(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	form := url.Values{"login": {"ci-bot"}, "permission": {"scan"}}
	resp := postForm(t, app, "/api/permissions/add_user", "admin", "secret", form)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = postForm(t, app, "/api/permissions/add_user", "admin", "secret", form)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestAddPermission_UnknownUser(t *testing.T) {
	_, app := newTestStub(t, Config{})

	resp := postForm(t, app, "/api/permissions/add_user", "admin", "secret", url.Values{
		"login":      {"ghost"},
		"permission": {"scan"},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "has not been found")
}

// --- GenerateToken Tests ---

func TestGenerateToken_AdminOnBehalf(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	resp := postForm(t, app, "/api/user_tokens/generate", "admin", "secret", url.Values{
		"name":  {"ci-bot-token"},
		"login": {"ci-bot"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var tok sonar.TokenResponse
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &tok))
	assert.Equal(t, "ci-bot", tok.Login)
	assert.Equal(t, "ci-bot-token", tok.Name)
	assert.True(t, strings.HasPrefix(tok.Token, "squ_"), "token %q should carry the squ_ prefix", tok.Token)
	assert.NotEmpty(t, tok.CreatedAt)
}

func TestGenerateToken_SelfService(t *testing.T) {
	s, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	resp := postForm(t, app, "/api/user_tokens/generate", "ci-bot", "bot-pass", url.Values{
		"name": {"ci-bot-token"},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var tok sonar.TokenResponse
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &tok))
	assert.Equal(t, "ci-bot", tok.Login)
	assert.Equal(t, []string{"ci-bot-token"}, s.TokenNames("ci-bot"))
}

func TestGenerateToken_DuplicateName(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	form := url.Values{"name": {"ci-bot-token"}, "login": {"ci-bot"}}
	resp := postForm(t, app, "/api/user_tokens/generate", "admin", "secret", form)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = postForm(t, app, "/api/user_tokens/generate", "admin", "secret", form)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "already exists")
}

func TestGenerateToken_NonAdminForOther(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")
	createUser(t, app, "deploy-bot")

	resp := postForm(t, app, "/api/user_tokens/generate", "ci-bot", "bot-pass", url.Values{
		"name":  {"stolen-token"},
		"login": {"deploy-bot"},
	})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

// --- RevokeToken Tests ---

func TestRevokeToken_AllowsRegenerate(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	form := url.Values{"name": {"ci-bot-token"}, "login": {"ci-bot"}}
	resp := postForm(t, app, "/api/user_tokens/generate", "admin", "secret", form)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = postForm(t, app, "/api/user_tokens/revoke", "admin", "secret", form)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = postForm(t, app, "/api/user_tokens/generate", "admin", "secret", form)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "a revoked token name must be reusable")
}

func TestRevokeToken_NonexistentIsNoOp(t *testing.T) {
	_, app := newTestStub(t, Config{})
	createUser(t, app, "ci-bot")

	resp := postForm(t, app, "/api/user_tokens/revoke", "admin", "secret", url.Values{
		"name":  {"never-issued"},
		"login": {"ci-bot"},
	})
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
