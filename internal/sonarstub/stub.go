// Package sonarstub is an in-memory SonarQube look-alike for local
// development and tests. It implements only the endpoints the onboarder
// drives, with the same form-encoded requests and error envelopes the real
// service produces.
package sonarstub

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/sonar"
)

const serverVersion = "10.4.1"

// Config controls the stub's admin principal and simulated startup window.
type Config struct {
	AdminLogin    string
	AdminPassword string
	// StartupDelay keeps /api/system/status reporting STARTING for this long
	// after New, so health-poll behaviour can be exercised end to end.
	StartupDelay time.Duration
}

type account struct {
	name     string
	password string
}

// Stub holds the emulated server state. All mutation goes through the
// handlers under one mutex; the dataset is a handful of accounts.
type Stub struct {
	logger  *zap.Logger
	cfg     Config
	id      string
	readyAt time.Time

	mu          sync.Mutex
	users       map[string]*account
	permissions map[string]map[string]bool
	tokens      map[string]map[string]string
}

// New creates a Stub with no provisioned accounts.
func New(logger *zap.Logger, cfg Config) *Stub {
	if cfg.AdminLogin == "" {
		cfg.AdminLogin = "admin"
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = "admin"
	}
	return &Stub{
		logger:      logger,
		cfg:         cfg,
		id:          uuid.NewString(),
		readyAt:     time.Now().Add(cfg.StartupDelay),
		users:       make(map[string]*account),
		permissions: make(map[string]map[string]bool),
		tokens:      make(map[string]map[string]string),
	}
}

// App builds the fiber application with all emulated routes registered.
func (s *Stub) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/api/system/status", s.handleStatus)
	app.Post("/api/users/create", s.handleCreateUser)
	app.Post("/api/permissions/add_user", s.handleAddPermission)
	app.Post("/api/user_tokens/generate", s.handleGenerateToken)
	app.Post("/api/user_tokens/revoke", s.handleRevokeToken)

	return app
}

func (s *Stub) handleStatus(c *fiber.Ctx) error {
	status := sonar.SystemStatus{ID: s.id, Version: serverVersion, Status: sonar.StatusUp}
	if time.Now().Before(s.readyAt) {
		status.Status = sonar.StatusStarting
	}
	return c.JSON(status)
}

func (s *Stub) handleCreateUser(c *fiber.Ctx) error {
	caller, ok := s.authenticate(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "Authentication required")
	}
	if caller != s.cfg.AdminLogin {
		return apiError(c, fiber.StatusForbidden, "Insufficient privileges")
	}

	login := c.FormValue("login")
	name := c.FormValue("name")
	password := c.FormValue("password")
	if msg, ok := missingParam("login", login, "name", name, "password", password); !ok {
		return apiError(c, fiber.StatusBadRequest, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[login]; exists || login == s.cfg.AdminLogin {
		return apiError(c, fiber.StatusBadRequest,
			fmt.Sprintf("An active user with login '%s' already exists", login))
	}
	s.users[login] = &account{name: name, password: password}

	s.logger.Info("stub.user_created", zap.String("login", login))
	return c.JSON(fiber.Map{"user": fiber.Map{
		"login":  login,
		"name":   name,
		"active": true,
		"local":  true,
	}})
}

func (s *Stub) handleAddPermission(c *fiber.Ctx) error {
	caller, ok := s.authenticate(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "Authentication required")
	}
	if caller != s.cfg.AdminLogin {
		return apiError(c, fiber.StatusForbidden, "Insufficient privileges")
	}

	login := c.FormValue("login")
	permission := c.FormValue("permission")
	if msg, ok := missingParam("login", login, "permission", permission); !ok {
		return apiError(c, fiber.StatusBadRequest, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[login]; !exists && login != s.cfg.AdminLogin {
		return apiError(c, fiber.StatusBadRequest,
			fmt.Sprintf("User with login '%s' has not been found", login))
	}
	if s.permissions[login] == nil {
		s.permissions[login] = make(map[string]bool)
	}
	// Granting twice is a no-op, like the real service.
	s.permissions[login][permission] = true

	s.logger.Info("stub.permission_granted",
		zap.String("login", login),
		zap.String("permission", permission))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Stub) handleGenerateToken(c *fiber.Ctx) error {
	caller, ok := s.authenticate(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "Authentication required")
	}

	name := c.FormValue("name")
	if msg, ok := missingParam("name", name); !ok {
		return apiError(c, fiber.StatusBadRequest, msg)
	}

	// Without a login parameter the token belongs to the caller.
	target := caller
	if login := c.FormValue("login"); login != "" && login != caller {
		if caller != s.cfg.AdminLogin {
			return apiError(c, fiber.StatusForbidden, "Insufficient privileges")
		}
		target = login
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[target]; !exists && target != s.cfg.AdminLogin {
		return apiError(c, fiber.StatusBadRequest,
			fmt.Sprintf("User with login '%s' has not been found", target))
	}
	if _, exists := s.tokens[target][name]; exists {
		return apiError(c, fiber.StatusBadRequest,
			fmt.Sprintf("A user token for login '%s' and name '%s' already exists", target, name))
	}
	if s.tokens[target] == nil {
		s.tokens[target] = make(map[string]string)
	}
	value := "squ_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.tokens[target][name] = value

	s.logger.Info("stub.token_generated",
		zap.String("login", target),
		zap.String("name", name))
	return c.JSON(sonar.TokenResponse{
		Login:     target,
		Name:      name,
		Token:     value,
		CreatedAt: time.Now().UTC().Format("2006-01-02T15:04:05-0700"),
	})
}

func (s *Stub) handleRevokeToken(c *fiber.Ctx) error {
	caller, ok := s.authenticate(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "Authentication required")
	}

	name := c.FormValue("name")
	if msg, ok := missingParam("name", name); !ok {
		return apiError(c, fiber.StatusBadRequest, msg)
	}

	target := caller
	if login := c.FormValue("login"); login != "" && login != caller {
		if caller != s.cfg.AdminLogin {
			return apiError(c, fiber.StatusForbidden, "Insufficient privileges")
		}
		target = login
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Revoking a token that does not exist succeeds, like the real service.
	delete(s.tokens[target], name)

	return c.SendStatus(fiber.StatusNoContent)
}

// authenticate resolves the basic-auth principal. It returns false for a
// missing header, a malformed header, or wrong credentials.
func (s *Stub) authenticate(c *fiber.Ctx) (string, bool) {
	const prefix = "Basic "

	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", false
	}
	login, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", false
	}

	if login == s.cfg.AdminLogin && password == s.cfg.AdminPassword {
		return login, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, exists := s.users[login]; exists && u.password == password {
		return login, true
	}
	return "", false
}

// UserExists reports whether an account has been provisioned.
func (s *Stub) UserExists(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[login]
	return ok
}

// HasPermission reports whether a permission was granted to an account.
func (s *Stub) HasPermission(login, permission string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions[login][permission]
}

// TokenNames lists the token names held by an account.
func (s *Stub) TokenNames(login string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tokens[login]))
	for name := range s.tokens[login] {
		names = append(names, name)
	}
	return names
}

// missingParam returns a SonarQube-style message for the first empty value in
// the (name, value) pairs.
func missingParam(pairs ...string) (string, bool) {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Sprintf("The '%s' parameter is missing", pairs[i]), false
		}
	}
	return "", true
}

func apiError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"errors": []fiber.Map{{"msg": msg}},
	})
}
