// Package onboard drives the onboarding run: gate on service health, then for
// each configured account ensure it exists, optionally grant a permission,
// rotate its access token, and persist the token back to the secret store.
package onboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/creds"
	"github.com/forgeline/sonar-onboarder/internal/errs"
	"github.com/forgeline/sonar-onboarder/internal/metrics"
	"github.com/forgeline/sonar-onboarder/internal/sonar"
	"github.com/forgeline/sonar-onboarder/pkg/config"
	"github.com/forgeline/sonar-onboarder/pkg/poll"
	"github.com/forgeline/sonar-onboarder/pkg/utils"
)

// Lifecycle event subjects.
const (
	SubjectRunStarted    = "evt.onboarding.started.v1.SONARQUBE"
	SubjectAccountDone   = "evt.onboarding.account_onboarded.v1.SONARQUBE"
	SubjectAccountFailed = "evt.onboarding.account_failed.v1.SONARQUBE"
	SubjectRunCompleted  = "evt.onboarding.completed.v1.SONARQUBE"
)

// SonarAPI is the slice of the SonarQube Web API the run needs.
type SonarAPI interface {
	Health(ctx context.Context) (*sonar.SystemStatus, error)
	CreateUser(ctx context.Context, admin sonar.BasicAuth, login, name, password string) error
	GrantPermission(ctx context.Context, admin sonar.BasicAuth, login, permission string) error
	GenerateToken(ctx context.Context, auth sonar.BasicAuth, name, login string) (*sonar.TokenResponse, error)
	RevokeToken(ctx context.Context, auth sonar.BasicAuth, name, login string) error
}

// CredentialStore resolves and persists credential records.
type CredentialStore interface {
	Admin(ctx context.Context, secretID string) (creds.AdminCredentials, error)
	Account(ctx context.Context, secretID string) (*creds.AccountRecord, error)
	SaveToken(ctx context.Context, rec *creds.AccountRecord, token string) error
}

// EventSink publishes run lifecycle events. Optional; nil disables events.
type EventSink interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// AuditTrail records per-account outcomes. Optional; nil disables the trail.
type AuditTrail interface {
	RecordAccount(ctx context.Context, runID string, res AccountResult) error
}

// AccountResult is the outcome of one account's onboarding sequence.
type AccountResult struct {
	SecretID  string
	Login     string
	Created   bool // false when the account already existed
	Granted   bool
	TokenName string
	Err       error
	Elapsed   time.Duration
}

// RunResult summarizes a full run.
type RunResult struct {
	RunID          string
	HealthAttempts int
	Accounts       []AccountResult
	Elapsed        time.Duration
}

// Succeeded returns how many accounts completed the full sequence.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, a := range r.Accounts {
		if a.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns how many accounts did not complete.
func (r *RunResult) Failed() int {
	return len(r.Accounts) - r.Succeeded()
}

// Orchestrator runs the onboarding sequence once. It is strictly sequential:
// one health gate, then the configured accounts in declared order. It keeps no
// state between runs; re-running converges a partially onboarded service.
type Orchestrator struct {
	logger *zap.Logger
	cfg    config.Config
	api    SonarAPI
	creds  CredentialStore
	events EventSink
	audit  AuditTrail
	runID  string
}

// New constructs an Orchestrator. events and audit may be nil.
func New(
	logger *zap.Logger,
	cfg config.Config,
	api SonarAPI,
	credStore CredentialStore,
	events EventSink,
	audit AuditTrail,
	runID string,
) *Orchestrator {
	return &Orchestrator{
		logger: logger,
		cfg:    cfg,
		api:    api,
		creds:  credStore,
		events: events,
		audit:  audit,
		runID:  runID,
	}
}

// Run executes the full onboarding sequence. The returned error aggregates
// every per-account failure; a nil error means the health gate passed and all
// accounts completed.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{RunID: o.runID}
	defer func() {
		res.Elapsed = time.Since(start)
		metrics.ObserveRunDuration(res.Elapsed)
	}()

	o.publish(ctx, SubjectRunStarted, map[string]any{
		"run_id":   o.runID,
		"target":   o.cfg.SonarURL,
		"accounts": len(o.cfg.AccountSecretARNs),
		"started":  start.UTC(),
	})

	// Admin credentials come first; nothing can proceed without them.
	admin, err := o.creds.Admin(ctx, o.cfg.AdminSecretARN)
	if err != nil {
		o.finish(ctx, res, err)
		return res, err
	}

	// Health gate. No account request may be issued before this passes.
	attempts, err := o.waitHealthy(ctx)
	res.HealthAttempts = attempts
	if err != nil {
		o.finish(ctx, res, err)
		return res, err
	}

	var accountErrs []error
	for _, secretID := range o.cfg.AccountSecretARNs {
		if ctx.Err() != nil {
			accountErrs = append(accountErrs, ctx.Err())
			break
		}

		acct := o.onboardAccount(ctx, admin, secretID)
		res.Accounts = append(res.Accounts, acct)

		if acct.Err != nil {
			accountErrs = append(accountErrs, acct.Err)
			metrics.IncAccountOutcome("failed")
			o.publish(ctx, SubjectAccountFailed, o.accountPayload(acct))
		} else {
			metrics.IncAccountOutcome("onboarded")
			o.publish(ctx, SubjectAccountDone, o.accountPayload(acct))
		}

		if o.audit != nil {
			if err := o.audit.RecordAccount(ctx, o.runID, acct); err != nil {
				o.logger.Warn("onboard.audit_write_failed",
					zap.String("secret_id", acct.SecretID),
					zap.Error(err))
			}
		}
	}

	runErr := errors.Join(accountErrs...)
	o.finish(ctx, res, runErr)
	return res, runErr
}

// waitHealthy polls the system status endpoint within the bounded attempt
// budget. In strict mode only status UP counts as healthy; in "any" mode any
// successful reply does.
func (o *Orchestrator) waitHealthy(ctx context.Context) (int, error) {
	probe := func(ctx context.Context, attempt int) (bool, error) {
		status, err := o.api.Health(ctx)
		if err != nil {
			o.logger.Warn("onboard.health_probe_failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", o.cfg.HealthMaxAttempts),
				zap.Error(err))
			metrics.IncHealthProbe("error")
			return false, err
		}

		if o.cfg.HealthMode == "any" || status.Status == sonar.StatusUp {
			metrics.IncHealthProbe("up")
			o.logger.Info("onboard.service_healthy",
				zap.Int("attempt", attempt),
				zap.String("status", status.Status),
				zap.String("version", status.Version))
			return true, nil
		}

		o.logger.Info("onboard.waiting_for_service",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.cfg.HealthMaxAttempts),
			zap.String("status", status.Status))
		metrics.IncHealthProbe(probeResult(status.Status))
		return false, fmt.Errorf("status %s", status.Status)
	}

	attempts, err := poll.Until(ctx, o.cfg.HealthMaxAttempts, o.cfg.HealthRetryDelay, probe)
	if err != nil {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		return attempts, errs.NewServiceUnavailableError(o.cfg.SonarURL, attempts, err)
	}
	return attempts, nil
}

// probeResult maps a reported status onto the bounded health-probe label set.
// The status string is server-controlled, so anything outside the known set
// lands in one shared bucket.
func probeResult(status string) string {
	switch status {
	case sonar.StatusUp:
		return "up"
	case sonar.StatusStarting:
		return "starting"
	case sonar.StatusDown:
		return "down"
	default:
		return "other"
	}
}

// onboardAccount runs the per-account sequence: resolve record, ensure the
// account exists, optionally grant the permission, rotate the token, persist.
// The first failing step stops this account; later accounts are unaffected.
func (o *Orchestrator) onboardAccount(ctx context.Context, admin creds.AdminCredentials, secretID string) (res AccountResult) {
	start := time.Now()
	res = AccountResult{SecretID: secretID}
	defer func() { res.Elapsed = time.Since(start) }()

	rec, err := o.creds.Account(ctx, secretID)
	if err != nil {
		res.Err = errs.NewAccountProvisioningError(secretID, err)
		o.logAccountFailure(res)
		return res
	}
	res.Login = rec.Username

	err = o.api.CreateUser(ctx, adminAuth(admin), rec.Username, rec.DisplayName(), rec.Password)
	switch {
	case err == nil:
		res.Created = true
		o.logger.Info("onboard.account_created", zap.String("login", rec.Username))
	case sonar.IsAlreadyExists(err):
		// Amnesty: an existing account is the desired end state.
		o.logger.Info("onboard.account_exists", zap.String("login", rec.Username))
	default:
		res.Err = errs.NewAccountProvisioningError(rec.Username, err)
		o.logAccountFailure(res)
		return res
	}

	if o.cfg.Permission != "" {
		if err := o.api.GrantPermission(ctx, adminAuth(admin), rec.Username, o.cfg.Permission); err != nil {
			res.Err = errs.NewPermissionGrantError(rec.Username, o.cfg.Permission, err)
			o.logAccountFailure(res)
			return res
		}
		res.Granted = true
		o.logger.Info("onboard.permission_granted",
			zap.String("login", rec.Username),
			zap.String("permission", o.cfg.Permission))
	}

	auth, onBehalf := o.tokenPrincipal(admin, rec)
	tokenName := rec.TokenName()
	res.TokenName = tokenName

	// Rotate: drop any token left by a previous run under the same name.
	// Revoking an unknown name is a no-op on the service, so failures here
	// only matter if generation then conflicts.
	if err := o.api.RevokeToken(ctx, auth, tokenName, onBehalf); err != nil {
		o.logger.Debug("onboard.token_revoke_failed",
			zap.String("login", rec.Username),
			zap.String("token_name", tokenName),
			zap.Error(err))
	}

	tok, err := o.api.GenerateToken(ctx, auth, tokenName, onBehalf)
	if err != nil {
		res.Err = errs.NewTokenGenerationError(rec.Username, tokenName, err)
		o.logAccountFailure(res)
		return res
	}
	o.logger.Info("onboard.token_generated",
		zap.String("login", rec.Username),
		zap.String("token_name", tokenName),
		zap.String("token", utils.MaskToken(tok.Token)))

	if err := o.creds.SaveToken(ctx, rec, tok.Token); err != nil {
		res.Err = errs.NewSecretPersistenceError(secretID, err)
		o.logAccountFailure(res)
		return res
	}

	o.logger.Info("onboard.account_onboarded",
		zap.String("login", rec.Username),
		zap.Bool("created", res.Created),
		zap.Bool("granted", res.Granted),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

// tokenPrincipal returns the identity that authenticates token calls and the
// login param to send with them ("" when the account acts for itself).
func (o *Orchestrator) tokenPrincipal(admin creds.AdminCredentials, rec *creds.AccountRecord) (sonar.BasicAuth, string) {
	if o.cfg.TokenPrincipal == "account" {
		return sonar.BasicAuth{Username: rec.Username, Password: rec.Password}, ""
	}
	return adminAuth(admin), rec.Username
}

func adminAuth(admin creds.AdminCredentials) sonar.BasicAuth {
	return sonar.BasicAuth{Username: admin.Username, Password: admin.Password}
}

func (o *Orchestrator) accountPayload(acct AccountResult) map[string]any {
	payload := map[string]any{
		"run_id":     o.runID,
		"secret_id":  acct.SecretID,
		"login":      acct.Login,
		"created":    acct.Created,
		"granted":    acct.Granted,
		"token_name": acct.TokenName,
		"elapsed_ms": acct.Elapsed.Milliseconds(),
	}
	if acct.Err != nil {
		payload["error"] = acct.Err.Error()
	}
	return payload
}

func (o *Orchestrator) finish(ctx context.Context, res *RunResult, runErr error) {
	payload := map[string]any{
		"run_id":          o.runID,
		"health_attempts": res.HealthAttempts,
		"succeeded":       res.Succeeded(),
		"failed":          res.Failed(),
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	o.publish(ctx, SubjectRunCompleted, payload)

	if runErr != nil {
		o.logger.Error("onboard.run_failed",
			zap.Int("succeeded", res.Succeeded()),
			zap.Int("failed", res.Failed()),
			zap.Error(runErr))
		return
	}
	o.logger.Info("onboard.run_complete",
		zap.Int("accounts", len(res.Accounts)),
		zap.Int("health_attempts", res.HealthAttempts))
}

func (o *Orchestrator) publish(ctx context.Context, subject string, payload map[string]any) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, subject, payload); err != nil {
		o.logger.Debug("onboard.event_publish_failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func (o *Orchestrator) logAccountFailure(res AccountResult) {
	o.logger.Error("onboard.account_failed",
		zap.String("secret_id", res.SecretID),
		zap.String("login", res.Login),
		zap.Error(res.Err))
}
