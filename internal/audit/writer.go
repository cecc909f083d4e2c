// Package audit persists a per-account history of onboarding runs so repeated
// runs against the same deployment stay traceable after the task exits.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/onboard"
)

// Writer writes run outcomes into the ci_reporting.t_onboarding_run table.
type Writer struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	env    string
	target string
}

// New connects to Postgres and constructs a Writer.
// env identifies the environment, target the service host being onboarded.
func New(ctx context.Context, databaseURL string, logger *zap.Logger, env, target string) (*Writer, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &Writer{
		db:     pool,
		logger: logger,
		env:    env,
		target: target,
	}, nil
}

// RecordAccount inserts one row for an account's outcome in this run.
func (w *Writer) RecordAccount(ctx context.Context, runID string, res onboard.AccountResult) error {
	const query = `
		INSERT INTO ci_reporting.t_onboarding_run (
			run_id,
			env,
			target_host,
			secret_id,
			login,
			outcome,
			error_text,
			created_account,
			granted_permission,
			token_name,
			elapsed_ms,
			recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW());
	`

	outcome := "onboarded"
	errText := ""
	if res.Err != nil {
		outcome = "failed"
		errText = res.Err.Error()
	}

	_, err := w.db.Exec(ctx, query,
		runID,
		w.env,
		w.target,
		res.SecretID,
		res.Login,
		outcome,
		errText,
		res.Created,
		res.Granted,
		res.TokenName,
		res.Elapsed.Milliseconds(),
	)
	if err != nil {
		w.logger.Error("audit.record_failed",
			zap.String("run_id", runID),
			zap.String("login", res.Login),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("audit.account_recorded",
		zap.String("run_id", runID),
		zap.String("login", res.Login),
		zap.String("outcome", outcome),
	)

	return nil
}

// Close releases the connection pool.
func (w *Writer) Close() {
	if w.db != nil {
		w.db.Close()
	}
}
