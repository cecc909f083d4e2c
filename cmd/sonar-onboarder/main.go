package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/forgeline/sonar-onboarder/internal/audit"
	"github.com/forgeline/sonar-onboarder/internal/creds"
	"github.com/forgeline/sonar-onboarder/internal/metrics"
	"github.com/forgeline/sonar-onboarder/internal/onboard"
	"github.com/forgeline/sonar-onboarder/internal/publisher"
	"github.com/forgeline/sonar-onboarder/internal/runlock"
	"github.com/forgeline/sonar-onboarder/internal/sonar"
	"github.com/forgeline/sonar-onboarder/pkg/config"
	"github.com/forgeline/sonar-onboarder/pkg/logger"
	"github.com/forgeline/sonar-onboarder/pkg/secrets"
	"github.com/forgeline/sonar-onboarder/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.S().Fatalw("invalid configuration", "error", err)
	}

	runID := uuid.NewString()
	logger.With(zap.String("run_id", runID))
	logg := logger.S()

	logg.Infow("starting [sonar-onboarder]",
		"env", cfg.Env,
		"target", cfg.SonarURL)

	// --- AWS Secrets Manager provider ---
	awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}
	credStore := creds.NewStore(logger.L(), awsProvider)

	// --- Service accounts: explicit list, or discovery by prefix ---
	if len(cfg.AccountSecretARNs) == 0 {
		arns, err := credStore.DiscoverAccounts(ctx, cfg.AccountSecretPrefix)
		if err != nil {
			logg.Fatalw("failed to discover service accounts", "error", err)
		}
		if len(arns) == 0 {
			logg.Fatalw("no service account secrets under prefix",
				"prefix", cfg.AccountSecretPrefix)
		}
		cfg.AccountSecretARNs = arns
	}
	logg.Infow("service accounts resolved", "accounts", len(cfg.AccountSecretARNs))

	// --- Advisory run lock (optional) ---
	var lock *runlock.Locker
	if cfg.RedisAddr != "" {
		lock, err = runlock.New(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, logger.L(),
			"sonar-onboarder:run-lock:"+cfg.Env, cfg.RunLockTTL)
		if err != nil {
			logg.Fatalw("failed to init run lock", "error", err)
		}
		ok, err := lock.Acquire(ctx)
		if err != nil {
			logg.Fatalw("failed to acquire run lock", "error", err)
		}
		if !ok {
			// Another run is in flight; this one has nothing to do.
			logg.Warnw("run lock held by another run, exiting")
			lock.Close()
			return
		}
	}

	// zap's Fatal exits without running deferred calls, so fatal paths past
	// the acquire hand the lock back explicitly.
	fail := func(msg string, kv ...any) {
		if lock != nil {
			lock.Release(context.Background())
			lock.Close()
		}
		logg.Fatalw(msg, kv...)
	}

	// --- Event publisher (optional, NATS preferred) ---
	var events onboard.EventSink
	var closeEvents func()
	switch {
	case cfg.NATSURL != "":
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			fail("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.NewNATS(logger.L(), nc, cfg.ServiceName, runID)
		if err != nil {
			fail("failed to init NATS publisher", "error", err)
		}
		events = pub
		closeEvents = pub.Close
	case cfg.RabbitURL != "":
		pub, err := publisher.NewRabbit(logger.L(), cfg.RabbitURL, cfg.ServiceName, runID)
		if err != nil {
			fail("failed to init RabbitMQ publisher", "error", err)
		}
		events = pub
		closeEvents = pub.Close
	}

	// --- Audit trail (optional) ---
	var trail onboard.AuditTrail
	var closeAudit func()
	if cfg.DatabaseURL != "" {
		logg.Info("connecting audit trail: ", utils.MaskDSN(cfg.DatabaseURL))
		w, err := audit.New(ctx, cfg.DatabaseURL, logger.L(), cfg.Env, cfg.SonarURL)
		if err != nil {
			fail("failed to init audit trail", "error", err)
		}
		trail = w
		closeAudit = w.Close
	}

	// --- SonarQube client ---
	client := sonar.NewClient(logger.L(), cfg.SonarURL, cfg.HTTPTimeout, cfg.HTTPRetryMax)

	// --- Run ---
	orch := onboard.New(logger.L(), *cfg, client, credStore, events, trail, runID)
	res, runErr := orch.Run(ctx)

	// --- Push metrics (optional) ---
	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(cfg.PushgatewayURL, cfg.ServiceName); err != nil {
			logg.Warnw("failed to push metrics", "error", err)
		}
	}

	// --- Cleanup ---
	if lock != nil {
		lock.Release(context.Background())
		lock.Close()
	}
	if closeEvents != nil {
		closeEvents()
	}
	if closeAudit != nil {
		closeAudit()
	}

	logg.Infow("run summary",
		"succeeded", res.Succeeded(),
		"failed", res.Failed(),
		"health_attempts", res.HealthAttempts,
		"elapsed", res.Elapsed)
	logger.Sync()

	if runErr != nil {
		os.Exit(1)
	}
}
