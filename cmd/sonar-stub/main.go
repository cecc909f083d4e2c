package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgeline/sonar-onboarder/internal/sonarstub"
	"github.com/forgeline/sonar-onboarder/pkg/config"
	"github.com/forgeline/sonar-onboarder/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	port := config.GetEnvInt("STUB_PORT", 9000)
	startupDelay := config.GetEnvDuration("STUB_STARTUP_DELAY", 0)

	logger.Init("sonar-stub", config.GetEnv("ENV", "dev"), config.GetEnv("LOG_LEVEL", "info"))
	logg := logger.S()

	// --- Build the emulator ---
	stub := sonarstub.New(logger.L(), sonarstub.Config{
		AdminLogin:    config.GetEnv("STUB_ADMIN_LOGIN", "admin"),
		AdminPassword: config.GetEnv("STUB_ADMIN_PASSWORD", "admin"),
		StartupDelay:  startupDelay,
	})
	app := stub.App()

	go func() {
		logg.Infof("sonar stub listening on :%d (startup delay %s)", port, startupDelay)
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down [sonar-stub]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	logger.Sync()
}
