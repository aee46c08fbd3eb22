package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SspStark/adminsphere-server/internal/app"
	"github.com/SspStark/adminsphere-server/internal/config"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

func main() {
	if err := logger.Init(logger.ConfigFromEnv()); err != nil {
		logger.Fatal("failed to initialize logger", map[string]any{
			"error": err.Error(),
		})
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", map[string]any{
			"error": err.Error(),
		})
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize app", map[string]any{
			"error": err.Error(),
		})
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("failed to release resources", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	logger.Info("adminsphere-server started", map[string]any{
		"port": cfg.AppPort,
	})

	// Run returns once the signal context is cancelled and the server has drained.
	if err := application.Run(ctx); err != nil {
		logger.Error("server stopped with error", map[string]any{
			"error": err.Error(),
		})
		return
	}

	logger.Info("adminsphere-server stopped cleanly", nil)
}
