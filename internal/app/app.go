package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SspStark/adminsphere-server/internal/audit"
	"github.com/SspStark/adminsphere-server/internal/auth/notify"
	"github.com/SspStark/adminsphere-server/internal/config"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	httpServer     *http.Server
	infra          *Infra
	notifier       *notify.Notifier
	recorder       *audit.Recorder
	healthInterval time.Duration
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := setupHTTP(ctx, cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		httpServer:     server,
		infra:          infra,
		notifier:       svc.notifier,
		recorder:       svc.recorder,
		healthInterval: cfg.CacheHealthInterval,
	}, nil
}

// Run serves HTTP and the background workers until ctx is done or one of
// them fails, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", map[string]any{"addr": a.httpServer.Addr})
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return a.notifier.Run(gctx) })
	g.Go(func() error { return a.recorder.Run(gctx) })
	g.Go(func() error { return a.infra.Cache.Monitor(gctx, a.healthInterval) })

	return g.Wait()
}

func (a *App) Close() error {
	return a.infra.Close()
}
