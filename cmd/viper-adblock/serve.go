package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/contextutil"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/LeFroid/Viper-Browser-sub001/internal/adblock"
	"github.com/LeFroid/Viper-Browser-sub001/internal/hookapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// shutdownTimeout is the time given to the server and the refresher to stop.
const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) (err error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mtrc, err := adblock.NewPrometheusMetrics("viper", reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	m, err := newManager(ctx, logger, mtrc)
	if err != nil {
		return err
	}

	installDefaults(ctx, logger, m)

	refr := service.NewRefreshWorker(&service.RefreshWorkerConfig{
		ContextConstructor: contextutil.NewTimeoutConstructor(cfg.HTTP.Timeout * time.Duration(max(cfg.HTTP.Retries, 1))),
		ErrorHandler:       service.NewSlogErrorHandler(logger.With(slogutil.KeyPrefix, "refresh"), slog.LevelError, "refreshing"),
		Refresher:          m,
		Schedule:           timeutil.NewConstSchedule(cfg.Refresh.Interval),
		RefreshOnShutdown:  false,
	})

	err = refr.Start(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("starting refresher: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: hookapi.New(&hookapi.Config{
			Logger:   logger,
			Engine:   m,
			Gatherer: reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down")
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "serving", slogutil.KeyError, err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if serveErr := srv.Shutdown(shutdownCtx); serveErr != nil {
		errs = append(errs, fmt.Errorf("shutting down server: %w", serveErr))
	}

	if refrErr := refr.Shutdown(shutdownCtx); refrErr != nil {
		errs = append(errs, fmt.Errorf("shutting down refresher: %w", refrErr))
	}

	if saveErr := m.Save(); saveErr != nil {
		errs = append(errs, fmt.Errorf("saving subscriptions: %w", saveErr))
	}

	return errors.Join(errs...)
}

// installDefaults installs the enabled lists of the config file when no
// subscription is installed yet
func installDefaults(ctx context.Context, logger *slog.Logger, m *adblock.Manager) {
	if !m.Enabled() || len(m.Subscriptions()) > 0 {
		return
	}

	for _, list := range cfg.EnabledLists() {
		err := m.InstallSubscription(ctx, list.URL)
		if err != nil {
			logger.WarnContext(ctx, "installing list", "name", list.Name, slogutil.KeyError, err)
		}
	}

	if err := m.Save(); err != nil {
		logger.WarnContext(ctx, "saving subscriptions", slogutil.KeyError, err)
	}
}
