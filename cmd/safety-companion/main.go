package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/safety-companion/internal/apiclient"
	"github.com/nholik/safety-companion/internal/config"
	"github.com/nholik/safety-companion/internal/diagnostic"
	"github.com/nholik/safety-companion/internal/healthcheck"
	"github.com/nholik/safety-companion/internal/logging"
	"github.com/nholik/safety-companion/internal/metrics"
	"github.com/nholik/safety-companion/internal/notify"
	"github.com/nholik/safety-companion/internal/runner"
	"github.com/nholik/safety-companion/internal/server"
	"github.com/nholik/safety-companion/internal/state"
	"github.com/nholik/safety-companion/internal/web"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.New()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.NewWithLevel(cfg.LogLevel)
	logger.Info().
		Str("api_url", cfg.APIURL).
		Int("listen_port", cfg.ListenPort).
		Int("metrics_port", cfg.MetricsPort).
		Dur("check_timeout", cfg.CheckTimeout).
		Dur("poll_interval", cfg.PollInterval).
		Str("origin", cfg.Origin).
		Bool("dry_run", cfg.DryRun).
		Msg("safety-companion starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checklist, err := config.LoadChecklist(ctx, cfg.ChecklistFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ChecklistFile).Msg("failed to load checklist")
	}

	client, err := apiclient.New(cfg.APIURL,
		apiclient.WithOrigin(cfg.Origin),
		apiclient.WithTimeout(cfg.CheckTimeout),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create health check client")
	}

	metricsCollector := metrics.New()
	tracker := healthcheck.NewTracker()

	recorderOpts := []runner.RecorderOption{
		runner.WithMetrics(metricsCollector),
		runner.WithTracker(tracker),
		runner.WithBaseContext(ctx),
	}
	if cfg.StateFile != "" {
		recorderOpts = append(recorderOpts, runner.WithStateStore(state.NewFileStore(cfg.StateFile, logger)))
		recorderOpts = append(recorderOpts, runner.WithNotifier(buildNotifier(logger, cfg)))
	} else if cfg.SlackWebhookURL != "" || cfg.WebhookURL != "" {
		logger.Warn().Msg("notifications require SC_STATE_FILE to detect outcome changes; notifications disabled")
	}
	recorder := runner.NewRecorder(logger, client.Endpoint(), recorderOpts...)

	probe := diagnostic.NewProbe(logger, client,
		diagnostic.WithObserver(recorder),
		diagnostic.WithBaseContext(ctx),
	)
	defer probe.Close()

	pages, err := web.New(logger, probe, checklist, client.BaseURL(), apiclient.HealthPath,
		web.WithMetrics(metricsCollector),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pages")
	}

	stopped, err := server.Start(ctx, logger, server.Config{
		ListenPort:   cfg.ListenPort,
		MetricsPort:  cfg.MetricsPort,
		PollInterval: cfg.PollInterval,
	}, pages, tracker, metricsCollector)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start http server")
	}

	if cfg.PollInterval > 0 {
		r := runner.New(logger, cfg.PollInterval, runner.WithProber(probe))
		go func() {
			if err := r.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("runner exited with error")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	probe.Close()
	<-stopped
	logger.Info().Msg("safety-companion stopped")
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) notify.Notifier {
	notifiers := []notify.Notifier{}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure webhook notifier")
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	if len(notifiers) == 0 {
		return notify.NewNoop(logger, "no notification channels configured")
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	logger.Info().Int("channels", len(notifiers)).Bool("dry_run", cfg.DryRun).Msg("notifications enabled")
	return notifier
}
