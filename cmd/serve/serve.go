package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shipwatch/shipwatch/internal/acquisition"
	"github.com/shipwatch/shipwatch/internal/alert"
	"github.com/shipwatch/shipwatch/internal/api"
	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/datastore"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/mqtt"
	"github.com/shipwatch/shipwatch/internal/notification"
	"github.com/shipwatch/shipwatch/internal/observability"
	"github.com/shipwatch/shipwatch/internal/pipeline"
	"github.com/shipwatch/shipwatch/internal/processing"
	"github.com/shipwatch/shipwatch/internal/result"
	"github.com/shipwatch/shipwatch/internal/telemetry"
)

const sentryFlushTimeout = 2 * time.Second

// Command starts the HTTP service.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion service",
		Long:  "Open the detection store, start the HTTP API and run ingestion pipelines for submitted regions until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings)
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on (default webserver.listen)")
	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}
	return cmd
}

// Run wires every component and serves until ctx is done. In-flight
// pipeline runs are waited for before it returns.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("main")
	log.Info("starting shipwatch",
		logger.String("version", settings.Version),
		logger.String("build_date", settings.BuildDate),
		logger.String("instance", settings.Main.Name))

	if err := telemetry.InitSentry(settings); err != nil {
		return err
	}
	defer telemetry.Flush(sentryFlushTimeout)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	store := datastore.New(settings,
		datastore.WithLogger(logger.Global().Module("datastore")),
		datastore.WithMetrics(metrics.Datastore))
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("error closing datastore", logger.Error(err))
		}
	}()
	// a failed bootstrap is retried by the first ingestion, see InsertTileIfAbsent
	if err := store.EnsureReady(ctx); err != nil {
		log.Error("database bootstrap failed", logger.Error(err))
	}

	hub := notification.NewHub(
		notification.WithLogger(logger.Global().Module("notification")),
		notification.WithMetrics(metrics.Notification))
	defer hub.CloseAll()

	runner, err := processing.NewRunner(&settings.Processing,
		processing.WithLogger(logger.Global().Module("processing")))
	if err != nil {
		return err
	}
	acquirer := acquisition.NewClient(&settings.Acquisition,
		acquisition.WithLogger(logger.Global().Module("acquisition")))
	parser := result.NewParser(result.WithLogger(logger.Global().Module("result")))

	var server *api.Server
	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Global().Module("pipeline")),
		pipeline.WithMetrics(metrics.Pipeline),
		pipeline.WithMaxConcurrent(settings.Pipeline.MaxConcurrent),
		pipeline.WithIngestHook(func() {
			if server != nil {
				server.FlushCache()
			}
		}),
	}

	if settings.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(settings)
		mqttLog := logger.Global().Module("mqtt")
		client, err := mqtt.NewClient(cfg, metrics.MQTT, mqttLog)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			// the publisher reconnects on demand
			log.Warn("MQTT broker unavailable at startup", logger.Error(err))
		}
		defer client.Disconnect()
		opts = append(opts, pipeline.WithPublisher(mqtt.NewPublisher(client, cfg.Topic, settings.Main.Name, mqttLog)))
	}

	if settings.Alerts.Enabled {
		alerter, err := alert.New(settings.Alerts.URLs, settings.Main.Name,
			alert.WithLogger(logger.Global().Module("alert")))
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithAlerter(alerter))
	}

	coordinator := pipeline.New(acquirer, runner, parser.Parse, store, hub, opts...)

	server, err = api.New(settings,
		api.WithLogger(logger.Global().Module("api")),
		api.WithStore(store),
		api.WithPipeline(coordinator),
		api.WithHub(hub),
		api.WithMetrics(metrics))
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	log.Info("HTTP server listening", logger.String("address", settings.WebServer.Listen))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	if err := server.Shutdown(); err != nil {
		log.Warn("HTTP server did not shut down cleanly", logger.Error(err))
	}

	log.Info("waiting for in-flight pipeline runs")
	coordinator.Wait()
	log.Info("shutdown complete")
	return nil
}
