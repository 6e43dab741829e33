package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/holisticode/exec-tracer/blocktrace"
	"github.com/holisticode/exec-tracer/common"
	"github.com/holisticode/exec-tracer/database"
	"github.com/holisticode/exec-tracer/httpserver"
	"github.com/holisticode/exec-tracer/metrics"
	"github.com/holisticode/exec-tracer/snapshot"
	"github.com/holisticode/exec-tracer/uploader"
	"github.com/urfave/cli/v2" // imports as package "cli"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for API",
		EnvVars: []string{"LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "metrics-addr",
		Value:   "127.0.0.1:8090",
		Usage:   "address to listen on for Prometheus metrics",
		EnvVars: []string{"METRICS_ADDR"},
	},
	&cli.BoolFlag{
		Name:    "log-json",
		Value:   false,
		Usage:   "log in JSON format",
		EnvVars: []string{"LOG_JSON"},
	},
	&cli.BoolFlag{
		Name:    "log-debug",
		Value:   false,
		Usage:   "log debug messages",
		EnvVars: []string{"LOG_DEBUG"},
	},
	&cli.BoolFlag{
		Name:    "log-uid",
		Value:   false,
		Usage:   "generate a uuid and add to all log messages",
		EnvVars: []string{"LOG_UID"},
	},
	&cli.StringFlag{
		Name:    "log-service",
		Value:   "exec-tracer",
		Usage:   "add 'service' tag to logs",
		EnvVars: []string{"LOG_SERVICE"},
	},
	&cli.BoolFlag{
		Name:    "pprof",
		Value:   false,
		Usage:   "enable pprof debug endpoint",
		EnvVars: []string{"PPROF"},
	},
	&cli.Int64Flag{
		Name:    "drain-seconds",
		Value:   45,
		Usage:   "seconds to wait in drain HTTP request",
		EnvVars: []string{"DRAIN_SECONDS"},
	},
	&cli.StringFlag{
		Name:     "db-connection-string",
		Value:    "",
		Usage:    "postgres database backend",
		EnvVars:  []string{"DB_CONNECTION_STRING"},
		Required: true,
	},
	&cli.BoolFlag{
		Name:    "tracing-enabled",
		Value:   true,
		Usage:   "record traces for blocks handed to the tracer",
		EnvVars: []string{"TRACING_ENABLED"},
	},
	&cli.StringFlag{
		Name:    "snapshot-format",
		Value:   string(snapshot.FormatBinary),
		Usage:   "format of the state snapshots: binary or json",
		EnvVars: []string{"SNAPSHOT_FORMAT"},
	},
	&cli.IntFlag{
		Name:    "max-read-entries",
		Value:   1_000_000,
		Usage:   "state reads kept per block, 0 for no cap",
		EnvVars: []string{"MAX_READ_ENTRIES"},
	},
	&cli.IntFlag{
		Name:    "queue-high-capacity",
		Value:   256,
		Usage:   "capacity of the high priority upload tier",
		EnvVars: []string{"QUEUE_HIGH_CAPACITY"},
	},
	&cli.IntFlag{
		Name:    "queue-low-capacity",
		Value:   4096,
		Usage:   "capacity of the low priority upload tier",
		EnvVars: []string{"QUEUE_LOW_CAPACITY"},
	},
	&cli.Uint64Flag{
		Name:    "upload-retries",
		Value:   2,
		Usage:   "extra delivery attempts for a failed upload",
		EnvVars: []string{"UPLOAD_RETRIES"},
	},
	&cli.BoolFlag{
		Name:    "drain-queue-on-exit",
		Value:   true,
		Usage:   "deliver pending uploads before exiting",
		EnvVars: []string{"DRAIN_QUEUE_ON_EXIT"},
	},
}

func main() {
	app := &cli.App{
		Name:  "httpserver",
		Usage: "Run the trace upload pipeline, serve the query API and metrics",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			log := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				log = log.With("uid", id.String())
			}

			if _, err := metrics.Setup(); err != nil {
				log.Error("failed to set up metrics", "err", err)
				return err
			}

			log.Debug("Creating DB backend connection...")
			storage, err := database.NewStorage(cCtx.String("db-connection-string"), log)
			if err != nil {
				log.Error("failed to create database service", "err", err)
				return err
			}
			defer storage.Close()

			queue := uploader.NewQueue(cCtx.Int("queue-high-capacity"), cCtx.Int("queue-low-capacity"))
			if err := metrics.ObserveQueue(func() (int64, int64) {
				high, low := queue.Pending()
				return int64(high), int64(low)
			}); err != nil {
				log.Error("failed to register queue gauge", "err", err)
				return err
			}
			dispatcher := uploader.NewDispatcher(queue, database.NewSink(storage, log), uploader.Config{
				MaxRetries: cCtx.Uint64("upload-retries"),
			}, log)

			log.Debug("Creating Block Tracer...")
			tracer, err := blocktrace.NewBlockTracer(blocktrace.Config{
				Enabled:        cCtx.Bool("tracing-enabled"),
				MaxReadEntries: cCtx.Int("max-read-entries"),
				SnapshotFormat: snapshot.Format(cCtx.String("snapshot-format")),
			}, queue, log)
			if err != nil {
				log.Error("failed to create tracer", "err", err)
				return err
			}

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:  listenAddr,
				MetricsAddr: metricsAddr,
				Log:         log,
				EnablePprof: enablePprof,

				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,

				DBService: storage,
				Tracer:    tracer,
			}

			log.Info("Starting upload dispatcher...")
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			dispatcher.Start(ctx)

			log.Info("Starting RPC server...")
			srv, err := httpserver.New(cfg)
			if err != nil {
				log.Error("failed to create server", "err", err)
				return err
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			srv.RunInBackground()
			<-exit

			// Shutdown server once termination signal is received
			log.Info("Shutting down the application")
			tracer.SetEnabled(false)
			srv.Shutdown()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownDuration)
			defer stopCancel()
			if err := dispatcher.Stop(stopCtx, cCtx.Bool("drain-queue-on-exit")); err != nil {
				log.Warn("upload queue not fully drained", "err", err)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
