package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Oxeigns/Rak/automod/store"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "governor",
		Usage:   "moderation decision daemon for group messaging",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "transport-host",
			Usage:   "base URL of the messaging transport API",
			Value:   "https://api.telegram.org",
			EnvVars: []string{"GOVERNOR_TRANSPORT_HOST"},
		},
		&cli.StringFlag{
			Name:     "transport-token",
			Usage:    "bot token for the messaging transport",
			Required: true,
			EnvVars:  []string{"GOVERNOR_TRANSPORT_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "max-metadb-connections",
			EnvVars: []string{"MAX_METADB_CONNECTIONS"},
			Value:   40,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/governor/governor.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for shared counters, caches, and locks; in-memory stores when empty",
			EnvVars: []string{"GOVERNOR_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:     "callback-secret",
			Usage:    "HMAC key for callback token signing; must match across instances",
			Required: true,
			EnvVars:  []string{"GOVERNOR_CALLBACK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"GOVERNOR_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "classifier-host",
			Usage:   "base URL of the message classifier endpoint; rule-based fallback only when empty",
			EnvVars: []string{"GOVERNOR_CLASSIFIER_HOST"},
		},
		&cli.StringFlag{
			Name:    "classifier-api-key",
			EnvVars: []string{"GOVERNOR_CLASSIFIER_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "classifier-model",
			Value:   "gpt-4o-mini",
			EnvVars: []string{"GOVERNOR_CLASSIFIER_MODEL"},
		},
		&cli.Int64Flag{
			Name:    "required-channel",
			Usage:   "channel users must join before interacting; 0 disables the gate",
			EnvVars: []string{"GOVERNOR_REQUIRED_CHANNEL"},
		},
		&cli.StringFlag{
			Name:    "sets-json-path",
			Usage:   "file path of JSON file containing static policy sets (shareable actions, domain blocklist)",
			EnvVars: []string{"GOVERNOR_SETS_JSON_PATH"},
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "incoming webhook URL for admin alerts",
			EnvVars: []string{"GOVERNOR_WEBHOOK_URL"},
		},
		&cli.IntFlag{
			Name:    "transport-rate-limit",
			Usage:   "max outbound transport calls per second",
			Value:   25,
			EnvVars: []string{"GOVERNOR_TRANSPORT_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "callback-ttl",
			Usage:   "lifetime of interactive callback tokens",
			Value:   5 * time.Minute,
			EnvVars: []string{"GOVERNOR_CALLBACK_TTL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				log.Fatal("failed to create trace exporter", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("governor"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		db, err := store.SetupDatabase(cctx.String("database-url"), cctx.Int("max-metadb-connections"))
		if err != nil {
			return err
		}
		if err := store.MigrateAll(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}

		srv, err := NewServer(db, Config{
			Logger:             logger,
			TransportHost:      cctx.String("transport-host"),
			TransportToken:     cctx.String("transport-token"),
			TransportRateLimit: cctx.Int("transport-rate-limit"),
			RedisURL:           cctx.String("redis-url"),
			CallbackSecret:     cctx.String("callback-secret"),
			CallbackTTL:        cctx.Duration("callback-ttl"),
			ClassifierHost:     cctx.String("classifier-host"),
			ClassifierAPIKey:   cctx.String("classifier-api-key"),
			ClassifierModel:    cctx.String("classifier-model"),
			RequiredChannel:    cctx.Int64("required-channel"),
			SetsFileJSON:       cctx.String("sets-json-path"),
			WebhookURL:         cctx.String("webhook-url"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		return nil
	},
}
