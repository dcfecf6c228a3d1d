// Package main implements the arb-relay server: one regional instance that
// contends for the cross-region leader lease and, while leading, publishes
// deduplicated arbitrage opportunities to the downstream stream.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/crosslane/arb-relay/internal/handler"
	"github.com/crosslane/arb-relay/internal/ingest"
	"github.com/crosslane/arb-relay/pkg/admin"
	"github.com/crosslane/arb-relay/pkg/alert"
	"github.com/crosslane/arb-relay/pkg/config"
	"github.com/crosslane/arb-relay/pkg/distributor"
	"github.com/crosslane/arb-relay/pkg/election"
	"github.com/crosslane/arb-relay/pkg/housekeeping"
	"github.com/crosslane/arb-relay/pkg/lockstore"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/metrics"
	"github.com/crosslane/arb-relay/pkg/report"
	"github.com/crosslane/arb-relay/pkg/scheduler"
	"github.com/crosslane/arb-relay/pkg/secrets"
	"github.com/crosslane/arb-relay/pkg/state"
	"github.com/crosslane/arb-relay/pkg/stream"
	"github.com/crosslane/arb-relay/pkg/tracing"
)

var log = logging.WithComponent(logging.LogTypeServer, "main")

const (
	metricsNamespace = "ArbRelay"
	shutdownTimeout  = 30 * time.Second
)

// loadCredentials overlays secrets-backend values onto the environment
// config. Empty credential fields keep whatever the environment provided.
func loadCredentials(ctx context.Context, cfg *config.Config, awsCfg aws.Config) error {
	secretsCfg := secrets.LoadConfig()
	if err := secretsCfg.Validate(); err != nil {
		return err
	}
	store, err := secrets.NewStore(ctx, secretsCfg, awsCfg)
	if err != nil {
		return err
	}
	creds, err := store.Fetch(ctx)
	if err != nil {
		return err
	}
	if creds.ValkeyPassword != "" {
		cfg.ValkeyPassword = creds.ValkeyPassword
	}
	if creds.AdminSecret != "" {
		cfg.AdminSecret = creds.AdminSecret
	}
	if creds.IngestSecret != "" {
		cfg.IngestSecret = creds.IngestSecret
	}
	log.Info("credentials loaded", slog.String(logging.KeyBackend, secretsCfg.Backend))
	return nil
}

func initMetrics(awsCfg aws.Config, cfg *config.Config) (metrics.Publisher, http.Handler) {
	var publishers []metrics.Publisher
	var prometheusHandler http.Handler

	for _, backend := range cfg.MetricsBackends {
		switch backend {
		case "cloudwatch":
			publishers = append(publishers, metrics.NewCloudWatchPublisherWithNamespace(awsCfg, metricsNamespace))
			log.Info("cloudwatch metrics enabled")
		case "prometheus":
			prom := metrics.NewPrometheusPublisher(metrics.PrometheusConfig{Namespace: "arb_relay"})
			publishers = append(publishers, prom)
			prometheusHandler = prom.Handler()
			log.Info("prometheus metrics enabled")
		case "datadog":
			dd, err := metrics.NewDatadogPublisher(metrics.DatadogConfig{
				Address:   cfg.DatadogAddr,
				Namespace: "arb_relay",
				Tags:      []string{"env:" + cfg.Environment, "region:" + cfg.Region, "instance:" + cfg.InstanceID},
			})
			if err != nil {
				log.Warn("failed to create datadog publisher, continuing without it",
					slog.String(logging.KeyError, err.Error()))
				continue
			}
			publishers = append(publishers, dd)
			log.Info("datadog metrics enabled", slog.String(logging.KeyHost, cfg.DatadogAddr))
		default:
			log.Warn("unknown metrics backend ignored", slog.String(logging.KeyBackend, backend))
		}
	}

	switch len(publishers) {
	case 0:
		log.Info("no metrics backends enabled")
		return metrics.NoopPublisher{}, nil
	case 1:
		return publishers[0], prometheusHandler
	default:
		return metrics.NewMultiPublisher(publishers...), prometheusHandler
	}
}

// initAlerts builds the alert fan-out and returns a stop func that drains
// the audit sink's buffer on shutdown.
func initAlerts(ctx context.Context, awsCfg aws.Config, cfg *config.Config) (alert.Sink, func()) {
	sinks := []alert.Sink{alert.NewLogSink()}
	stop := func() {}
	if cfg.AlertSNSTopicARN != "" {
		sinks = append(sinks, alert.NewSNSSink(awsCfg, cfg.AlertSNSTopicARN))
		log.Info("sns alerts enabled")
	}
	if cfg.AlertLogGroup != "" {
		logStream := cfg.AlertLogStream
		if logStream == "" {
			logStream = cfg.InstanceID
		}
		audit := alert.NewCloudWatchLogsSink(awsCfg, cfg.AlertLogGroup, logStream)
		if err := audit.Start(ctx); err != nil {
			log.Warn("cloudwatch logs audit sink unavailable, continuing without it",
				slog.String(logging.KeyError, err.Error()))
		} else {
			sinks = append(sinks, audit)
			stop = audit.Stop
			log.Info("cloudwatch logs alerts enabled")
		}
	}
	if len(sinks) == 1 {
		return sinks[0], stop
	}
	return alert.NewMultiSink(sinks...), stop
}

func initLockStore(awsCfg aws.Config, cfg *config.Config, rdb *redis.Client) (lockstore.Store, error) {
	switch cfg.LockBackend {
	case config.LockBackendValkey:
		return lockstore.NewValkeyStore(rdb), nil
	case config.LockBackendDynamoDB:
		return lockstore.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.LockTableName), nil
	case config.LockBackendKubernetes:
		return lockstore.NewKubernetesStore(cfg.KubeNamespace, cfg.KubeConfig)
	default:
		return nil, fmt.Errorf("no lock store for backend %q", cfg.LockBackend)
	}
}

// initAppender returns the guarded appender for the publish path and the
// unguarded backend probe for readiness.
func initAppender(awsCfg aws.Config, cfg *config.Config, rdb *redis.Client, alerts alert.Sink) (stream.Appender, func(context.Context) error) {
	var appender stream.Appender
	switch cfg.StreamBackend {
	case config.StreamBackendSQS:
		appender = stream.NewSQSStream(awsCfg, cfg.SQSQueueURL)
		log.Info("sqs opportunity stream", slog.String(logging.KeyStream, cfg.SQSQueueURL))
	default:
		appender = stream.NewValkeyStreamWithClient(rdb, cfg.StreamName, "", cfg.InstanceID, cfg.StreamMaxLen)
		log.Info("valkey opportunity stream", slog.String(logging.KeyStream, cfg.StreamName))
	}
	return stream.NewGuard(appender, alerts, cfg.InstanceID, cfg.Region), pingOf(appender)
}

// initRawSource builds the raw submission consumer source. Returns nil when
// the deployment feeds the relay over HTTP only.
func initRawSource(awsCfg aws.Config, cfg *config.Config) (stream.Source, error) {
	switch cfg.StreamBackend {
	case config.StreamBackendSQS:
		if cfg.SQSRawQueueURL == "" {
			return nil, nil
		}
		return stream.NewSQSStream(awsCfg, cfg.SQSRawQueueURL), nil
	default:
		if cfg.RawStreamName == "" {
			return nil, nil
		}
		return stream.NewValkeyStream(stream.ValkeyConfig{
			Addr:       cfg.ValkeyAddr,
			Password:   cfg.ValkeyPassword,
			DB:         cfg.ValkeyDB,
			Stream:     cfg.RawStreamName,
			Group:      cfg.ConsumerGroup,
			ConsumerID: cfg.InstanceID,
			MaxLen:     cfg.StreamMaxLen,
		})
	}
}

func makeReadinessHandler(lockPing, streamPing func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := lockPing(ctx); err != nil {
			http.Error(w, "lock store unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := streamPing(ctx); err != nil {
			http.Error(w, "stream backend unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ready")
	}
}

// pingOf extracts the optional health probe from a backend. Backends without
// one always read as healthy.
func pingOf(v any) func(context.Context) error {
	if p, ok := v.(stream.Pinger); ok {
		return p.Ping
	}
	return func(context.Context) error { return nil }
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logging.Init()
		log.Error("failed to load config", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}
	logging.InitWithLevel(cfg.LogLevel)

	log.Info("starting arb-relay",
		slog.String(logging.KeyInstanceID, cfg.InstanceID),
		slog.String(logging.KeyRegion, cfg.Region),
		slog.String(logging.KeyBackend, cfg.LockBackend))

	tracingProvider, err := tracing.Init(ctx, tracing.LoadConfig())
	if err != nil {
		log.Warn("tracing disabled", slog.String(logging.KeyError, err.Error()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Error("failed to load AWS config", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}

	if err := loadCredentials(ctx, cfg, awsCfg); err != nil {
		log.Error("failed to load credentials", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}

	metricsPublisher, prometheusHandler := initMetrics(awsCfg, cfg)
	alerts, stopAlerts := initAlerts(ctx, awsCfg, cfg)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.ValkeyAddr,
		Password: cfg.ValkeyPassword,
		DB:       cfg.ValkeyDB,
	})

	registry := state.NewValkeyRegistryWithClient(rdb, "arb-relay:", cfg.StateTTL)
	sched := scheduler.New(metricsPublisher)

	appender, streamPing := initAppender(awsCfg, cfg, rdb, alerts)

	// The distributor needs the elector for leadership snapshots and the
	// transition hook needs the distributor for cache sizes; the hook reads
	// through this variable, assigned before the elector starts ticking.
	var dist *distributor.Distributor

	onTransition := func(snap election.Snapshot) {
		status := &state.InstanceStatus{
			InstanceID: cfg.InstanceID,
			Region:     cfg.Region,
			State:      snap.State,
			Leader:     snap.Leader,
			Epoch:      snap.Epoch,
		}
		if dist != nil {
			status.CacheSize = dist.CacheSize()
		}
		putCtx, putCancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
		defer putCancel()
		if err := registry.Put(putCtx, status); err != nil {
			log.Warn("failed to record state transition",
				slog.String(logging.KeyState, snap.State),
				slog.String(logging.KeyError, err.Error()))
		}
	}

	var elector election.Elector
	if cfg.LockBackend == config.LockBackendNone {
		elector = election.NewNoopElector()
	} else {
		lockStore, err := initLockStore(awsCfg, cfg, rdb)
		if err != nil {
			log.Error("failed to create lock store", slog.String(logging.KeyError, err.Error()))
			os.Exit(1)
		}
		elector = election.New(election.Config{
			InstanceID:      cfg.InstanceID,
			Region:          cfg.Region,
			LeaseName:       cfg.LeaseName,
			LeaseTTL:        cfg.LeaseTTL,
			RenewalInterval: cfg.RenewalInterval,
			StoreTimeout:    cfg.StoreTimeout,
			ResignHoldoff:   cfg.ResignHoldoff,
		}, lockStore, sched, alerts, metricsPublisher, onTransition)
	}

	dist = distributor.New(distributor.Config{
		StreamName:     cfg.StreamName,
		DedupeWindow:   cfg.DedupeWindow,
		MinImprovement: cfg.MinImprovement,
		MaxCacheSize:   cfg.MaxCacheSize,
		CacheTTL:       cfg.CacheTTL,
		TokenAliases:   cfg.TokenAliases,
	}, elector, appender, metricsPublisher)

	var reporter *report.Reporter
	if cfg.ReportsBucket != "" || cfg.ReportSNSTopicARN != "" {
		reporter = report.NewReporter(awsCfg, metricsNamespace, cfg.ReportSNSTopicARN, cfg.ReportsBucket)
		log.Info("daily reports enabled")
	}

	tasks := housekeeping.NewTasks(cfg.InstanceID, cfg.Region, dist, elector, registry, reporter)
	intervals := housekeeping.DefaultIntervals()
	intervals.CacheCleanup = cfg.CleanupInterval
	if err := tasks.RegisterAll(sched, intervals); err != nil {
		log.Error("failed to register housekeeping tasks", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}

	rawSource, err := initRawSource(awsCfg, cfg)
	if err != nil {
		log.Error("failed to create raw stream source", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}
	g, gctx := errgroup.WithContext(ctx)

	if rawSource != nil {
		consumer := ingest.NewConsumer(rawSource, dist, metricsPublisher, cfg.RawStreamName)
		g.Go(func() error {
			consumer.Run(gctx)
			return nil
		})
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /readyz", makeReadinessHandler(registry.Ping, streamPing))

	if prometheusHandler != nil {
		mux.Handle("GET /metrics", prometheusHandler)
	}

	ingestHandler := handler.NewIngestHandler(dist, cfg.IngestSecret, metricsPublisher)
	ingestHandler.RegisterRoutes(mux)

	adminHandler := admin.NewHandler(elector, dist, registry, cfg.InstanceID, cfg.Region, cfg.AdminSecret)
	adminHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Info("server listening", slog.String(logging.KeyHost, server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if err := elector.Start(ctx); err != nil {
		log.Error("failed to start elector", slog.String(logging.KeyError, err.Error()))
		os.Exit(1)
	}

	<-gctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Release the lease first so another region can take over without
	// waiting out the TTL.
	if err := elector.Stop(shutdownCtx); err != nil {
		log.Warn("elector shutdown failed", slog.String(logging.KeyError, err.Error()))
	}

	sched.Stop()

	if err := registry.Delete(shutdownCtx, cfg.InstanceID); err != nil {
		log.Warn("failed to deregister instance", slog.String(logging.KeyError, err.Error()))
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := g.Wait(); err != nil {
		log.Error("component failed", slog.String(logging.KeyError, err.Error()))
	}

	if err := metricsPublisher.Close(); err != nil {
		log.Warn("metrics publisher close failed", slog.String(logging.KeyError, err.Error()))
	}

	if tracingProvider != nil {
		if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", slog.String(logging.KeyError, err.Error()))
		}
	}

	stopAlerts()

	if err := rdb.Close(); err != nil {
		log.Warn("valkey client close failed", slog.String(logging.KeyError, err.Error()))
	}

	log.Info("server stopped")
}
