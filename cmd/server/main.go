package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	appealsvc "fineledger/internal/appeal/service"
	"fineledger/internal/audit"
	driversvc "fineledger/internal/driver/service"
	"fineledger/internal/evidence"
	offensesvc "fineledger/internal/offense/service"
	"fineledger/internal/payment/gateway"
	paymentsvc "fineledger/internal/payment/service"
	"fineledger/internal/platform/config"
	"fineledger/internal/platform/httpserver"
	"fineledger/internal/platform/logger"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/platform/redis"
	"fineledger/internal/policy"
	"fineledger/internal/session"
	"fineledger/internal/storage"
	"fineledger/internal/sweep"
	httptransport "fineledger/internal/transport/http"
)

// main wires the dependencies and supervises the three long-running pieces:
// the HTTP server, the overdue sweep and the audit worker. Business logic
// lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		slog.Error("fineledger exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, auditStore, cleanup, err := buildStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	cache, err := redis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if cache != nil {
		defer cache.Close()
		log.Info("dashboard cache enabled")
	}

	blobs, err := buildEvidenceStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher := audit.NewPublisher(256, log)
	var sinks []audit.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
		log.Info("kafka audit sink enabled", "topic", cfg.KafkaTopic)
	}
	auditWorker := audit.NewWorker(auditStore, publisher.Inbox(), log, sinks...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	acquirer, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	gate := policy.New()
	drivers := driversvc.NewService(ledger, gate, publisher, cache, log)
	offenses := offensesvc.NewService(ledger, gate, publisher, m, log, cfg.PaymentWindow)
	appeals := appealsvc.NewService(ledger, gate, publisher, m, blobs, log, cfg.AppealWindow)
	payments := paymentsvc.NewService(ledger, gate, acquirer, publisher, m, log)

	sessions := session.NewService(cfg.JWTSigningKey)
	handler := httptransport.NewHandler(log, drivers, offenses, appeals, payments)
	router := httptransport.NewRouter(handler, sessions, m, registry, log)
	srv := httpserver.New(cfg.Addr, router)

	sweeper := sweep.NewWorker(ledger, offenses, cfg.SweepInterval, log)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("fineledger listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// buildStorage selects the ledger backend. No DATABASE_URL means in-memory,
// which is the development default.
func buildStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (*storage.Ledger, audit.Store, func(), error) {
	if cfg.PostgresURL == "" {
		log.Info("using in-memory ledger")
		return storage.NewMemoryLedger(), audit.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrate ledger: %w", err)
	}
	if err := audit.MigratePostgres(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrate audit log: %w", err)
	}

	log.Info("using postgres ledger")
	return storage.NewPostgresLedger(db), audit.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

// buildGateway selects the acquirer. Only the simulated gateway is wired; a
// live acquirer client would slot in here when one exists.
func buildGateway(cfg config.Config) (gateway.Gateway, error) {
	if !cfg.GatewaySimulated {
		return nil, errors.New("PAYMENT_GATEWAY=live has no acquirer client wired")
	}
	return gateway.Simulated{DeclineOver: cfg.GatewayDeclineOver}, nil
}

func buildEvidenceStore(ctx context.Context, cfg config.Config) (evidence.BlobStore, error) {
	if cfg.MinioEndpoint == "" {
		return evidence.NewMemoryStore(), nil
	}
	store, err := evidence.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, false)
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}
	return store, nil
}
