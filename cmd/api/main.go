package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/azizikri/coupon-evaluator/internal/config"
	httphandler "github.com/azizikri/coupon-evaluator/internal/delivery/http"
	"github.com/azizikri/coupon-evaluator/internal/delivery/kafka"
	"github.com/azizikri/coupon-evaluator/internal/domain"
	"github.com/azizikri/coupon-evaluator/internal/evaluator"
	"github.com/azizikri/coupon-evaluator/internal/metrics"
	"github.com/azizikri/coupon-evaluator/internal/repository"
	"github.com/azizikri/coupon-evaluator/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/twmb/franz-go/pkg/kgo"
)

func main() {
	cfg := config.Load()

	stdr.SetVerbosity(cfg.Verbosity())
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)).WithName("coupon_api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.DBBackend, err)
	}
	defer closeStore()

	eval := evaluator.New(evaluator.WithLogger(logger.WithName("evaluator")))
	service := usecase.NewCouponService(store,
		usecase.WithEvaluator(eval),
		usecase.WithCacheTTL(cfg.CacheTTL()),
		usecase.WithLocation(cfg.Location()),
		usecase.WithLogger(logger.WithName("coupon_service")),
	)

	if cfg.SeedOnStart() {
		if _, err := service.SeedCatalog(ctx, domain.SeedRecords); err != nil {
			log.Fatalf("Failed to seed coupon catalog: %v", err)
		}
	}

	var gateway usecase.CouponGateway
	var kafkaClient *kgo.Client
	var replyClient *kgo.Client
	var retryClient *kgo.Client

	if cfg.EventDriven() {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		kafkaLogger := logger.WithName("kafka")

		kafkaClient, err = newConsumerClient(brokers, cfg.KafkaClientID, cfg.KafkaGroupID, kafka.RequestTopics...)
		if err != nil {
			log.Fatalf("Failed to create kafka client: %v", err)
		}

		if err := kafka.EnsureTopics(ctx, kafkaClient, cfg, kafkaLogger); err != nil {
			kafkaLogger.Error(err, "failed to ensure topics")
		}

		// workers evaluate in process, the HTTP layer goes through Kafka
		consumer := kafka.NewConsumer(kafkaClient, kafka.NewDirectGateway(service), kafkaLogger.WithName("consumer"))
		go consumer.Start(ctx)

		retryClient, err = newConsumerClient(brokers, cfg.KafkaClientID+"-retry", cfg.KafkaRetryGroupID, kafka.RetryTopics...)
		if err != nil {
			log.Fatalf("Failed to create retry kafka client: %v", err)
		}
		retryConsumer := kafka.NewConsumer(retryClient, kafka.NewDirectGateway(service), kafkaLogger.WithName("retry"))
		go retryConsumer.StartRetry(ctx)

		replyClient, err = newReplyClient(brokers, cfg.KafkaClientID+"-reply", kafka.ReplyTopic(cfg.KafkaInstanceID))
		if err != nil {
			log.Fatalf("Failed to create reply kafka client: %v", err)
		}

		kgateway := kafka.NewGateway(kafkaClient, cfg.KafkaInstanceID, kafkaLogger.WithName("gateway"))
		kgateway.StartReplyPoller(ctx, replyClient)
		gateway = kgateway
	} else {
		gateway = kafka.NewDirectGateway(service)
	}

	handler := httphandler.NewHandler(service, gateway)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	handler.Routes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting server", "port", cfg.AppPort, "backend", cfg.DBBackend, "event_driven", cfg.EventDriven())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "http shutdown error")
	}

	if kafkaClient != nil {
		kafkaClient.Close()
	}
	if replyClient != nil {
		replyClient.Close()
	}
	if retryClient != nil {
		retryClient.Close()
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

// openStore connects the configured backend. For Postgres the schema
// migrations are applied before the store is returned.
func openStore(ctx context.Context, cfg *config.Config, logger logr.Logger) (repository.Store, func(), error) {
	switch cfg.DBBackend {
	case config.BackendSQLite:
		store, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.(io.Closer).Close(); err != nil {
				logger.Error(err, "failed to close sqlite store")
			}
		}, nil
	case config.BackendPostgres:
		pool, err := initDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, logger.WithName("migrations")); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return repository.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown DB_BACKEND %q", cfg.DBBackend)
	}
}

func initDB(ctx context.Context, cfg *config.Config, logger logr.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.Attempts(5),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("database not ready, retrying", "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
	)
}
