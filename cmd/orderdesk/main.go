// Command orderdesk runs the order intake and lifecycle service: it consumes
// validated order drafts from Kafka, batches them into the record store, and
// emits place/cancel commands toward the matching engine.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/helioex/orderdesk/internal/config"
	"github.com/helioex/orderdesk/internal/infrastructure/messaging"
	"github.com/helioex/orderdesk/internal/orders/cache"
	"github.com/helioex/orderdesk/internal/orders/cancel"
	"github.com/helioex/orderdesk/internal/orders/intake"
	"github.com/helioex/orderdesk/internal/orders/repository"
	"github.com/helioex/orderdesk/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "directory containing orderdesk.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		return err
	}
	repo := repository.New(db, log)
	if err := repo.AutoMigrate(); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	defer redisClient.Close()

	producer := messaging.NewBreakerProducer(
		messaging.NewKafkaProducer(cfg.Kafka.Messaging(), log),
		messaging.DefaultBreakerConfig(), log)
	defer producer.Close()
	consumer := messaging.NewKafkaConsumer(cfg.Kafka.Messaging(), log)
	defer consumer.Close()

	openCache := cache.New(redisClient, cfg.Cache, log)
	openCache.SetReconciler(cache.NewReconciler(repo, openCache, log))

	pipeline := intake.New(cfg.Intake, repo, producer, openCache, log)
	if err := pipeline.Start(ctx, consumer); err != nil {
		return err
	}
	defer pipeline.Stop()

	cancelCfg := cfg.Cancel
	cancelCfg.UseLegacyCancelFormat = cancelCfg.UseLegacyCancelFormat || cfg.Features.UseLegacyCancelFormat
	coordinator := cancel.New(cancelCfg, repo, producer, log)
	coordinator.SetBotTradingHalted(cfg.Features.BotTradingHalted)
	if err := consumer.Subscribe(ctx, messaging.TopicCancelRequests, coordinator.HandleMessage); err != nil {
		return err
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	defer metricsSrv.Close()

	log.Info("orderdesk started",
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers))

	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}
