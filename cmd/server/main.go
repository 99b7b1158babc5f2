package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/order-fulfillment/internal/adapter/handler"
	"github.com/rl1809/order-fulfillment/internal/adapter/queue"
	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/config"
	"github.com/rl1809/order-fulfillment/internal/core/service"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/observability"
	"github.com/rl1809/order-fulfillment/internal/port"
	"github.com/rl1809/order-fulfillment/internal/worker"
)

type store interface {
	port.OrderRepository
	port.InventoryRepository
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "order-fulfillment: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var res resources
	defer func() {
		if err := res.close(); err != nil {
			fmt.Fprintf(os.Stderr, "order-fulfillment: shutdown: %v\n", err)
		}
	}()

	observability.SetupPropagation()
	shutdownLogs, err := observability.SetupLoggingSDK(ctx, cfg)
	if err != nil {
		return err
	}
	res.add("log exporter", func() error { return shutdownTelemetry(shutdownLogs) })
	shutdownTraces, err := observability.SetupTracingSDK(ctx, cfg)
	if err != nil {
		return err
	}
	res.add("trace exporter", func() error { return shutdownTelemetry(shutdownTraces) })

	logger := observability.NewLogger(cfg.TelemetryEnabled())
	defer logger.Sync()

	db, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	res.add("store", closeStore)

	// Consumer and publisher own separate connections and close independently.
	consumer, publisher, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	res.add("consumer", consumer.Close)
	res.add("publisher", publisher.Close)

	collector := metrics.New()
	tracer := otel.Tracer(config.ServiceName)
	pricing := service.NewPricingEngine(tracer, cfg.PricingLatency, service.PromoKeywordRule{
		Keyword: cfg.PromoKeyword,
		Percent: cfg.PromoPercent,
	})
	orderService := service.NewOrderService(
		db,
		service.NewReservationService(db, logger, tracer),
		pricing,
		collector,
		logger,
		tracer,
	)
	loop := worker.NewLoop(consumer, orderService, collector, logger,
		worker.WithRetryBackoff(cfg.RetryBackoff))

	health := handler.NewHealthHandler()
	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer()
		health.Register(grpcServer)
		go func() {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpHandler := handler.NewHTTPHandler(publisher, db, db, collector, logger)
		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpHandler.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	health.SetServing(true)
	loopErr := loop.Run(ctx)
	health.Shutdown()
	stop()

	logger.Info("shutting down...")
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown", zap.Error(err))
		}
		logger.Info("HTTP server stopped")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
	}

	logger.Info("servers stopped", zap.Any("stats", collector.Stats()))
	return loopErr
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreMySQL:
		db, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to mysql")
		return adapter, db.Close, nil

	case config.StorePostgres:
		pool, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		adapter := storage.NewPostgresAdapter(pool)
		if err := adapter.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return adapter, func() error {
			pool.Close()
			return nil
		}, nil

	case config.StoreRedis:
		rdb, err := openRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to redis store")
		return storage.NewRedisAdapter(rdb), rdb.Close, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return storage.NewMemoryAdapter(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openQueue(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Consumer, port.Publisher, error) {
	switch cfg.QueueBackend {
	case config.QueueRedis:
		consumerClient, err := openRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		publisherClient, err := openRedis(ctx, cfg.RedisAddr)
		if err != nil {
			consumerClient.Close()
			return nil, nil, err
		}
		logger.Info("using redis queue", zap.String("queue", cfg.QueueName))
		return queue.NewRedisConsumer(consumerClient, cfg.QueueName, logger),
			queue.NewRedisPublisher(publisherClient, cfg.QueueName), nil

	case config.QueueKafka:
		kc := queue.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.QueueName,
			GroupID: cfg.KafkaGroupID,
		}
		logger.Info("using kafka queue",
			zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
		return queue.NewKafkaConsumer(kc, logger), queue.NewKafkaPublisher(kc), nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

func openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return rdb, nil
}

func shutdownTelemetry(fn observability.ShutdownFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return fn(ctx)
}
