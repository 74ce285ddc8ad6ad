package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afif1710/NexusMarket/internal/cache"
	"github.com/afif1710/NexusMarket/internal/config"
	healthgrpc "github.com/afif1710/NexusMarket/internal/grpc"
	h "github.com/afif1710/NexusMarket/internal/http"
	"github.com/afif1710/NexusMarket/internal/inventory"
	"github.com/afif1710/NexusMarket/internal/notify"
	"github.com/afif1710/NexusMarket/internal/payment"
	"github.com/afif1710/NexusMarket/internal/poller"
	"github.com/afif1710/NexusMarket/internal/publisher"
	"github.com/afif1710/NexusMarket/internal/reconcile"
	"github.com/afif1710/NexusMarket/internal/repository"
	"github.com/afif1710/NexusMarket/internal/service"
	"github.com/afif1710/NexusMarket/internal/telemetry"
	"github.com/afif1710/NexusMarket/pkg/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "nexusmarket"
	serviceVersion  = "1.0.0"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("nexusmarket stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, serviceVersion, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		_ = mongoDB.Client().Disconnect(context.Background())
	}()
	if err := repository.EnsureIndexes(ctx, mongoDB); err != nil {
		return err
	}
	log.Info("connected to MongoDB", "db", cfg.MongoDBName)

	checks := map[string]healthgrpc.Checker{
		"mongo": func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) },
	}

	var orderRepo repository.OrderRepository
	switch cfg.OrderStore {
	case config.OrderStorePostgres:
		creds := &repository.Credentials{
			Host:              cfg.Postgres.Host,
			Port:              cfg.Postgres.Port,
			User:              cfg.Postgres.User,
			Password:          cfg.Postgres.Password,
			DBName:            cfg.Postgres.DBName,
			MigrationsDirPath: cfg.Postgres.MigrationsPath,
		}
		pg, err := repository.NewPostgresOrderRepository(creds)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.RunMigrations(creds); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database migrations completed")
		checks["postgres"] = pg.PingContext
		orderRepo = pg
	default:
		orderRepo = repository.NewMongoOrderRepository(mongoDB)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	cartCache := cache.NewRedisCache(redisClient)
	if err := cartCache.Ping(ctx); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	checks["redis"] = cartCache.Ping

	var gateway payment.Gateway
	switch cfg.PaymentProvider {
	case config.ProviderFake:
		gateway = payment.NewFakeGateway(payment.RandomOutcome{}, 1, cfg.SessionTTL)
		log.Warn("using fake payment provider")
	default:
		gateway = payment.NewStripeGateway(payment.StripeConfig{
			APIKey:     cfg.StripeAPIKey,
			BaseURL:    cfg.StripeAPIBase,
			Timeout:    cfg.GatewayCallTimeout,
			SessionTTL: cfg.SessionTTL,
		}, log)
	}

	hub := notify.NewHub(cfg.CORSAllowedOrigins, log)
	catalog := repository.NewMongoCatalogRepository(mongoDB)
	sessions := repository.NewMongoSessionRepository(mongoDB)
	carts := service.NewCartService(repository.NewMongoCartRepository(mongoDB), catalog, cartCache, log)
	ledger := service.NewOrderLedger(orderRepo, cfg.Pricing, hub, log)

	reconciler := reconcile.New(gateway, ledger, carts, sessions, reconcile.Config{
		Interval:         cfg.PollInterval,
		MaxAttempts:      cfg.PollMaxAttempts,
		TransportRetries: cfg.PollTransportRetries,
		CallTimeout:      cfg.GatewayCallTimeout,
	}, log)

	checkout := service.NewCheckoutService(carts, catalog, ledger, sessions, gateway, reconciler, service.CheckoutConfig{
		Currency:             cfg.Currency,
		SessionTTL:           cfg.SessionTTL,
		DirectPaymentMethods: cfg.DirectPaymentMethods,
		BackgroundReconcile:  cfg.BackgroundReconcile,
	}, log)
	defer checkout.Close()

	outboxCfg := publisher.DefaultConfig(cfg.OrderEventsTopic)
	outboxCfg.ClearGrace = cfg.CartClearGrace
	outbox := publisher.NewOutboxPoller(orderRepo, outboxCfg, log, cfg.KafkaBrokers...)
	defer outbox.Close()

	clearPoller := poller.NewPoller(carts, ledger, cfg.OrderEventsTopic, log, cfg.KafkaBrokers...)
	defer clearPoller.Close()

	stockConsumer := inventory.NewConsumer(orderRepo, repository.NewMongoStockRepository(mongoDB),
		repository.NewMongoLoyaltyRepository(mongoDB), hub, cfg.OrderEventsTopic, log, cfg.KafkaBrokers...)
	defer stockConsumer.Close()

	// sessions older than the whole polling window with no webhook
	pollWindow := cfg.PollInterval * time.Duration(cfg.PollMaxAttempts*cfg.PollTransportRetries)
	sweeper := reconcile.NewSweeper(sessions, reconciler, time.Minute, pollWindow+time.Minute, log)

	health := healthgrpc.NewHealthChecker(checks, 10*time.Second, log)

	router := h.NewRouter(h.RouterConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout: requestTimeout,
		StatusRate:     2,
		StatusBurst:    5,
	}, h.Handlers{
		Cart:     h.NewCartHandler(carts, requestTimeout, log),
		Orders:   h.NewOrdersHandler(checkout, ledger, requestTimeout, log),
		Payments: h.NewPaymentsHandler(checkout, cfg.StripeWebhookSecret, requestTimeout, log),
		Stream:   hub,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := healthgrpc.NewServer(health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { outbox.Run(gctx); return nil })
	g.Go(func() error { clearPoller.Run(gctx); return nil })
	g.Go(func() error { stockConsumer.Run(gctx); return nil })
	g.Go(func() error { sweeper.Run(gctx); return nil })
	g.Go(func() error { health.Run(gctx); return nil })
	g.Go(func() error {
		log.Info("gRPC health listening", "port", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("HTTP API listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("nexusmarket stopped")
	return nil
}
