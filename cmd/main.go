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

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	// OpenTelemetry
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Drivers
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	// Interne
	"github.com/jupiterclapton/friendgraph/config"
	"github.com/jupiterclapton/friendgraph/internal/adapters/primary/events"
	"github.com/jupiterclapton/friendgraph/internal/adapters/primary/rest"
	"github.com/jupiterclapton/friendgraph/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/friendgraph/internal/adapters/secondary/metrics"
	"github.com/jupiterclapton/friendgraph/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/friendgraph/internal/adapters/secondary/resilience"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
	"github.com/jupiterclapton/friendgraph/internal/core/services"
)

func main() {
	// 1. Charger la Config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger (JSON pour la prod, Text pour le dev)
	initLogger(cfg)
	slog.Info("🚀 Starting Friendgraph Service",
		"env", cfg.Env,
		"instance", cfg.InstanceID,
		"store", cfg.StoreBackend,
		"refresh_mode", cfg.RefreshMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("Error shutting down tracer", "error", err)
			}
		}()
	}

	// 4. Infrastructure : stockage
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Unable to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.BreakerEnabled {
		bcfg := resilience.DefaultBreakerConfig(cfg.StoreBackend + "-store")
		bcfg.MaxRequests = uint32(cfg.BreakerMaxRequests) // borné par la validation
		bcfg.Timeout = cfg.BreakerTimeout
		bcfg.FailureThreshold = cfg.BreakerThreshold
		store = resilience.NewBreakerStore(store, bcfg)
	}

	// 5. Infrastructure : Nats (optionnel)
	var (
		nc        *nats.Conn
		publisher ports.EventPublisher
	)
	if cfg.NatsUrl != "" {
		nc, err = nats.Connect(cfg.NatsUrl, nats.Name(cfg.ServiceName+"/"+cfg.InstanceID))
		if err != nil {
			slog.Error("Unable to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		publisher = eventbroker.NewNatsPublisher(nc, cfg.InstanceID)
		slog.Info("✅ Connected to NATS")
	}

	// 6. Core
	collector := metrics.NewCollector()
	cache := services.NewGraphCache(store, store, collector, services.CacheOptions{
		Mode:         services.RefreshMode(cfg.RefreshMode),
		Interval:     cfg.RefreshInterval,
		StoreTimeout: cfg.StoreTimeout,
	})
	queries := services.NewQueryService(cache)
	mutations := services.NewMutationService(cache, publisher)

	// Premier snapshot avant d'accepter du trafic. Un échec n'est pas fatal :
	// /healthz reste en 503 et le prochain refresh retentera.
	if err := cache.Refresh(ctx); err != nil {
		slog.Warn("Initial graph load failed", "error", err)
	} else {
		stats := cache.Stats()
		slog.Info("✅ Graph loaded", "users", stats.Users, "edges", stats.Edges)
	}
	cache.Start(ctx)

	// 7. Consumer Nats (Driving Adapter - Async)
	if nc != nil {
		handler := events.NewEventHandler(cache, cfg.InstanceID)
		if _, err := handler.Subscribe(nc); err != nil {
			slog.Error("Failed to subscribe to NATS", "error", err)
			os.Exit(1)
		}
		slog.Info("👂 Listening for events (NATS)")
	}

	// 8. Serveur HTTP (Driving Adapter - Sync)
	api := rest.NewServer(queries, mutations, cache,
		rest.WithMetrics(collector.Handler()),
		rest.WithCORS(cfg.CORSOrigins),
	)
	srvHTTP := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("📡 HTTP API listening", "port", cfg.HTTPPort)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// 9. Serveur gRPC : health check (K8s) + reflection
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "port", cfg.GRPCPort, "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.Env != "prod" {
		reflection.Register(grpcServer)
		slog.Info("🔍 gRPC Reflection enabled")
	}

	go func() {
		slog.Info("🚀 gRPC Server listening", "address", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("Failed to serve", "error", err)
			os.Exit(1)
		}
	}()

	// 10. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	sig := <-quit
	slog.Info("⚠️  Signal received, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced to shutdown", "error", err)
	}
	if nc != nil {
		// Plus d'invalidations après ce point
		_ = nc.Drain()
	}
	if err := cache.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Refresh loop did not stop in time", "error", err)
	}

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("✅ gRPC Server stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("⏳ Timeout reached, forcing server stop")
		grpcServer.Stop()
	}

	slog.Info("👋 Service stopped")
}

// --- HELPERS ---

// openStore ouvre le backend choisi ; close libère la connexion.
func openStore(ctx context.Context, cfg *config.Config) (ports.Store, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
		if err != nil {
			return nil, nil, fmt.Errorf("parse db config: %w", err)
		}
		// Tracing de chaque requête SQL
		dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		// Fail Fast
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping: %w", err)
		}
		slog.Info("✅ Database connected")

		repo := repository.NewPostgresRepo(pool)
		if cfg.EnsureSchema {
			if err := repo.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repo, pool.Close, nil

	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, nil, fmt.Errorf("create neo4j driver: %w", err)
		}
		closeDriver := func() { _ = driver.Close(context.Background()) }

		verifyCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := driver.VerifyConnectivity(verifyCtx); err != nil {
			closeDriver()
			return nil, nil, fmt.Errorf("neo4j connectivity: %w", err)
		}
		slog.Info("✅ Connected to Neo4j")

		repo := repository.NewNeo4jRepo(driver)
		if cfg.EnsureSchema {
			if err := repo.EnsureSchema(ctx); err != nil {
				slog.Warn("Schema init failed (might be fine if already exists)", "error", err)
			}
		}
		return repo, closeDriver, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("instrument redis: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		slog.Info("✅ Connected to Redis")
		return repository.NewRedisRepo(rdb), func() { _ = rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func initLogger(cfg *config.Config) {
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(), // En prod, gérez le TLS
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceInstanceIDKey.String(cfg.InstanceID),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	// Propagateur global : le trace-id suit les requêtes HTTP et les events Nats
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
