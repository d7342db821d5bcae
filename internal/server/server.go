package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SinaHo/referral-backend/internal/cache"
	"github.com/SinaHo/referral-backend/internal/config"
	"github.com/SinaHo/referral-backend/internal/database"
	"github.com/SinaHo/referral-backend/internal/handler"
	"github.com/SinaHo/referral-backend/internal/middleware"
	"github.com/SinaHo/referral-backend/internal/repository"
	"github.com/SinaHo/referral-backend/internal/service"
)

// ServiceName is reported by the gRPC health service alongside the overall "" status.
const ServiceName = "referral.v1.API"

type AppServer struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	rdb    *redis.Client
	router *gin.Engine
	health *health.Server
	HTTP   *http.Server
	GRPC   *grpc.Server
}

// NewAppServer connects to the database (migrating it), optionally to Redis,
// and wires repositories, services and handlers into an HTTP router and a gRPC
// health server.
func NewAppServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AppServer, error) {
	sugar := logger.Sugar()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, sugar); err != nil {
		db.Close()
		return nil, err
	}

	var (
		rdb       *redis.Client
		codeCache service.CodeCache
	)
	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			sugar.Warnw("Redis unavailable, referral code cache disabled", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		} else {
			codeCache = cache.NewReferralCodeCache(rdb, cfg.Redis.CacheTTL, sugar)
		}
	}

	tokens, err := service.NewTokenService(cfg.JWT.SigningKey, cfg.JWT.TokenTTL, nil)
	if err != nil {
		closeAll(db, rdb)
		return nil, fmt.Errorf("token service: %w", err)
	}

	// Repository → Service → Handler
	hasher := service.NewBcryptHasher(cfg.Security.BcryptCost)
	userRepo := repository.NewUserRepository(db)
	referralRepo := repository.NewReferralRepository(db, nil)
	authSvc := service.NewAuthService(userRepo, hasher, tokens)
	referralSvc := service.NewReferralService(userRepo, referralRepo, hasher, codeCache, nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := middleware.NewMetrics(registry)
	if err != nil {
		closeAll(db, rdb)
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(sugar),
		middleware.Recovery(sugar),
		metrics.Handler(),
	)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handler.RegisterRoutes(router,
		handler.NewAuthHandler(authSvc),
		handler.NewReferralHandler(referralSvc),
		handler.NewHealthHandler(db),
		middleware.RequireAuth(sugar, authSvc),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(middleware.UnaryLoggingInterceptor(sugar)),
	)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	sugar.Infow("AppServer initialized successfully",
		"driver", cfg.Database.Driver,
		"cache", codeCache != nil,
	)
	return &AppServer{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: router,
		health: healthSrv,
		HTTP:   httpServer,
		GRPC:   grpcServer,
	}, nil
}

// Handler exposes the HTTP router, mainly for tests.
func (a *AppServer) Handler() http.Handler {
	return a.router
}

// Run listens on the HTTP and gRPC ports and blocks until either server fails
// or both are stopped by GracefulStop.
func (a *AppServer) Run() error {
	sugar := a.logger.Sugar()

	httpLis, err := net.Listen("tcp", a.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.HTTP.Addr, err)
	}
	grpcAddr := fmt.Sprintf(":%d", a.cfg.Server.GRPCPort)
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		sugar.Infof("HTTP server listening on %s", httpLis.Addr())
		errCh <- a.ServeHTTP(httpLis)
	}()
	go func() {
		sugar.Infof("gRPC health server listening on %s", grpcLis.Addr())
		errCh <- a.ServeGRPC(grpcLis)
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

// ServeHTTP serves the API on lis. It returns nil after a graceful shutdown.
func (a *AppServer) ServeHTTP(lis net.Listener) error {
	if err := a.HTTP.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

func (a *AppServer) ServeGRPC(lis net.Listener) error {
	if err := a.GRPC.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// GracefulStop marks the service NOT_SERVING, drains HTTP within the
// configured shutdown timeout, stops gRPC and closes the stores.
func (a *AppServer) GracefulStop() {
	sugar := a.logger.Sugar()
	sugar.Info("Shutting down servers gracefully")
	a.health.Shutdown()

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.HTTP.Shutdown(ctx); err != nil {
		sugar.Errorw("HTTP shutdown failed", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		a.GRPC.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.GRPC.Stop()
	}

	closeAll(a.db, a.rdb)
	sugar.Info("Resources closed, server stopped")
}

func closeAll(db *sqlx.DB, rdb *redis.Client) {
	if db != nil {
		db.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
}
