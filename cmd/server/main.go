// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/SinaHo/referral-backend/internal/config"
	"github.com/SinaHo/referral-backend/internal/database"
	"github.com/SinaHo/referral-backend/internal/logger"
	"github.com/SinaHo/referral-backend/internal/server"
)

var (
	configDir       = flag.String("config", "configs", "directory containing config.yaml")
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
)

func main() {
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic("failed to load .env: " + err.Error())
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer log.Sync()
	sugar := log.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *migrateOnlyFlag {
		runMigrations(ctx, cfg, sugar)
		return
	}

	app, err := server.NewAppServer(ctx, cfg, log)
	if err != nil {
		sugar.Fatalf("failed to initialize server: %v", err)
	}

	if cfg.Server.PprofAddr != "" {
		go func() {
			sugar.Infof("pprof listening on %s", cfg.Server.PprofAddr)
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				sugar.Warnw("pprof listener stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run()
	}()

	// Wait for interrupt (SIGINT/SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		sugar.Infow("Received shutdown signal", "signal", sig.String())
		app.GracefulStop()
	case err := <-errCh:
		app.GracefulStop()
		if err != nil {
			sugar.Fatalf("server run error: %v", err)
		}
	}
	sugar.Info("Server stopped")
}

func runMigrations(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, sugar); err != nil {
		sugar.Fatalf("migrations failed: %v", err)
	}
	sugar.Info("Migrations applied")
}
