package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/desvios/internal/auth"
	"github.com/ThiagoRGoveia/desvios/internal/config"
	"github.com/ThiagoRGoveia/desvios/internal/database"
	"github.com/ThiagoRGoveia/desvios/internal/logging"
	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/ThiagoRGoveia/desvios/internal/server"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid server config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer store.Close()

	warehouses := models.ParseWarehouses(cfg.Warehouses)
	for _, w := range warehouses {
		if err := store.EnsureInitialized(ctx, w.StoreID); err != nil {
			return fmt.Errorf("failed to initialize store for %s: %w", w.Name, err)
		}
	}

	authenticator, err := auth.NewAuthenticator(cfg.Accounts)
	if err != nil {
		return err
	}
	sessionStore := auth.NewSessionStore(cfg.SessionSecret, auth.SessionOptions{
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.SecureCookies,
	})

	router := server.SetupRoutes(server.NewDeviationService(store, authenticator, sessionStore, warehouses, logger), logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("backend", cfg.StoreBackend),
			zap.Int("warehouses", len(warehouses)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
