// Package cli holds the desvios maintenance commands.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/config"
	"github.com/ThiagoRGoveia/desvios/internal/database"
	"github.com/ThiagoRGoveia/desvios/internal/logging"
	"github.com/ThiagoRGoveia/desvios/internal/models"
	"go.uber.org/zap"
)

// app is what every store command needs, built from the environment.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      database.RecordStore
	warehouses models.Warehouses
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	store, err := database.Open(ctx, cfg)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		warehouses: models.ParseWarehouses(cfg.Warehouses),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	a.logger.Sync()
}

// warehouse resolves the --warehouse flag. Blank is accepted for single site
// deployments.
func (a *app) warehouse(name string) (models.Warehouse, error) {
	w, ok := a.warehouses.Resolve(name)
	if !ok {
		names := make([]string, len(a.warehouses))
		for i, configured := range a.warehouses {
			names[i] = configured.Name
		}
		return models.Warehouse{}, fmt.Errorf("unknown warehouse %q (configured: %s)", name, strings.Join(names, ", "))
	}
	return w, nil
}
