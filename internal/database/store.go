package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/ThiagoRGoveia/desvios/internal/config"
	"github.com/ThiagoRGoveia/desvios/internal/models"
)

// RecordStore persists deviation records, one logical append-only store per
// warehouse. ReadAll returns records in insertion order; an empty store yields an
// empty slice and a nil error. AppendBatch stores all records or none.
type RecordStore interface {
	EnsureInitialized(ctx context.Context, storeID string) error
	Append(ctx context.Context, storeID string, record models.Deviation) error
	AppendBatch(ctx context.Context, storeID string, records []models.Deviation) error
	ReadAll(ctx context.Context, storeID string) ([]models.Deviation, error)
	Close() error
}

var ErrInvalidStoreID = errors.New("invalid store id")

var storeIDPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// validateStoreID keeps ids usable as file name fragments inside the data dir.
func validateStoreID(storeID string) error {
	if !storeIDPattern.MatchString(storeID) {
		return fmt.Errorf("%w: %q", ErrInvalidStoreID, storeID)
	}
	return nil
}

// Open builds the store selected by STORE_BACKEND.
func Open(ctx context.Context, cfg *config.Config) (RecordStore, error) {
	switch cfg.StoreBackend {
	case config.BackendCSV:
		return NewCSVStore(cfg.DataDir), nil
	case config.BackendSQLite:
		return OpenSQLiteStore(cfg.SQLitePath)
	case config.BackendPostgres:
		dbpool, err := ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(dbpool), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// keyedMutex hands out one mutex per store id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
