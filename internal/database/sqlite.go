package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every warehouse in one embedded table, partitioned by
// store_id. Row ids preserve insertion order.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	st := &SQLiteStore{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS deviation_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  store_id TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  desvio_tipo TEXT NOT NULL,
  descricao TEXT NOT NULL,
  galpao TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deviation_records_store ON deviation_records(store_id, id);
`)
	if err != nil {
		return fmt.Errorf("error creating deviation_records table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureInitialized(ctx context.Context, storeID string) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}
	return s.migrate(ctx)
}

func (s *SQLiteStore) Append(ctx context.Context, storeID string, record models.Deviation) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deviation_records (store_id, timestamp, desvio_tipo, descricao, galpao) VALUES (?, ?, ?, ?, ?)`,
		storeID, record.Timestamp, record.Type, record.Description, record.Warehouse)
	if err != nil {
		return fmt.Errorf("error inserting deviation record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, storeID string, records []models.Deviation) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO deviation_records (store_id, timestamp, desvio_tipo, descricao, galpao) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing deviation insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, storeID, record.Timestamp, record.Type, record.Description, record.Warehouse); err != nil {
			return fmt.Errorf("error inserting deviation record: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ReadAll(ctx context.Context, storeID string) ([]models.Deviation, error) {
	if err := validateStoreID(storeID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, desvio_tipo, descricao, galpao FROM deviation_records WHERE store_id = ? ORDER BY id`,
		storeID)
	if err != nil {
		return nil, fmt.Errorf("error querying deviation records: %w", err)
	}
	defer rows.Close()

	deviations := []models.Deviation{}
	for rows.Next() {
		var d models.Deviation
		if err := rows.Scan(&d.Timestamp, &d.Type, &d.Description, &d.Warehouse); err != nil {
			return nil, fmt.Errorf("error scanning deviation record: %w", err)
		}
		deviations = append(deviations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deviation records: %w", err)
	}
	return deviations, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
