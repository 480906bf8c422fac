package database

import (
	"context"
	"fmt"

	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	return dbpool, nil
}

// PostgresStore shares one deviation_records table between warehouses. The
// BIGSERIAL id gives the insertion order.
type PostgresStore struct {
	dbpool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{dbpool: pool}
}

func (m *PostgresStore) EnsureInitialized(ctx context.Context, storeID string) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}

	query := `
	CREATE TABLE IF NOT EXISTS deviation_records (
		id BIGSERIAL PRIMARY KEY,
		store_id VARCHAR(64) NOT NULL,
		timestamp VARCHAR(19) NOT NULL,
		desvio_tipo TEXT NOT NULL,
		descricao TEXT NOT NULL,
		galpao VARCHAR(255) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deviation_records_store ON deviation_records (store_id, id);`

	_, err := m.dbpool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("error creating deviation_records table: %w", err)
	}

	return nil
}

func (m *PostgresStore) Append(ctx context.Context, storeID string, record models.Deviation) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}

	query := `
	INSERT INTO deviation_records (store_id, timestamp, desvio_tipo, descricao, galpao)
	VALUES ($1, $2, $3, $4, $5);`

	_, err := m.dbpool.Exec(ctx, query, storeID, record.Timestamp, record.Type, record.Description, record.Warehouse)
	if err != nil {
		return fmt.Errorf("error inserting deviation record: %w", err)
	}

	return nil
}

// AppendBatch loads records with a single COPY, which is atomic and assigns ids
// in slice order.
func (m *PostgresStore) AppendBatch(ctx context.Context, storeID string, records []models.Deviation) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}

	columnNames := []string{"store_id", "timestamp", "desvio_tipo", "descricao", "galpao"}
	copySource := pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
		record := records[i]
		return []interface{}{storeID, record.Timestamp, record.Type, record.Description, record.Warehouse}, nil
	})

	_, err := m.dbpool.CopyFrom(ctx, pgx.Identifier{"deviation_records"}, columnNames, copySource)
	if err != nil {
		return fmt.Errorf("error copying deviation records: %w", err)
	}

	return nil
}

func (m *PostgresStore) ReadAll(ctx context.Context, storeID string) ([]models.Deviation, error) {
	if err := validateStoreID(storeID); err != nil {
		return nil, err
	}

	query := `
	SELECT timestamp, desvio_tipo, descricao, galpao
	FROM deviation_records
	WHERE store_id = $1
	ORDER BY id;`

	rows, err := m.dbpool.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("error querying deviation records: %w", err)
	}

	deviations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Deviation, error) {
		var d models.Deviation
		err := row.Scan(&d.Timestamp, &d.Type, &d.Description, &d.Warehouse)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning deviation records: %w", err)
	}
	if deviations == nil {
		deviations = []models.Deviation{}
	}

	return deviations, nil
}

func (m *PostgresStore) Close() error {
	m.dbpool.Close()
	return nil
}
