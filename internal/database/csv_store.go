package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/ThiagoRGoveia/desvios/internal/parser"
)

// CSVStore keeps each store in <dir>/desvios_<storeID>.csv.
//
// Append rewrites the whole file through a temp file and a rename, so a failed
// write never leaves a partial row behind. Appends to the same store are
// serialized inside this process only; two processes sharing a directory are
// still last writer wins.
type CSVStore struct {
	dir   string
	locks *keyedMutex
}

func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir, locks: newKeyedMutex()}
}

// Path returns the backing file of a store.
func (s *CSVStore) Path(storeID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("desvios_%s.csv", storeID))
}

func (s *CSVStore) EnsureInitialized(ctx context.Context, storeID string) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}
	unlock := s.locks.Lock(storeID)
	defer unlock()

	return s.ensureInitialized(storeID)
}

func (s *CSVStore) ensureInitialized(storeID string) error {
	path := s.Path(storeID)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat store file %s: %w", path, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", s.dir, err)
	}

	header, err := parser.EncodeHeader()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, header); err != nil {
		return fmt.Errorf("failed to create store file %s: %w", path, err)
	}
	return nil
}

func (s *CSVStore) Append(ctx context.Context, storeID string, record models.Deviation) error {
	return s.AppendBatch(ctx, storeID, []models.Deviation{record})
}

// AppendBatch adds records with a single rewrite, so either all of them are
// stored or none is.
func (s *CSVStore) AppendBatch(ctx context.Context, storeID string, records []models.Deviation) error {
	if err := validateStoreID(storeID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var rows []byte
	for _, record := range records {
		row, err := parser.EncodeRow(record)
		if err != nil {
			return err
		}
		rows = append(rows, row...)
	}

	unlock := s.locks.Lock(storeID)
	defer unlock()

	if err := s.ensureInitialized(storeID); err != nil {
		return err
	}

	path := s.Path(storeID)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read store file %s: %w", path, err)
	}

	// a zero byte file is an empty store that still needs its header
	if len(content) == 0 {
		content, err = parser.EncodeHeader()
		if err != nil {
			return err
		}
	}

	updated := make([]byte, 0, len(content)+len(rows)+1)
	updated = append(updated, content...)
	if content[len(content)-1] != '\n' {
		updated = append(updated, '\n')
	}
	updated = append(updated, rows...)

	if err := writeFileAtomic(path, updated); err != nil {
		return fmt.Errorf("failed to rewrite store file %s: %w", path, err)
	}
	return nil
}

func (s *CSVStore) ReadAll(ctx context.Context, storeID string) ([]models.Deviation, error) {
	if err := s.EnsureInitialized(ctx, storeID); err != nil {
		return nil, err
	}

	path := s.Path(storeID)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store file %s: %w", path, err)
	}
	defer file.Close()

	deviations, err := parser.ParseDeviations(file, parser.Comma)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", path, err)
	}
	return deviations, nil
}

func (s *CSVStore) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
