package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/database"
	"github.com/ThiagoRGoveia/desvios/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultParserWorkers = 4

// ImportService copies legacy deviation files into a warehouse store.
type ImportService struct {
	store            database.RecordStore
	fileProcessor    Processor
	logger           *zap.Logger
	numParserWorkers int
}

func NewImportService(store database.RecordStore, processor Processor, logger *zap.Logger, numParserWorkers int) *ImportService {
	if numParserWorkers < 1 {
		numParserWorkers = DefaultParserWorkers
	}
	return &ImportService{
		store:            store,
		fileProcessor:    processor,
		logger:           logger,
		numParserWorkers: numParserWorkers,
	}
}

type parsedFile struct {
	info    models.FileInfo
	records []models.Deviation
	err     error
}

// Execute imports the file or directory at filesPath into the store of
// warehouse. Files are parsed concurrently but appended one after another in
// scan order, one atomic batch per file, so the store keeps the legacy row
// order. Files with a checksum already seen in this run are skipped, as are
// rows whose galpao names another warehouse. Rows without a galpao are
// attributed to warehouse.
func (s *ImportService) Execute(ctx context.Context, filesPath string, warehouse models.Warehouse) (models.ImportSummary, error) {
	var summary models.ImportSummary

	// Step 1: find candidate files and drop repeated content.
	fileInfos, err := s.fileProcessor.ScanForFiles(filesPath)
	if err != nil {
		return summary, err
	}

	seen := make(map[string]bool, len(fileInfos))
	var unique []models.FileInfo
	for _, info := range fileInfos {
		if seen[info.Checksum] {
			s.logger.Info("skipping duplicate file", zap.String("file", info.Path), zap.String("checksum", info.Checksum))
			summary.Duplicates++
			continue
		}
		seen[info.Checksum] = true
		unique = append(unique, info)
	}
	summary.Files = len(unique)

	if err := s.store.EnsureInitialized(ctx, warehouse.StoreID); err != nil {
		return summary, fmt.Errorf("failed to initialize store %s: %w", warehouse.StoreID, err)
	}

	// Step 2: parse files with a bounded number of workers.
	parsed := make([]parsedFile, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.numParserWorkers)
	for i, info := range unique {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := s.fileProcessor.ReadFile(info.Path)
			parsed[i] = parsedFile{info: info, records: records, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	// Step 3: append in scan order.
	for _, file := range parsed {
		if file.err != nil {
			s.logger.Warn("could not parse file, skipping", zap.String("file", file.info.Path), zap.Error(file.err))
			summary.Failed++
			continue
		}

		var batch []models.Deviation
		skipped := 0
		for _, record := range file.records {
			owner := strings.TrimSpace(record.Warehouse)
			if owner != "" && owner != warehouse.Name {
				skipped++
				continue
			}
			record.Warehouse = warehouse.Name
			batch = append(batch, record)
		}

		// one batch per file: a failed file leaves nothing behind
		if len(batch) > 0 {
			if err := s.store.AppendBatch(ctx, warehouse.StoreID, batch); err != nil {
				return summary, fmt.Errorf("failed to import %s: %w", file.info.Path, err)
			}
		}

		s.logger.Info("file imported",
			zap.String("file", file.info.Path),
			zap.Int("imported", len(batch)),
			zap.Int("skipped", skipped))
		summary.Imported += len(batch)
		summary.Skipped += skipped
	}

	return summary, nil
}
