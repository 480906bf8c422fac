package ingestion

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/ThiagoRGoveia/desvios/internal/parser"
	"github.com/ThiagoRGoveia/desvios/pkg/checksum"
	"go.uber.org/zap"
)

// Processor defines the interface for file processing operations.
type Processor interface {
	ScanForFiles(rootPath string) ([]models.FileInfo, error)
	ReadFile(filePath string) ([]models.Deviation, error)
}

// FileProcessor discovers legacy CSV files and parses them.
type FileProcessor struct {
	logger *zap.Logger
}

func NewFileProcessor(logger *zap.Logger) *FileProcessor {
	return &FileProcessor{logger: logger}
}

// ScanForFiles returns rootPath itself when it is a file, or every .csv file
// under it in lexical order. Each entry carries the file's xxhash checksum.
func (fp *FileProcessor) ScanForFiles(rootPath string) ([]models.FileInfo, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", rootPath, err)
	}

	var paths []string
	if info.IsDir() {
		fp.logger.Info("scanning for files", zap.String("path", rootPath))
		err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error walking directory %s: %w", rootPath, err)
		}
	} else {
		paths = []string{rootPath}
	}

	fileInfos := make([]models.FileInfo, 0, len(paths))
	for _, path := range paths {
		sum, err := checksum.GetFileChecksum(path)
		if err != nil {
			return nil, err
		}
		fileInfos = append(fileInfos, models.FileInfo{Path: path, Checksum: sum})
	}

	fp.logger.Info("files found", zap.Int("count", len(fileInfos)))
	return fileInfos, nil
}

func (fp *FileProcessor) ReadFile(filePath string) ([]models.Deviation, error) {
	return parser.ReadLegacyFile(filePath)
}
