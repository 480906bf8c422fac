package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/models"
)

// Comma is the delimiter of every store file written by this service.
const Comma = ';'

// Header is the fixed column order of a deviation store.
var Header = []string{"timestamp", "desvio_tipo", "descricao", "galpao"}

var requiredColumns = []string{"timestamp", "desvio_tipo", "descricao"}

const utf8BOM = "\ufeff"

// EncodeHeader returns the header line, newline terminated.
func EncodeHeader() ([]byte, error) {
	return encode(Header)
}

// EncodeRow returns one record as a delimited line, newline terminated.
func EncodeRow(record models.Deviation) ([]byte, error) {
	return encode(record.Columns())
}

func encode(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Comma = Comma
	if err := writer.Write(fields); err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseDeviations reads a header line followed by records. Columns are mapped by
// name, so files without the galpao column (single site exports) are accepted.
// An input with no data rows yields an empty, non-nil slice.
func ParseDeviations(r io.Reader, comma rune) ([]models.Deviation, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return []models.Deviation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	deviations := []models.Deviation{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		deviations = append(deviations, models.Deviation{
			Timestamp:   field(record, index, "timestamp"),
			Type:        field(record, index, "desvio_tipo"),
			Description: field(record, index, "descricao"),
			Warehouse:   field(record, index, "galpao"),
		})
	}

	return deviations, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		index[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header is missing columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func field(record []string, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// DetectDelimiter picks ';' or ',' from a header line, whichever splits it into
// more columns. Ties fall back to Comma.
func DetectDelimiter(line string) rune {
	if strings.Count(line, ",") > strings.Count(line, string(Comma)) {
		return ','
	}
	return Comma
}

// ReadLegacyFile parses a deviation CSV written by an older deployment, detecting
// its delimiter from the header line.
func ReadLegacyFile(filePath string) ([]models.Deviation, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	buffered := bufio.NewReader(file)
	firstLine, err := buffered.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header from %s: %w", filePath, err)
	}

	comma := DetectDelimiter(firstLine)
	deviations, err := ParseDeviations(io.MultiReader(strings.NewReader(firstLine), buffered), comma)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return deviations, nil
}
