package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

func GetFileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to copy file content to hasher for file %s: %w", filePath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CalculateHash digests rows of fields. Fields are joined with ';' and rows with
// '\n', so the digest changes whenever a row is added or edited.
func CalculateHash(rows [][]string) string {
	digest := xxhash.New()
	for _, row := range rows {
		digest.WriteString(strings.Join(row, ";"))
		digest.WriteString("\n")
	}

	return hex.EncodeToString(digest.Sum(nil))
}
