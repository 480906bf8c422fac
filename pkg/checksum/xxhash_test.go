package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHash(t *testing.T) {
	rows := [][]string{{"2025-01-01 00:00:00", "EPI", "x", "HB3"}}

	assert.Equal(t, CalculateHash(rows), CalculateHash(rows))
	assert.Len(t, CalculateHash(rows), 16)
	assert.NotEqual(t, CalculateHash(rows), CalculateHash(append(rows, []string{"2025-01-01 00:00:01", "EPI", "y", "HB3"})))
	assert.NotEqual(t, CalculateHash(nil), CalculateHash([][]string{{}}))
}

func TestGetFileChecksum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte("timestamp;desvio_tipo\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("timestamp;desvio_tipo\n"), 0644))

	sumA, err := GetFileChecksum(a)
	require.NoError(t, err)
	sumB, err := GetFileChecksum(b)
	require.NoError(t, err)
	assert.Equal(t, sumA, sumB)

	_, err = GetFileChecksum(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
