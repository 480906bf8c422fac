// Package analysis computes deviation type frequencies for the dashboard.
package analysis

import (
	"sort"
	"strings"

	"github.com/ThiagoRGoveia/desvios/internal/models"
)

// DefaultLimit is the size of the top and bottom lists on the dashboard.
const DefaultLimit = 5

func Analyze(records []models.Deviation) models.FrequencyAnalysis {
	return AnalyzeWithLimit(records, DefaultLimit)
}

// AnalyzeWithLimit groups records by their trimmed type and splits the groups into
// the limit most frequent (descending) and, among the rest, the limit least
// frequent (ascending). Equal counts keep the order in which each label first
// appears in records.
func AnalyzeWithLimit(records []models.Deviation, limit int) models.FrequencyAnalysis {
	groups := Count(records)

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	limit = max(limit, 0)
	split := min(limit, len(groups))
	top := append([]models.FrequencyEntry{}, groups[:split]...)

	// groups[split:] is a suffix of a stable sort, so equal counts there are
	// still in first-seen order.
	rest := append([]models.FrequencyEntry{}, groups[split:]...)
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Count < rest[j].Count
	})
	bottom := rest[:min(limit, len(rest))]

	return models.FrequencyAnalysis{
		Top:    top,
		Bottom: bottom,
		Total:  len(records),
	}
}

// Count returns one entry per distinct trimmed label in first-seen order.
func Count(records []models.Deviation) []models.FrequencyEntry {
	index := make(map[string]int)
	groups := []models.FrequencyEntry{}
	for _, record := range records {
		label := strings.TrimSpace(record.Type)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, models.FrequencyEntry{Label: label})
		}
		groups[i].Count++
	}
	return groups
}
