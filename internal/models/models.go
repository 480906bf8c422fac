package models

import "strings"

// TimestampLayout is the format of Deviation.Timestamp (YYYY-MM-DD HH:MM:SS).
const TimestampLayout = "2006-01-02 15:04:05"

// Deviation is one submitted non-conformance record. Records are immutable once
// appended to a store.
type Deviation struct {
	Timestamp   string `json:"timestamp"`
	Type        string `json:"desvio_tipo"`
	Description string `json:"descricao"`
	Warehouse   string `json:"galpao"`
}

// Columns returns the record fields in store column order.
func (d Deviation) Columns() []string {
	return []string{d.Timestamp, d.Type, d.Description, d.Warehouse}
}

// Warehouse is a site that owns a separate deviation store.
type Warehouse struct {
	Name    string `json:"name"`
	StoreID string `json:"store_id"`
}

// NewWarehouse derives the store id from the display name: lower case with every
// rune outside [a-z0-9] removed, so "HB1/HB2" becomes "hb1hb2".
func NewWarehouse(name string) Warehouse {
	name = strings.TrimSpace(name)
	var id strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			id.WriteRune(r)
		}
	}
	return Warehouse{Name: name, StoreID: id.String()}
}

// Warehouses is the configured set of sites, in configuration order.
type Warehouses []Warehouse

func ParseWarehouses(names []string) Warehouses {
	var list Warehouses
	seen := make(map[string]bool)
	for _, name := range names {
		w := NewWarehouse(name)
		if w.StoreID == "" || seen[w.StoreID] {
			continue
		}
		seen[w.StoreID] = true
		list = append(list, w)
	}
	return list
}

// Lookup finds a warehouse by its display name.
func (ws Warehouses) Lookup(name string) (Warehouse, bool) {
	name = strings.TrimSpace(name)
	for _, w := range ws {
		if w.Name == name {
			return w, true
		}
	}
	return Warehouse{}, false
}

// Resolve maps a form value to a warehouse. A blank value resolves to the only
// warehouse of a single-site deployment.
func (ws Warehouses) Resolve(name string) (Warehouse, bool) {
	if strings.TrimSpace(name) == "" && len(ws) == 1 {
		return ws[0], true
	}
	return ws.Lookup(name)
}

func (ws Warehouses) SingleSite() bool {
	return len(ws) == 1
}

type FrequencyEntry struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FrequencyAnalysis holds the most and least frequent deviation types of a store.
// Top and Bottom never share a label.
type FrequencyAnalysis struct {
	Top    []FrequencyEntry `json:"top"`
	Bottom []FrequencyEntry `json:"bottom"`
	Total  int              `json:"total"`
}

// FileInfo is a legacy CSV file found by the importer.
type FileInfo struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// ImportSummary reports the outcome of one import run.
type ImportSummary struct {
	Files      int `json:"files"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Imported   int `json:"imported"`
	Skipped    int `json:"skipped"`
}
