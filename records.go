package keycluster

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ClusterField is the key added to each labeled record.
const ClusterField = "cluster"

// Item is one input record: its text plus the original record as passthrough metadata.
type Item struct {
	Text   string
	Record map[string]any
}

// LabeledItem is an Item with its cluster id attached.
type LabeledItem struct {
	Item
	Cluster int
}

// ItemsFromRecords extracts the text field from every record.
func ItemsFromRecords(records []map[string]any, textField string) ([]Item, error) {
	items := make([]Item, 0, len(records))
	for i, record := range records {
		value, ok := record[textField]
		if !ok || value == nil {
			return nil, fmt.Errorf("record %d: %w %q", i, ErrMissingTextField, textField)
		}
		text, ok := value.(string)
		if !ok {
			text = fmt.Sprint(value)
		}
		items = append(items, Item{Text: text, Record: record})
	}
	return items, nil
}

// LabeledRecords returns copies of the item records with ClusterField set.
func LabeledRecords(labeled []LabeledItem) []map[string]any {
	out := make([]map[string]any, len(labeled))
	for i, li := range labeled {
		record := make(map[string]any, len(li.Record)+1)
		for k, v := range li.Record {
			record[k] = v
		}
		record[ClusterField] = li.Cluster
		out[i] = record
	}
	return out
}

// ReadRecords loads records from a .json array of objects or a .csv file with a header row.
func ReadRecords(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseCSVRecords(bytes.NewReader(data))
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse input JSON: %w", err)
	}
	return records, nil
}

func parseCSVRecords(r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse input CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	records := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				record[strings.TrimSpace(name)] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// writeJSON writes v as indented JSON without HTML escaping.
func writeJSON(path string, v any) error {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
