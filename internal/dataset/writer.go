package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// Write saves a collection to path, choosing the format from the extension.
func Write(path string, coll models.Collection) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return writeJSON(path, coll)
	case ".jsonl":
		return writeJSONL(path, coll)
	case ".yaml", ".yml":
		return writeYAML(path, coll)
	case ".parquet":
		return writeParquet(path, coll)
	default:
		return fmt.Errorf("unsupported file format: %s (supported: .json, .jsonl, .yaml, .parquet)", ext)
	}
}

// MarshalYAML renders a collection as YAML.
func MarshalYAML(coll models.Collection) ([]byte, error) {
	data, err := yaml.Marshal(map[string]models.Raw(coll))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

func writeJSON(path string, coll models.Collection) error {
	data, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

func writeJSONL(path string, coll models.Collection) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create JSONL file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, rec := range fromCollection(coll) {
		line, err := models.EncodeJSON(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", models.Identifier(rec), err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write JSONL file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write JSONL file: %w", err)
	}
	return file.Close()
}

func writeYAML(path string, coll models.Collection) error {
	data, err := MarshalYAML(coll)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}
	return nil
}

func writeParquet(path string, coll models.Collection) error {
	dois := make([]string, 0, len(coll))
	for doi := range coll {
		dois = append(dois, doi)
	}
	sort.Strings(dois)

	rows := make([]Row, 0, len(dois))
	for _, doi := range dois {
		row, err := RowFromRaw(doi, coll[doi])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}
	return nil
}
