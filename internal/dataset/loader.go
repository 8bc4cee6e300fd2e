package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// Loader reads records from a dataset file (JSON, JSONL, YAML or Parquet)
type Loader struct {
	datasetPath string
}

// NewLoader creates a new dataset loader
func NewLoader(datasetPath string) *Loader {
	return &Loader{
		datasetPath: datasetPath,
	}
}

// Load loads every record in the file
func (l *Loader) Load() ([]models.Raw, error) {
	return l.LoadSample(0)
}

// LoadSample loads at most limit records; zero or negative means all
func (l *Loader) LoadSample(limit int) ([]models.Raw, error) {
	ext := strings.ToLower(filepath.Ext(l.datasetPath))

	var records []models.Raw
	var err error
	switch ext {
	case ".parquet":
		records, err = l.loadParquet(limit)
	case ".jsonl":
		records, err = l.loadJSONL(limit)
	case ".json":
		records, err = l.loadJSON()
	case ".yaml", ".yml":
		records, err = l.loadYAML()
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .json, .jsonl, .yaml, .parquet)", ext)
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// loadJSONL loads records from a JSONL file
func (l *Loader) loadJSONL(limit int) ([]models.Raw, error) {
	slog.Debug("Opening JSONL file", "path", l.datasetPath)

	file, err := os.Open(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	var records []models.Raw
	scanner := bufio.NewScanner(file)

	// Increase buffer size for large JSON lines
	const maxCapacity = 10 * 1024 * 1024 // 10MB per line
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	lineNum := 0
	for scanner.Scan() {
		if limit > 0 && len(records) >= limit {
			break
		}
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())

		if len(line) == 0 {
			continue
		}

		var record models.Raw
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dataset: %w", err)
	}

	slog.Debug("Finished reading JSONL file", "total_records", len(records), "total_lines", lineNum)

	return records, nil
}

// loadJSON accepts a collection object keyed by DOI or an array of records
func (l *Loader) loadJSON() ([]models.Raw, error) {
	data, err := os.ReadFile(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []models.Raw
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse JSON array: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Data models.Collection `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Data != nil {
		return fromCollection(envelope.Data), nil
	}

	var coll models.Collection
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, fmt.Errorf("failed to parse JSON collection: %w", err)
	}
	return fromCollection(coll), nil
}

// loadYAML accepts the same shapes as loadJSON
func (l *Loader) loadYAML() ([]models.Raw, error) {
	data, err := os.ReadFile(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		records := make([]models.Raw, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("YAML item %d is not a mapping", i)
			}
			records = append(records, models.Raw(m))
		}
		return records, nil
	case map[string]any:
		coll := make(models.Collection, len(v))
		for doi, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("YAML entry %q is not a mapping", doi)
			}
			coll[doi] = models.Raw(m)
		}
		return fromCollection(coll), nil
	default:
		return nil, fmt.Errorf("unsupported YAML document of type %T", doc)
	}
}

// loadParquet loads records from a Parquet file
func (l *Loader) loadParquet(limit int) ([]models.Raw, error) {
	slog.Debug("Opening Parquet file", "path", l.datasetPath)

	file, err := os.Open(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	slog.Debug("Parquet file opened successfully", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var records []models.Raw
	rows := make([]Row, 128) // Read in batches

	for limit <= 0 || len(records) < limit {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			raw, convErr := row.Raw()
			if convErr != nil {
				return nil, convErr
			}
			records = append(records, raw)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}

	slog.Debug("Finished reading Parquet file", "total_records", len(records))

	return records, nil
}

// fromCollection flattens a collection in DOI order, filling in the DOI of
// records that do not carry one.
func fromCollection(coll models.Collection) []models.Raw {
	dois := make([]string, 0, len(coll))
	for doi := range coll {
		dois = append(dois, doi)
	}
	sort.Strings(dois)

	records := make([]models.Raw, 0, len(dois))
	for _, doi := range dois {
		rec := coll[doi]
		if rec == nil {
			continue
		}
		if models.Identifier(rec) == "" {
			withID := make(models.Raw, len(rec)+1)
			for k, v := range rec {
				withID[k] = v
			}
			withID["DOI"] = doi
			rec = withID
		}
		records = append(records, rec)
	}
	return records
}
