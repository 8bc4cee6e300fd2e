package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/lehigh-university-libraries/doisync/internal/models"
)

// Row is the Parquet layout of a record. Free-form fields travel as JSON text.
type Row struct {
	DOI          string   `parquet:"doi"`
	Title        []string `parquet:"title,list"`
	Abstract     *string  `parquet:"abstract,optional"`
	AbstractJSON *string  `parquet:"abstract_json,optional"` // non-string abstract as JSON
	Folder       *string  `parquet:"folder,optional"`
	Notes        *string  `parquet:"notes,optional"`    // JSON array
	Glossary     *string  `parquet:"glossary,optional"` // JSON array
	Details      *string  `parquet:"details,optional"`  // JSON object
	VarData      *string  `parquet:"var_data,optional"` // JSON array
	Extra        *string  `parquet:"extra,optional"`    // JSON object of fields outside the allow-list
}

// allowListed maps record keys to the Row column they are written to.
var allowListed = map[string]bool{
	"DOI": true, "doi": true, "Doi": true,
	"title": true, "abstract": true, "folder": true,
	"notes": true, "glossary": true, "details": true, "varData": true,
}

// RowFromRaw flattens a stored record. doi is used when the record carries no
// identifier of its own.
func RowFromRaw(doi string, raw models.Raw) (Row, error) {
	row := Row{DOI: models.EffectiveDOI("", raw)}
	if row.DOI == "" {
		row.DOI = doi
	}

	rec := models.Normalize(row.DOI, raw)
	row.Title, _ = rec.Title.Get()

	if v, ok := raw["abstract"]; ok && v != nil {
		if s, isString := v.(string); isString {
			row.Abstract = &s
		} else {
			encoded, err := models.EncodeJSON(v)
			if err != nil {
				return Row{}, fmt.Errorf("failed to encode abstract for %s: %w", row.DOI, err)
			}
			s := string(encoded)
			row.AbstractJSON = &s
		}
	}
	if v, ok := rec.Folder.Get(); ok {
		row.Folder = &v
	}

	var err error
	if row.Notes, err = jsonColumn(rec.Notes); err != nil {
		return Row{}, err
	}
	if row.Glossary, err = jsonColumn(rec.Glossary); err != nil {
		return Row{}, err
	}
	if row.Details, err = jsonColumn(rec.Details); err != nil {
		return Row{}, err
	}
	if row.VarData, err = jsonColumn(rec.VarData); err != nil {
		return Row{}, err
	}

	extra := map[string]any{}
	for k, v := range raw {
		if !allowListed[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		encoded, err := models.EncodeJSON(extra)
		if err != nil {
			return Row{}, fmt.Errorf("failed to encode extra fields for %s: %w", row.DOI, err)
		}
		s := string(encoded)
		row.Extra = &s
	}
	return row, nil
}

// Raw rebuilds the record from a Row.
func (r Row) Raw() (models.Raw, error) {
	raw := models.Raw{"DOI": r.DOI}
	if r.Extra != nil {
		var extra map[string]any
		if err := json.Unmarshal([]byte(*r.Extra), &extra); err != nil {
			return nil, fmt.Errorf("failed to decode extra fields for %s: %w", r.DOI, err)
		}
		for k, v := range extra {
			raw[k] = v
		}
	}

	title := make([]any, len(r.Title))
	for i, t := range r.Title {
		title[i] = t
	}
	raw["title"] = title
	switch {
	case r.Abstract != nil:
		raw["abstract"] = *r.Abstract
	case r.AbstractJSON != nil:
		var v any
		if err := json.Unmarshal([]byte(*r.AbstractJSON), &v); err != nil {
			return nil, fmt.Errorf("failed to decode abstract for %s: %w", r.DOI, err)
		}
		raw["abstract"] = v
	default:
		raw["abstract"] = nil
	}
	if r.Folder != nil {
		raw["folder"] = *r.Folder
	}

	columns := []struct {
		key   string
		value *string
	}{
		{"notes", r.Notes},
		{"glossary", r.Glossary},
		{"details", r.Details},
		{"varData", r.VarData},
	}
	for _, c := range columns {
		if c.value == nil {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(*c.value), &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s for %s: %w", c.key, r.DOI, err)
		}
		raw[c.key] = v
	}
	return raw, nil
}

func jsonColumn[T any](f models.Field[T]) (*string, error) {
	v, ok := f.Get()
	if !ok {
		return nil, nil
	}
	encoded, err := models.EncodeJSON(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column: %w", err)
	}
	s := string(encoded)
	return &s, nil
}
