package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Raw is a record as stored by the remote endpoint. Fetched records may carry
// fields outside the allow-list.
type Raw map[string]any

// Collection maps a DOI to its stored record.
type Collection map[string]Raw

// identifierKeys lists the accepted spellings of the identifier field, in
// lookup order.
var identifierKeys = []string{"DOI", "doi", "Doi"}

// FieldState tells apart a missing field from one with an unexpected type.
type FieldState uint8

const (
	FieldAbsent FieldState = iota
	FieldInvalid
	FieldPresent
)

func (s FieldState) String() string {
	switch s {
	case FieldPresent:
		return "present"
	case FieldInvalid:
		return "invalid"
	default:
		return "absent"
	}
}

// Field is an optional record field together with the reason it is or is not set.
type Field[T any] struct {
	State FieldState
	Value T
}

// Present wraps a value in a present Field.
func Present[T any](v T) Field[T] {
	return Field[T]{State: FieldPresent, Value: v}
}

// Get returns the value and whether the field is present.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.State == FieldPresent
}

// Record is the allow-listed shape written to the remote endpoint.
type Record struct {
	DOI      string
	Title    Field[[]string]
	Abstract Field[any]
	Folder   Field[string]
	Notes    Field[[]any]
	Glossary Field[[]any]
	Details  Field[map[string]any]
	VarData  Field[[]any]
}

// Minimal returns a record holding only the identifier.
func Minimal(doi string) Record {
	return Record{DOI: strings.TrimSpace(doi)}
}

// IsMinimal reports whether the record carries nothing but its identifier.
func (r Record) IsMinimal() bool {
	return r.Title.State != FieldPresent &&
		r.Abstract.State != FieldPresent &&
		r.Folder.State != FieldPresent &&
		r.Notes.State != FieldPresent &&
		r.Glossary.State != FieldPresent &&
		r.Details.State != FieldPresent &&
		r.VarData.State != FieldPresent
}

// Map converts the record back to its wire form.
func (r Record) Map() Raw {
	out := Raw{"DOI": r.DOI}
	if v, ok := r.Title.Get(); ok {
		if v == nil {
			v = []string{}
		}
		out["title"] = v
	}
	if v, ok := r.Abstract.Get(); ok {
		out["abstract"] = v
	}
	if v, ok := r.Folder.Get(); ok {
		out["folder"] = v
	}
	if v, ok := r.Notes.Get(); ok {
		out["notes"] = v
	}
	if v, ok := r.Glossary.Get(); ok {
		out["glossary"] = v
	}
	if v, ok := r.Details.Get(); ok {
		out["details"] = v
	}
	if v, ok := r.VarData.Get(); ok {
		out["varData"] = v
	}
	return out
}

// MarshalJSON emits the identifier and every present field.
func (r Record) MarshalJSON() ([]byte, error) {
	return EncodeJSON(r.Map())
}

// EncodeJSON encodes v without HTML escaping and without a trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Identifier returns the first non-empty identifier found under any accepted
// spelling, trimmed.
func Identifier(raw map[string]any) string {
	for _, key := range identifierKeys {
		if s, ok := raw[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// EffectiveDOI picks the explicit id when set, else the record's own identifier.
func EffectiveDOI(id string, raw map[string]any) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return Identifier(raw)
}

// Normalize maps an untrusted record onto the allow-list. It never fails: if
// anything goes wrong the result is the minimal record for the identifier.
func Normalize(id string, raw map[string]any) (rec Record) {
	doi := strings.TrimSpace(id)
	defer func() {
		if r := recover(); r != nil {
			rec = Minimal(doi)
		}
	}()
	doi = EffectiveDOI(id, raw)

	rec = Record{
		DOI:      doi,
		Title:    Present(coerceTitle(raw["title"])),
		Abstract: Present(raw["abstract"]),
		Folder:   stringField(raw, "folder"),
		Notes:    listField(raw, "notes"),
		Glossary: listField(raw, "glossary"),
		Details:  objectField(raw, "details"),
		VarData:  listField(raw, "varData"),
	}
	return rec
}

// NormalizeJSON decodes a JSON document and normalizes it. Input that is not a
// JSON object yields the minimal record for id.
func NormalizeJSON(id string, data []byte) Record {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Minimal(id)
	}
	return Normalize(id, raw)
}

func coerceTitle(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		return []string{t}
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

func stringField(raw map[string]any, key string) Field[string] {
	v, ok := raw[key]
	if !ok || v == nil {
		return Field[string]{}
	}
	s, ok := v.(string)
	if !ok {
		return Field[string]{State: FieldInvalid}
	}
	return Present(s)
}

func listField(raw map[string]any, key string) Field[[]any] {
	v, ok := raw[key]
	if !ok || v == nil {
		return Field[[]any]{}
	}
	switch l := v.(type) {
	case []any:
		return Present(l)
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return Present(out)
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return Present(out)
	default:
		return Field[[]any]{State: FieldInvalid}
	}
}

func objectField(raw map[string]any, key string) Field[map[string]any] {
	v, ok := raw[key]
	if !ok || v == nil {
		return Field[map[string]any]{}
	}
	switch m := v.(type) {
	case map[string]any:
		return Present(m)
	case Raw:
		return Present(map[string]any(m))
	default:
		return Field[map[string]any]{State: FieldInvalid}
	}
}
