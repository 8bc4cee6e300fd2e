// Package verify compares local records with the copies held by the endpoint,
// field by field, and aggregates the outcome over a whole dataset.
package verify

import (
	"bytes"

	"github.com/lehigh-university-libraries/doisync/internal/models"
)

// Fields lists the compared record fields in report order.
var Fields = []string{"title", "abstract", "folder", "notes", "glossary", "details", "varData"}

// Match methods.
const (
	MethodExact         = "exact"
	MethodMismatch      = "mismatch"
	MethodRemoteMissing = "remote_missing"
	MethodLocalMissing  = "local_missing"
	MethodBothMissing   = "both_missing"
)

// FieldMatch represents the comparison result for a single field
type FieldMatch struct {
	Expected string
	Actual   string
	Score    float64 // 0.0 or 1.0
	Method   string
}

// Comparison holds the field-level outcome for one record.
type Comparison struct {
	Fields         map[string]FieldMatch
	FieldsMatched  int
	FieldsMissing  int
	FieldsMismatch int
	OverallScore   float64
}

// Compare normalizes both records and compares every allow-listed field by
// its canonical JSON encoding. Fields absent on both sides do not count
// towards the score.
func Compare(local, remote models.Raw) *Comparison {
	doi := models.EffectiveDOI("", local)
	lm := models.Normalize(doi, local).Map()
	rm := models.Normalize(doi, remote).Map()

	c := &Comparison{Fields: make(map[string]FieldMatch, len(Fields))}
	compared := 0
	for _, key := range Fields {
		m := compareField(lm, rm, key)
		c.Fields[key] = m

		switch m.Method {
		case MethodExact:
			c.FieldsMatched++
		case MethodMismatch:
			c.FieldsMismatch++
		case MethodRemoteMissing, MethodLocalMissing:
			c.FieldsMissing++
		case MethodBothMissing:
			continue
		}
		compared++
	}

	if compared > 0 {
		c.OverallScore = float64(c.FieldsMatched) / float64(compared)
	} else {
		c.OverallScore = 1.0
	}
	return c
}

func compareField(local, remote models.Raw, key string) FieldMatch {
	lv, lok := local[key]
	rv, rok := remote[key]

	m := FieldMatch{Expected: encode(lv, lok), Actual: encode(rv, rok)}
	switch {
	case !lok && !rok:
		m.Method = MethodBothMissing
	case !rok:
		m.Method = MethodRemoteMissing
	case !lok:
		m.Method = MethodLocalMissing
	case m.Expected == m.Actual:
		m.Method = MethodExact
		m.Score = 1.0
	default:
		m.Method = MethodMismatch
	}
	return m
}

func encode(v any, ok bool) string {
	if !ok {
		return ""
	}
	data, err := models.EncodeJSON(v)
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
