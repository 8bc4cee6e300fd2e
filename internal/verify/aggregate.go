package verify

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Result is the verification outcome for a single record.
type Result struct {
	DOI        string
	Comparison *Comparison
	Error      string // set when the record could not be compared
}

// FieldStats contains statistics for one record field
type FieldStats struct {
	ExactMatches  int
	Mismatches    int
	MissingFields int
	AverageScore  float64
	Scores        []float64
}

// Summary aggregates verification results over a dataset.
type Summary struct {
	TotalRecords int
	Compared     int
	Failed       int

	Fields          map[string]*FieldStats
	OverallAccuracy float64

	Results     []Result
	VerifiedAt  time.Time
	Endpoint    string
	DatasetPath string
}

// Aggregate builds a Summary from per-record results.
func Aggregate(results []Result, endpoint, datasetPath string) *Summary {
	s := &Summary{
		TotalRecords: len(results),
		Fields:       make(map[string]*FieldStats, len(Fields)),
		Results:      results,
		VerifiedAt:   time.Now(),
		Endpoint:     endpoint,
		DatasetPath:  datasetPath,
	}
	for _, key := range Fields {
		s.Fields[key] = &FieldStats{Scores: []float64{}}
	}

	total := 0.0
	for _, result := range results {
		if result.Error != "" || result.Comparison == nil {
			s.Failed++
			continue
		}
		s.Compared++
		total += result.Comparison.OverallScore

		for _, key := range Fields {
			aggregateFieldStats(s.Fields[key], result.Comparison.Fields[key])
		}
	}

	if s.Compared > 0 {
		for _, stats := range s.Fields {
			stats.AverageScore = calculateAverage(stats.Scores)
		}
		s.OverallAccuracy = total / float64(s.Compared)
	}
	return s
}

// aggregateFieldStats updates field statistics
func aggregateFieldStats(stats *FieldStats, match FieldMatch) {
	switch match.Method {
	case MethodExact:
		stats.ExactMatches++
	case MethodMismatch:
		stats.Mismatches++
	case MethodRemoteMissing, MethodLocalMissing:
		stats.MissingFields++
	default:
		return
	}
	stats.Scores = append(stats.Scores, match.Score)
}

func calculateAverage(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, score := range scores {
		sum += score
	}

	return sum / float64(len(scores))
}

// OK reports whether every record was found and matched on every field.
func (s *Summary) OK() bool {
	if s.Failed > 0 {
		return false
	}
	for _, stats := range s.Fields {
		if stats.Mismatches > 0 || stats.MissingFields > 0 {
			return false
		}
	}
	return true
}

// PrintSummary writes a human-readable summary of the verification
func (s *Summary) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 70))
	fmt.Fprintln(w, "DOISYNC VERIFICATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 70))
	fmt.Fprintf(w, "Verified At: %s\n", s.VerifiedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Endpoint: %s\n", s.Endpoint)
	fmt.Fprintf(w, "Dataset: %s\n", s.DatasetPath)
	fmt.Fprintf(w, "Total Records: %d\n", s.TotalRecords)
	fmt.Fprintf(w, "Compared: %d\n", s.Compared)
	fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "FIELD-LEVEL AGREEMENT")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	for _, key := range Fields {
		stats := s.Fields[key]
		fmt.Fprintf(w, "%-10s exact=%d mismatch=%d missing=%d avg=%.3f\n",
			key, stats.ExactMatches, stats.Mismatches, stats.MissingFields, stats.AverageScore)
	}
	fmt.Fprintln(w)

	for _, result := range s.Results {
		if result.Error != "" {
			fmt.Fprintf(w, "FAILED %s: %s\n", result.DOI, result.Error)
			continue
		}
		for _, key := range Fields {
			m := result.Comparison.Fields[key]
			if m.Method == MethodExact || m.Method == MethodBothMissing {
				continue
			}
			fmt.Fprintf(w, "%s %s %s: expected %s, got %s\n", strings.ToUpper(m.Method), result.DOI, key, orNone(m.Expected), orNone(m.Actual))
		}
	}

	fmt.Fprintf(w, "Overall Accuracy: %.2f%% (%.3f)\n", s.OverallAccuracy*100, s.OverallAccuracy)
	fmt.Fprintln(w, strings.Repeat("=", 70))
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
