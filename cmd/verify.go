package cmd

import (
	"fmt"

	"github.com/lehigh-university-libraries/doisync/internal/dataset"
	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/lehigh-university-libraries/doisync/internal/verify"
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		input string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare a dataset file with the records held by the endpoint",
		Long: `Loads records from a dataset file, fetches the endpoint collection once and
compares every record field by field after normalization. Exits non-zero when
any record is missing or differs.`,
		Example: `  # Check that an import landed
  doisync import --input records.jsonl
  doisync verify --input records.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			records, err := dataset.NewLoader(input).LoadSample(limit)
			if err != nil {
				return err
			}
			remote, err := client.FetchAll(cmd.Context())
			if err != nil {
				return err
			}

			results := make([]verify.Result, 0, len(records))
			for _, rec := range records {
				doi := models.EffectiveDOI("", rec)
				result := verify.Result{DOI: doi}
				switch stored, ok := remote[doi]; {
				case doi == "":
					result.Error = "record has no DOI"
				case !ok:
					result.Error = "not found on endpoint"
				default:
					result.Comparison = verify.Compare(rec, stored)
				}
				results = append(results, result)
			}

			summary := verify.Aggregate(results, client.Endpoint(), input)
			summary.PrintSummary(cmd.OutOrStdout())
			if !summary.OK() {
				return fmt.Errorf("%d of %d records differ from the endpoint", countDiffering(summary), summary.TotalRecords)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Dataset file (.json, .jsonl, .yaml, .parquet)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Verify at most this many records (0 for all)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func countDiffering(s *verify.Summary) int {
	n := 0
	for _, r := range s.Results {
		if r.Comparison == nil || r.Comparison.FieldsMismatch > 0 || r.Comparison.FieldsMissing > 0 {
			n++
		}
	}
	return n
}
