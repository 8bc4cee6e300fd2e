package cmd

import (
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/doisync/internal/dataset"
	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/lehigh-university-libraries/doisync/internal/notify"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every endpoint record to a dataset file",
		Long: `Fetches the full collection and writes it to a file. The format follows
the extension: .json, .jsonl, .yaml/.yml or .parquet.`,
		Example: `  doisync export --output records.parquet`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			coll, err := client.FetchAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := dataset.Write(output, coll); err != nil {
				return err
			}
			notify.New(cmd.ErrOrStderr()).Success(fmt.Sprintf("Exported %d records to %s", len(coll), output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (.json, .jsonl, .yaml, .parquet)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		input  string
		limit  int
		perSec float64
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Save every record of a dataset file to the endpoint",
		Long: `Loads records from a .json, .jsonl, .yaml/.yml or .parquet file and saves
them one at a time. A failed record is logged and skipped; the command exits
non-zero when any record failed.`,
		Example: `  # Import a whole file
  doisync import --input records.jsonl

  # Import the first 10 records only
  doisync import --input records.parquet --limit 10

  # Stay under the endpoint quota
  doisync import --input records.jsonl --rate 2`,
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

			n := notify.New(cmd.ErrOrStderr())
			progress := n.Loading(fmt.Sprintf("Importing %d records...", len(records)))

			limiter := rate.NewLimiter(rate.Inf, 1)
			if perSec > 0 {
				limiter = rate.NewLimiter(rate.Limit(perSec), 1)
			}

			ctx := cmd.Context()
			var saved, failed int
			for i, rec := range records {
				if err := limiter.Wait(ctx); err != nil {
					n.Update(progress, "Import cancelled", notify.Error)
					return err
				}
				n.Update(progress, fmt.Sprintf("Importing %d/%d", i+1, len(records)), "")

				res, err := client.Save(ctx, "", rec)
				if err != nil {
					failed++
					slog.Error("Failed to save record", "doi", models.Identifier(rec), "err", err)
					continue
				}
				saved++
				slog.Debug("Saved record", "doi", res.DOI, "strategy", res.Strategy)
			}

			if failed > 0 {
				n.Update(progress, fmt.Sprintf("Imported %d of %d records, %d failed", saved, len(records), failed), notify.Error)
				return fmt.Errorf("%d of %d records failed to import", failed, len(records))
			}
			n.Update(progress, fmt.Sprintf("Imported %d records", saved), notify.Success)
			n.Dismiss(progress)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Dataset file (.json, .jsonl, .yaml, .parquet)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Import at most this many records (0 for all)")
	cmd.Flags().Float64Var(&perSec, "rate", 0, "Maximum saves per second (0 for unlimited)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
