package cmd

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/doisync/internal/notify"
	"github.com/spf13/cobra"
)

func newSaveCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "save [doi]",
		Short: "Save one record to the endpoint",
		Long: `Reads a JSON record from a file (or stdin) and saves it to the endpoint.

The DOI argument overrides the record's own DOI field. Only the known
record fields are sent; anything else in the document is dropped.`,
		Example: `  # Save a record, using the DOI inside the document
  doisync save --file record.json

  # Save from stdin under an explicit DOI
  cat record.json | doisync save 10.1000/xyz123`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
				slog.Warn("Record is not a JSON object, only the identifier will be saved", "file", file)
			}

			var doi string
			if len(args) > 0 {
				doi = args[0]
			}

			n := notify.New(cmd.ErrOrStderr())
			id := n.Loading("Saving record...")
			res, err := client.SaveJSON(cmd.Context(), doi, data)
			if err != nil {
				n.Update(id, "Save failed: "+err.Error(), notify.Error)
				return err
			}
			n.Update(id, fmt.Sprintf("Saved %s via %s", res.DOI, res.Strategy), notify.Success)
			n.Dismiss(id)

			if res.Substituted {
				slog.Debug("Endpoint response was not JSON, assumed success", "doi", res.DOI)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(res.Response))
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Record JSON file, or - for stdin")

	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	return data, nil
}
