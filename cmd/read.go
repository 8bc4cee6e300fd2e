package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/lehigh-university-libraries/doisync/internal/dataset"
	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every record stored by the endpoint",
		Example: `  # Print the collection as JSON
  doisync list --endpoint https://script.google.com/macros/s/.../exec

  # Print the collection as YAML
  doisync list --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			coll, err := client.FetchAll(cmd.Context())
			if err != nil {
				return err
			}
			return writeCollection(cmd.OutOrStdout(), coll, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format (json or yaml)")

	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <doi>",
		Short: "Print one record (null when the endpoint has none)",
		Example: `  doisync get 10.1145/3292500.3330701`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			rec, err := client.FetchByKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func writeCollection(w io.Writer, coll models.Collection, format string) error {
	switch format {
	case "json":
		return writeJSON(w, coll)
	case "yaml", "yml":
		data, err := dataset.MarshalYAML(coll)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format %q (expected json or yaml)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}
