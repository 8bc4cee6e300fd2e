package cmd

import (
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/doisync/internal/catalog"
	"github.com/lehigh-university-libraries/doisync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries configuration shared by every subcommand.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func NewRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:   "doisync",
		Short: "Sync DOI-keyed bibliographic records with a script-backed endpoint",
		Long: `doisync reads and writes bibliographic records, keyed by DOI, against a
remote script endpoint whose accepted request encoding is not known in advance.

Saves try a form POST, then a JSON POST, then a GET with the record in the
query string (split into chunks when long), stopping at the first success.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			config.LoadDotEnv()
			a.cfg = config.Load(a.v)
			setupLogging(a.cfg.Verbose)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("endpoint", "", "Record endpoint URL (env DOISYNC_ENDPOINT)")
	flags.BoolP("verbose", "v", false, "Verbose logging, including every request attempt")
	flags.Bool("strict", false, "Fail when a save response is not valid JSON instead of assuming success")
	_ = a.v.BindPFlag("endpoint", flags.Lookup("endpoint"))
	_ = a.v.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = a.v.BindPFlag("strict", flags.Lookup("strict"))

	// Add subcommands
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newGetCmd(a))
	cmd.AddCommand(newSaveCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newVerifyCmd(a))
	cmd.AddCommand(newServeCmd(a))

	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// client builds a catalog client from the resolved configuration.
func (a *app) client() (*catalog.Client, error) {
	endpoint, err := a.cfg.RequireEndpoint()
	if err != nil {
		return nil, err
	}

	var opts []catalog.Option
	if a.cfg.Verbose {
		opts = append(opts, catalog.WithObserver(catalog.LogObserver(slog.Default())))
	}
	if a.cfg.Strict {
		opts = append(opts, catalog.WithStrictResponses())
	}
	return catalog.NewClient(endpoint, opts...)
}
