package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/sangwookny/wagner/internal/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wagner",
		Short: "Trilingual reader builder for scanned German books",
		Long: `Wagner turns scanned pages of German books into a trilingual
German/Korean/English reader.

Each scan is recognized and segmented by a vision model, music examples and
illustrations are cropped out, and the prose is translated sentence by
sentence. When a page opens mid-sentence you decide whether to merge it with
the previous page.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file (default "+config.DefaultPath+" if present)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newBookCmd(opts))
	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newPageCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newExportCmd(opts))

	return cmd
}

// withApp loads the config, wires the app and runs fn with it.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()
	return fn(a)
}
