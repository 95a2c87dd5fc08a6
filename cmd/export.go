package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sangwookny/wagner/internal/export"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "export <book-id>",
		Short: "Export a book as parquet, YAML, Markdown or HTML",
		Example: `  # Write parsifal.md to the current directory
  wagner export 1 --format markdown

  # Sentence table for analysis
  wagner export 1 --format parquet --output parsifal.parquet

  # YAML to stdout
  wagner export 1 --output -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			return opts.withApp(cmd, func(a *app) (err error) {
				book, err := a.registry.GetBook(cmd.Context(), id)
				if err != nil {
					return err
				}
				list, err := a.registry.Pages(cmd.Context(), id)
				if err != nil {
					return err
				}

				if output == "" {
					output = export.Filename(book, f)
				}
				var w io.Writer = cmd.OutOrStdout()
				if output != "-" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer func() {
						if cerr := file.Close(); err == nil {
							err = cerr
						}
					}()
					w = file
				}

				if err := a.exporter.Write(w, f, book, list); err != nil {
					return err
				}
				if output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d pages to %s\n", len(list), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", string(export.YAML), "Export format: parquet, yaml, markdown or html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout (default derived from the title)")

	return cmd
}
