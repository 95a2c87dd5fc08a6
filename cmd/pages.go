package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/pages"
)

func newPageCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "page",
		Aliases: []string{"pages"},
		Short:   "Inspect and correct individual pages",
	}

	// pageRun parses the page id argument and runs fn inside the app.
	pageRun := func(fn func(cmd *cobra.Command, a *app, id int64, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				return fn(cmd, a, id, args[1:])
			})
		}
	}

	show := &cobra.Command{
		Use:   "show <page-id>",
		Short: "Print a page with its sentence triples",
		Args:  cobra.ExactArgs(1),
		RunE: pageRun(func(cmd *cobra.Command, a *app, id int64, _ []string) error {
			p, err := a.manager.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			printPage(cmd, p)
			return nil
		}),
	}

	var fromFile string
	edit := &cobra.Command{
		Use:   "edit <page-id> <german|korean|english> [text]",
		Short: "Replace one text of a page",
		Long: `Replaces the German source text or a translation verbatim. The text is
taken from the argument or, with --file, from a file ("-" for stdin).
Translation versions do not change on manual edits.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: pageRun(func(cmd *cobra.Command, a *app, id int64, args []string) error {
			field, err := pages.ParseField(args[0])
			if err != nil {
				return err
			}
			var text string
			switch {
			case fromFile == "-":
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(b)
			case fromFile != "":
				b, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				text = string(b)
			case len(args) == 2:
				text = args[1]
			default:
				return fmt.Errorf("text argument or --file is required")
			}
			p, err := a.manager.EditField(cmd.Context(), id, field, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s of page %d\n", field, p.PageNumber)
			return nil
		}),
	}
	edit.Flags().StringVarP(&fromFile, "file", "f", "", "Read the text from a file, - for stdin")

	retranslate := &cobra.Command{
		Use:   "retranslate <page-id> [korean|english|all]",
		Short: "Translate a page again",
		Args:  cobra.RangeArgs(1, 2),
		RunE: pageRun(func(cmd *cobra.Command, a *app, id int64, args []string) error {
			target := "all"
			if len(args) > 0 {
				target = args[0]
			}
			langs, err := pages.ParseTarget(target)
			if err != nil {
				return err
			}
			p, err := a.manager.Retranslate(cmd.Context(), id, langs)
			if err != nil {
				return err
			}
			for _, lang := range langs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s now at version %d\n", lang, p.Translations[lang].Version)
			}
			return nil
		}),
	}

	recrop := &cobra.Command{
		Use:     "recrop <page-id> <block-index> <top> <bottom>",
		Short:   "Change the crop window of a media block",
		Example: `  # Crop block 1 of page 7 to 35%-80% of the page height
  wagner page recrop 7 1 35 80`,
		Args: cobra.ExactArgs(4),
		RunE: pageRun(func(cmd *cobra.Command, a *app, id int64, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid block index %q", args[0])
			}
			top, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid top %q", args[1])
			}
			bottom, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid bottom %q", args[2])
			}
			p, err := a.manager.Recrop(cmd.Context(), id, index, blocks.Crop{Top: top, Bottom: bottom})
			if err != nil {
				return err
			}
			mb := p.Blocks[index].(*blocks.MediaBlock)
			fmt.Fprintf(cmd.OutOrStdout(), "Cropped block %d to %s\n", index, mb.ImageRef)
			return nil
		}),
	}

	move := &cobra.Command{
		Use:   "move <page-id> <up|down>",
		Short: "Swap a page with its neighbour",
		Args:  cobra.ExactArgs(2),
		RunE: pageRun(func(cmd *cobra.Command, a *app, id int64, args []string) error {
			d, err := pages.ParseDirection(args[0])
			if err != nil {
				return err
			}
			moved, err := a.manager.Move(cmd.Context(), id, d)
			if err != nil {
				return err
			}
			if !moved {
				fmt.Fprintln(cmd.OutOrStdout(), "Page is already at the edge, nothing moved")
				return nil
			}
			p, err := a.manager.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Page %d is now page %d\n", id, p.PageNumber)
			return nil
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <page-id>",
		Short: "Delete a page and renumber the rest",
		Args:  cobra.ExactArgs(1),
		RunE: pageRun(func(cmd *cobra.Command, a *app, id int64, _ []string) error {
			if err := a.manager.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted page %d\n", id)
			return nil
		}),
	}

	cmd.AddCommand(show, edit, retranslate, recrop, move, deleteCmd, newHistoryCmd(opts))
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <page-id>",
		Short: "List the translation versions of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				versions, err := a.manager.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LANG\tVERSION\tACTIVE\tSIMILARITY\tCREATED\tTEXT")
				for _, v := range versions {
					similarity := "-"
					if v.Similarity != nil {
						similarity = fmt.Sprintf("%.2f", *v.Similarity)
					}
					fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\t%s\n", v.Language, v.Version, v.Active, similarity,
						v.CreatedAt.Format("2006-01-02 15:04"), preview(v.Text, 40))
				}
				return tw.Flush()
			})
		},
	}
}

func printPage(cmd *cobra.Command, p *models.Page) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Page %d (id %d, %s)\n", p.PageNumber, p.ID, p.PageType)
	if p.ContinuationText != "" {
		fmt.Fprintf(out, "Continues: %s\n", p.ContinuationText)
	}
	for i, b := range p.Blocks {
		if mb, ok := b.(*blocks.MediaBlock); ok {
			fmt.Fprintf(out, "  [%d] %s %.0f-%.0f%% %s\n", i, mb.Kind(), mb.Crop.Top, mb.Crop.Bottom, mb.ImageRef)
		} else {
			fmt.Fprintf(out, "  [%d] %s\n", i, b.Kind())
		}
	}
	for i, s := range p.Sentences {
		fmt.Fprintf(out, "\n%d. %s\n   %s\n   %s\n", i+1, s.Source, s.Korean, s.English)
	}
	if len(p.Sentences) == 0 {
		fmt.Fprintf(out, "\n%s\n\n%s\n\n%s\n", p.SourceText, p.Text(models.Korean), p.Text(models.English))
	}
}
