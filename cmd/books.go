package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBookCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "book",
		Aliases: []string{"books"},
		Short:   "Create, list and delete books",
	}

	var author string
	create := &cobra.Command{
		Use:     "create <title>",
		Short:   "Create an empty book",
		Example: `  wagner book create "Parsifal" --author "Richard Wagner"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				book, err := a.registry.CreateBook(cmd.Context(), args[0], author)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created book %d: %s\n", book.ID, book.Title)
				return nil
			})
		},
	}
	create.Flags().StringVar(&author, "author", "", "Book author")

	list := &cobra.Command{
		Use:   "list",
		Short: "List books, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				books, err := a.registry.ListBooks(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tPAGES\tCREATED")
				for _, b := range books {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", b.ID, b.Title, b.Author, b.PageCount, b.CreatedAt.Format("2006-01-02"))
				}
				return tw.Flush()
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <book-id>",
		Short: "List the pages of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				book, err := a.registry.GetBook(cmd.Context(), id)
				if err != nil {
					return err
				}
				list, err := a.registry.Pages(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%d pages)\n", book.Title, book.PageCount)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PAGE\tID\tTYPE\tBLOCKS\tGERMAN")
				for _, p := range list {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\n", p.PageNumber, p.ID, p.PageType, len(p.Blocks), preview(p.SourceText, 60))
				}
				return tw.Flush()
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book with its pages and derived images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app) error {
				if err := a.registry.DeleteBook(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted book %d\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, show, deleteCmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// preview returns the first line of s cut to n runes.
func preview(s string, n int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n]) + "…"
	}
	return s
}
