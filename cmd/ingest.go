package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/spf13/cobra"

	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/pages"
)

var scanExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".tif": true, ".tiff": true, ".bmp": true}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var decision string

	cmd := &cobra.Command{
		Use:   "ingest <book-id> <scan|dir|url>...",
		Short: "Append page scans to a book",
		Long: `Recognizes, segments, crops and translates page scans and appends them to
a book in order. Directories are expanded to their image files in natural
order (page2.png before page10.png).

When a page seems to continue the sentence the previous page broke off, the
merge is proposed and you are asked to merge or keep the pages separate.`,
		Example: `  # Ingest a directory of scans, asking about continuations
  wagner ingest 1 ./scans/parsifal

  # Ingest two scans, always merging continuations
  wagner ingest 1 p1.png p2.png --decision merge

  # Ingest a scan by URL
  wagner ingest 1 https://example.org/scans/p3.jpg`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if decision != "ask" {
				if _, err := continuation.ParseDecision(decision); err != nil {
					return err
				}
			}
			sources, err := expandSources(args[1:])
			if err != nil {
				return err
			}

			return opts.withApp(cmd, func(a *app) error {
				in := bufio.NewReader(cmd.InOrStdin())
				for _, src := range sources {
					if err := ingestOne(cmd, a, in, bookID, src, decision); err != nil {
						return fmt.Errorf("%s: %w", src, err)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&decision, "decision", "ask", "Continuation decision: ask, merge or separate")

	return cmd
}

func ingestOne(cmd *cobra.Command, a *app, in *bufio.Reader, bookID int64, src, decision string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var data []byte
	var err error
	if isURL(src) {
		data, err = a.images.Fetch(ctx, src)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return err
	}
	ref, mimeType, err := a.images.Save(data)
	if err != nil {
		return err
	}

	prepared, err := a.ingestor.Prepare(ctx, bookID, pages.Scan{Ref: ref, MIMEType: mimeType, Data: data})
	if err != nil {
		return err
	}
	if prepared.Warning != "" {
		fmt.Fprintf(out, "warning: %s\n", prepared.Warning)
	}
	page := prepared.Page
	if p := prepared.Pending; p != nil {
		d := continuation.Decision(decision)
		if decision == "ask" {
			if d, err = askDecision(out, in, p); err != nil {
				return err
			}
		}
		if page, err = a.ingestor.Resolve(ctx, p.ID, d); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Page %d (%s, %d blocks): %s\n", page.PageNumber, page.PageType, len(page.Blocks), preview(page.SourceText, 50))
	return nil
}

func askDecision(out io.Writer, in *bufio.Reader, p *pages.Pending) (continuation.Decision, error) {
	fmt.Fprintf(out, "\nThis page may continue the previous one (confidence %.2f).\n", p.Proposal.Confidence)
	if p.Proposal.MergedText != "" {
		fmt.Fprintf(out, "Merged sentence: %s\n", p.Proposal.MergedText)
	}
	for {
		fmt.Fprint(out, "Merge or keep separate? [m/s]: ")
		line, err := in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "m", "merge":
			return continuation.Merge, nil
		case "s", "separate":
			return continuation.Separate, nil
		}
		if err != nil {
			return "", fmt.Errorf("no continuation decision: %w", err)
		}
	}
}

// expandSources replaces directories by their scans in natural order.
func expandSources(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if isURL(arg) {
			out = append(out, arg)
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && scanExts[strings.ToLower(filepath.Ext(e.Name()))] {
				names = append(names, e.Name())
			}
		}
		sort.Sort(natural.StringSlice(names))
		for _, n := range names {
			out = append(out, filepath.Join(arg, n))
		}
	}
	return out, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
