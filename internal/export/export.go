// Package export writes a book's pages as parquet sentence tables, YAML
// documents, Markdown or HTML reader text.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"

	"github.com/gosimple/slug"
	"github.com/parquet-go/parquet-go"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/models"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Format is an export file format.
type Format string

const (
	Parquet  Format = "parquet"
	YAML     Format = "yaml"
	Markdown Format = "markdown"
	HTML     Format = "html"
)

// Formats lists the supported formats.
var Formats = []Format{Parquet, YAML, Markdown, HTML}

// ParseFormat accepts a format name or its file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "parquet":
		return Parquet, nil
	case "yaml", "yml":
		return YAML, nil
	case "markdown", "md":
		return Markdown, nil
	case "html", "htm":
		return HTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Ext returns the file extension of f, with the dot.
func (f Format) Ext() string {
	switch f {
	case YAML:
		return ".yaml"
	case Markdown:
		return ".md"
	case HTML:
		return ".html"
	default:
		return "." + string(f)
	}
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case Parquet:
		return "application/vnd.apache.parquet"
	case YAML:
		return "application/yaml"
	case Markdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/html; charset=utf-8"
	}
}

// Filename derives a file name for the export of book.
func Filename(book *models.Book, f Format) string {
	name := slug.Make(book.Title)
	if name == "" {
		name = fmt.Sprintf("book-%d", book.ID)
	}
	return name + f.Ext()
}

// Exporter renders books.
type Exporter struct {
	splitter *alignment.Splitter
	// ImageBase prefixes image refs in Markdown and HTML output.
	ImageBase string
}

// New creates an exporter. splitter may be nil.
func New(splitter *alignment.Splitter, imageBase string) *Exporter {
	return &Exporter{splitter: splitter, ImageBase: imageBase}
}

// Write renders book and its pages, ordered by page number, to w.
func (e *Exporter) Write(w io.Writer, f Format, book *models.Book, pages []*models.Page) error {
	var err error
	switch f {
	case Parquet:
		err = e.writeParquet(w, book, pages)
	case YAML:
		err = e.writeYAML(w, book, pages)
	case Markdown:
		_, err = io.WriteString(w, e.markdown(book, pages))
	case HTML:
		err = e.writeHTML(w, book, pages)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", f, err)
	}
	slog.Debug("Exported book", "book_id", book.ID, "format", f, "pages", len(pages))
	return nil
}

// SentenceRow is one aligned sentence in the parquet export.
type SentenceRow struct {
	BookID        int64  `parquet:"book_id"`
	BookTitle     string `parquet:"book_title"`
	PageNumber    int32  `parquet:"page_number"`
	SentenceIndex int32  `parquet:"sentence_index"`
	// BlockIndex is the text block the sentence is shown in, or -1.
	BlockIndex     int32  `parquet:"block_index"`
	German         string `parquet:"german"`
	Korean         string `parquet:"korean"`
	English        string `parquet:"english"`
	KoreanVersion  int32  `parquet:"korean_version"`
	EnglishVersion int32  `parquet:"english_version"`
}

// Rows flattens the sentence triples of pages.
func (e *Exporter) Rows(book *models.Book, pages []*models.Page) []SentenceRow {
	var rows []SentenceRow
	for _, p := range pages {
		blockOf := e.blockIndexes(p)
		for i, s := range p.Sentences {
			rows = append(rows, SentenceRow{
				BookID:         book.ID,
				BookTitle:      book.Title,
				PageNumber:     int32(p.PageNumber),
				SentenceIndex:  int32(i),
				BlockIndex:     int32(blockOf[i]),
				German:         s.Source,
				Korean:         s.Korean,
				English:        s.English,
				KoreanVersion:  int32(p.Translations[models.Korean].Version),
				EnglishVersion: int32(p.Translations[models.English].Version),
			})
		}
	}
	return rows
}

// blockIndexes maps each sentence of p to the text block it belongs to.
func (e *Exporter) blockIndexes(p *models.Page) []int {
	out := make([]int, len(p.Sentences))
	for i := range out {
		out[i] = -1
	}
	for _, span := range e.splitter.Spans(p.Blocks, len(p.Sentences)) {
		for i := span.Start; i < span.End && i < len(out); i++ {
			out[i] = span.Block
		}
	}
	return out
}

func (e *Exporter) writeParquet(w io.Writer, book *models.Book, pages []*models.Page) error {
	writer := parquet.NewGenericWriter[SentenceRow](w)
	if _, err := writer.Write(e.Rows(book, pages)); err != nil {
		return err
	}
	return writer.Close()
}

// Document is the YAML export of a book.
type Document struct {
	Book  BookDoc   `yaml:"book"`
	Pages []PageDoc `yaml:"pages"`
}

type BookDoc struct {
	ID               int64  `yaml:"id"`
	Title            string `yaml:"title"`
	Author           string `yaml:"author,omitempty"`
	OriginalLanguage string `yaml:"original_language"`
	PageCount        int    `yaml:"page_count"`
	CreatedAt        string `yaml:"created_at"`
}

type PageDoc struct {
	Number           int           `yaml:"number"`
	PageType         string        `yaml:"page_type"`
	German           string        `yaml:"german"`
	Korean           string        `yaml:"korean"`
	English          string        `yaml:"english"`
	KoreanVersion    int           `yaml:"korean_version"`
	EnglishVersion   int           `yaml:"english_version"`
	ContinuationText string        `yaml:"continuation_text,omitempty"`
	OriginalImage    string        `yaml:"original_image,omitempty"`
	Sentences        []SentenceDoc `yaml:"sentences,omitempty"`
	Blocks           []BlockDoc    `yaml:"blocks,omitempty"`
}

type SentenceDoc struct {
	German  string `yaml:"de"`
	Korean  string `yaml:"ko"`
	English string `yaml:"en"`
}

type BlockDoc struct {
	Type        string  `yaml:"type"`
	Content     string  `yaml:"content,omitempty"`
	ImageRef    string  `yaml:"image_ref,omitempty"`
	Description string  `yaml:"description,omitempty"`
	CropTop     float64 `yaml:"crop_top,omitempty"`
	CropBottom  float64 `yaml:"crop_bottom,omitempty"`
}

// Document builds the YAML document of a book.
func (e *Exporter) Document(book *models.Book, pages []*models.Page) Document {
	doc := Document{
		Book: BookDoc{
			ID:               book.ID,
			Title:            book.Title,
			Author:           book.Author,
			OriginalLanguage: book.OriginalLanguage,
			PageCount:        len(pages),
			CreatedAt:        book.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
		Pages: make([]PageDoc, 0, len(pages)),
	}
	for _, p := range pages {
		pd := PageDoc{
			Number:           p.PageNumber,
			PageType:         p.PageType,
			German:           p.SourceText,
			Korean:           p.Text(models.Korean),
			English:          p.Text(models.English),
			KoreanVersion:    p.Translations[models.Korean].Version,
			EnglishVersion:   p.Translations[models.English].Version,
			ContinuationText: p.ContinuationText,
			OriginalImage:    p.OriginalImageRef,
		}
		for _, s := range p.Sentences {
			pd.Sentences = append(pd.Sentences, SentenceDoc{German: s.Source, Korean: s.Korean, English: s.English})
		}
		for _, b := range p.Blocks {
			switch b := b.(type) {
			case *blocks.TextBlock:
				pd.Blocks = append(pd.Blocks, BlockDoc{Type: string(blocks.KindText), Content: b.Content})
			case *blocks.MediaBlock:
				pd.Blocks = append(pd.Blocks, BlockDoc{
					Type:        string(b.Type),
					ImageRef:    b.ImageRef,
					Description: b.Description,
					CropTop:     b.Crop.Top,
					CropBottom:  b.Crop.Bottom,
				})
			}
		}
		doc.Pages = append(doc.Pages, pd)
	}
	return doc
}

func (e *Exporter) writeYAML(w io.Writer, book *models.Book, pages []*models.Page) error {
	doc := e.Document(book, pages)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

// markdown renders the reader text: every text block followed by its
// sentences, every media block as an image.
func (e *Exporter) markdown(book *models.Book, pages []*models.Page) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", escape(book.Title))
	if book.Author != "" {
		fmt.Fprintf(&sb, "*%s*\n\n", escape(book.Author))
	}

	for _, p := range pages {
		fmt.Fprintf(&sb, "## %d\n\n", p.PageNumber)
		if p.ContinuationText != "" {
			fmt.Fprintf(&sb, "> %s\n\n", escape(p.ContinuationText))
		}

		spans := e.splitter.Spans(p.Blocks, len(p.Sentences))
		if len(spans) == 0 {
			e.writeSentences(&sb, p, 0, len(p.Sentences))
		}
		next := 0
		for i, b := range p.Blocks {
			switch b := b.(type) {
			case *blocks.TextBlock:
				if next < len(spans) && spans[next].Block == i {
					e.writeSentences(&sb, p, spans[next].Start, spans[next].End)
					next++
				}
			case *blocks.MediaBlock:
				if b.ImageRef != "" {
					fmt.Fprintf(&sb, "![%s](%s%s)\n\n", escape(b.Description), e.ImageBase, b.ImageRef)
				} else if b.Description != "" {
					fmt.Fprintf(&sb, "*%s*\n\n", escape(b.Description))
				}
			}
		}
	}
	return sb.String()
}

// writeSentences writes the triples [start, end) of p, or the page texts
// when the page has no triples.
func (e *Exporter) writeSentences(sb *strings.Builder, p *models.Page, start, end int) {
	if len(p.Sentences) == 0 {
		for _, text := range []string{p.Text(models.Korean), p.Text(models.English)} {
			if strings.TrimSpace(text) != "" {
				fmt.Fprintf(sb, "%s\n\n", escape(text))
			}
		}
		return
	}
	for _, s := range p.Sentences[start:end] {
		fmt.Fprintf(sb, "%s  \n*%s*  \n%s\n\n", escape(s.Korean), escape(s.English), escape(s.Source))
	}
}

func (e *Exporter) writeHTML(w io.Writer, book *models.Book, pages []*models.Page) error {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(e.markdown(book, pages)), &body); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html lang=\"ko\">\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(book.Title), body.String())
	return err
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`, `[`, `\[`, `]`, `\]`, `<`, `\<`, `>`, `\>`, `#`, `\#`,
)

func escape(s string) string {
	return markdownEscaper.Replace(strings.TrimSpace(s))
}
