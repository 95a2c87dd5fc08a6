package models

import (
	"time"

	"github.com/sangwookny/wagner/internal/blocks"
)

// Language is a translation target of a page.
type Language string

const (
	Korean  Language = "korean"
	English Language = "english"
)

// Languages lists the fixed target languages in display order.
var Languages = []Language{Korean, English}

// Valid reports whether l is one of the target languages.
func (l Language) Valid() bool {
	return l == Korean || l == English
}

// Book represents a digitized book
type Book struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Author           string    `json:"author,omitempty"`
	OriginalLanguage string    `json:"original_language"`
	PageCount        int       `json:"page_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Translation is one language's text of a page together with its version.
type Translation struct {
	Text    string `json:"text"`
	Version int    `json:"version"`
}

// Sentence is an aligned source/Korean/English triple.
type Sentence struct {
	Source  string `json:"de"`
	Korean  string `json:"ko"`
	English string `json:"en"`
}

// Page represents one scanned page of a book
type Page struct {
	ID               int64                    `json:"id"`
	BookID           int64                    `json:"book_id"`
	PageNumber       int                      `json:"page_number"`
	PageType         string                   `json:"page_type"`
	SourceText       string                   `json:"german_text"`
	Translations     map[Language]Translation `json:"translations"`
	Sentences        []Sentence               `json:"sentences,omitempty"`
	Blocks           blocks.List              `json:"blocks,omitempty"`
	OriginalImageRef string                   `json:"original_image_ref,omitempty"`
	ContinuationText string                   `json:"continuation_text,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// Text returns the translation text for lang, or "" when there is none.
func (p *Page) Text(lang Language) string {
	return p.Translations[lang].Text
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	c.Translations = make(map[Language]Translation, len(p.Translations))
	for k, v := range p.Translations {
		c.Translations[k] = v
	}
	if p.Sentences != nil {
		c.Sentences = append([]Sentence(nil), p.Sentences...)
	}
	c.Blocks = p.Blocks.Clone()
	return &c
}

// DerivedImageRefs lists the images cut out of the original scan for the
// page's media blocks.
func (p *Page) DerivedImageRefs() []string {
	var refs []string
	for _, b := range p.Blocks {
		if mb, ok := b.(*blocks.MediaBlock); ok && mb.ImageRef != "" && mb.ImageRef != p.OriginalImageRef {
			refs = append(refs, mb.ImageRef)
		}
	}
	return refs
}

// HistoryEntry is one recorded version of a page translation.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	PageID    int64     `json:"page_id"`
	Language  Language  `json:"field"`
	Text      string    `json:"translation_text"`
	Version   int       `json:"version_number"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
