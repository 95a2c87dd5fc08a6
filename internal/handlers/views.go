package handlers

import (
	"time"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/pages"
)

// pageView is the wire form of a page, with the translation texts flattened
// into the *_text fields.
type pageView struct {
	ID               int64             `json:"id"`
	BookID           int64             `json:"book_id"`
	PageNumber       int               `json:"page_number"`
	PageType         string            `json:"page_type"`
	GermanText       string            `json:"german_text"`
	KoreanText       string            `json:"korean_text"`
	EnglishText      string            `json:"english_text"`
	KoreanVersion    int               `json:"korean_version"`
	EnglishVersion   int               `json:"english_version"`
	Sentences        []models.Sentence `json:"sentences"`
	Blocks           blocks.List       `json:"blocks"`
	OriginalImageRef string            `json:"original_image_ref,omitempty"`
	ContinuationText string            `json:"continuation_text,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

func viewPage(p *models.Page) pageView {
	v := pageView{
		ID:               p.ID,
		BookID:           p.BookID,
		PageNumber:       p.PageNumber,
		PageType:         p.PageType,
		GermanText:       p.SourceText,
		KoreanText:       p.Text(models.Korean),
		EnglishText:      p.Text(models.English),
		KoreanVersion:    p.Translations[models.Korean].Version,
		EnglishVersion:   p.Translations[models.English].Version,
		Sentences:        p.Sentences,
		Blocks:           p.Blocks,
		OriginalImageRef: p.OriginalImageRef,
		ContinuationText: p.ContinuationText,
		CreatedAt:        p.CreatedAt,
	}
	if v.Sentences == nil {
		v.Sentences = []models.Sentence{}
	}
	if v.Blocks == nil {
		v.Blocks = blocks.List{}
	}
	return v
}

func viewPages(list []*models.Page) []pageView {
	out := make([]pageView, len(list))
	for i, p := range list {
		out[i] = viewPage(p)
	}
	return out
}

// pageRequest is the body of a page append.
type pageRequest struct {
	PageType         string            `json:"page_type"`
	GermanText       string            `json:"german_text"`
	KoreanText       string            `json:"korean_text"`
	EnglishText      string            `json:"english_text"`
	Sentences        []models.Sentence `json:"sentences"`
	Blocks           blocks.List       `json:"blocks"`
	OriginalImageRef string            `json:"original_image_ref"`
}

func (req pageRequest) page() *models.Page {
	return &models.Page{
		PageType:   req.PageType,
		SourceText: req.GermanText,
		Translations: map[models.Language]models.Translation{
			models.Korean:  {Text: req.KoreanText},
			models.English: {Text: req.EnglishText},
		},
		Sentences:        req.Sentences,
		Blocks:           req.Blocks,
		OriginalImageRef: req.OriginalImageRef,
	}
}

// pendingView is a page waiting for a continuation decision.
type pendingView struct {
	ID             string    `json:"pending_id"`
	BookID         int64     `json:"book_id"`
	PreviousPageID int64     `json:"previous_page_id"`
	IsContinuation bool      `json:"is_continuation"`
	Confidence     float64   `json:"confidence"`
	MergedText     string    `json:"merged_text"`
	Page           pageView  `json:"page"`
	CreatedAt      time.Time `json:"created_at"`
}

func viewPending(p *pages.Pending) pendingView {
	return pendingView{
		ID:             p.ID,
		BookID:         p.BookID,
		PreviousPageID: p.PreviousPageID,
		IsContinuation: p.Proposal.IsContinuation,
		Confidence:     p.Proposal.Confidence,
		MergedText:     p.Proposal.MergedText,
		Page:           viewPage(p.Page),
		CreatedAt:      p.CreatedAt,
	}
}
