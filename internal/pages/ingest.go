package pages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/ocr"
	"github.com/sangwookny/wagner/internal/providers"
	"github.com/sangwookny/wagner/internal/translation"
)

// Recognizer is the external OCR+segment collaborator.
type Recognizer interface {
	Extract(ctx context.Context, img providers.Image) (*ocr.Result, error)
}

// Scan is a stored page scan.
type Scan struct {
	Ref      string
	MIMEType string
	Data     []byte
}

// Prepared is the outcome of Prepare: either a committed Page or a Pending
// page waiting for a continuation decision.
type Prepared struct {
	Page    *models.Page `json:"page,omitempty"`
	Pending *Pending     `json:"pending,omitempty"`
	// Warning reports a truncated sentence alignment.
	Warning string `json:"warning,omitempty"`
}

// Ingestor turns scans into pages with a two-phase commit: pages whose
// opening may continue the previous page wait for an explicit decision.
type Ingestor struct {
	manager    *Manager
	recognizer Recognizer
	resolver   *continuation.Resolver
	pending    *PendingStore
}

func NewIngestor(manager *Manager, recognizer Recognizer, resolver *continuation.Resolver, pending *PendingStore) *Ingestor {
	return &Ingestor{
		manager:    manager,
		recognizer: recognizer,
		resolver:   resolver,
		pending:    pending,
	}
}

// Pending returns the pending pages of a book.
func (in *Ingestor) Pending(bookID int64) []*Pending {
	return in.pending.ForBook(bookID)
}

// Prepare recognizes, segments, crops and translates a scan. The page is
// committed at once unless an actionable continuation proposal needs a
// decision, in which case it is parked and nothing is persisted. On any
// failure no state changes.
func (in *Ingestor) Prepare(ctx context.Context, bookID int64, scan Scan) (*Prepared, error) {
	var out *Prepared
	err := in.manager.WithBook(ctx, bookID, func(ctx context.Context) error {
		var err error
		out, err = in.prepareLocked(ctx, bookID, scan)
		return err
	})
	return out, err
}

func (in *Ingestor) prepareLocked(ctx context.Context, bookID int64, scan Scan) (*Prepared, error) {
	store := in.manager.store
	if _, err := store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	previous, err := store.LastPage(ctx, bookID)
	if err != nil {
		return nil, err
	}

	recognized, err := in.recognizer.Extract(ctx, providers.Image{MIMEType: scan.MIMEType, Data: scan.Data})
	if err != nil {
		return nil, err
	}
	list, err := blocks.FromRegions(recognized.Blocks, recognized.PageHeight)
	if err != nil {
		return nil, providers.Fail("ocr", "", err)
	}

	page := &models.Page{
		BookID:           bookID,
		PageType:         recognized.PageType,
		SourceText:       recognized.SourceText,
		Blocks:           list,
		OriginalImageRef: scan.Ref,
	}
	if err := in.cropMedia(ctx, page); err != nil {
		return nil, err
	}

	var proposal *continuation.Proposal
	var previousID int64
	if previous != nil {
		previousID = previous.ID
	}
	warning := ""
	if strings.TrimSpace(page.SourceText) != "" {
		req := translation.Request{Text: page.SourceText}
		if previous != nil {
			req.PreviousGerman = continuation.Tail(previous.SourceText, PreviousGermanRunes)
			req.PreviousKorean = continuation.Tail(previous.Text(models.Korean), PreviousKoreanRunes)
		}
		translated, err := in.manager.translator.Translate(ctx, req)
		if err != nil {
			in.manager.removeDerived(page)
			return nil, err
		}
		page.Translations = map[models.Language]models.Translation{
			models.Korean:  {Text: translated.Korean, Version: 1},
			models.English: {Text: translated.English, Version: 1},
		}
		warning = translated.Warning
		page.Sentences, err = alignment.Repair(translated.Sentences)
		if err != nil {
			warning = err.Error()
		}

		if previous != nil {
			proposal, err = in.resolver.Propose(ctx, previous.Text(models.Korean), translated.Korean, translated.Continuation)
			if err != nil {
				in.manager.removeDerived(page)
				return nil, asCollaborator("continuation", err)
			}
		}
	}

	if proposal == nil {
		committed, err := in.manager.appendLocked(ctx, bookID, page)
		if err != nil {
			in.manager.removeDerived(page)
			return nil, err
		}
		return &Prepared{Page: committed, Warning: warning}, nil
	}

	p := &Pending{
		BookID:         bookID,
		Page:           page,
		Proposal:       proposal,
		PreviousPageID: previousID,
	}
	for _, expired := range in.pending.Add(p) {
		slog.Info("Discarding expired pending page", "pending_id", expired.ID, "book_id", expired.BookID)
		in.manager.removeDerived(expired.Page)
	}
	slog.Info("Page awaits continuation decision", "book_id", bookID, "pending_id", p.ID, "confidence", proposal.Confidence)
	return &Prepared{Pending: p, Warning: warning}, nil
}

// cropMedia derives an image for every media block that has none.
func (in *Ingestor) cropMedia(ctx context.Context, page *models.Page) error {
	if page.OriginalImageRef == "" {
		return nil
	}
	for _, b := range page.Blocks {
		mb, ok := b.(*blocks.MediaBlock)
		if !ok || mb.ImageRef != "" {
			continue
		}
		ref, err := in.manager.cropper.Crop(ctx, page.OriginalImageRef, mb.Crop)
		if err != nil {
			in.manager.removeDerived(page)
			return asCollaborator("crop", err)
		}
		mb.ImageRef = ref
	}
	return nil
}

// Resolve commits a pending page with decision d and discards the
// proposal. If the book's last page changed since the proposal was made,
// the pending page is discarded and ErrStaleProposal is returned.
func (in *Ingestor) Resolve(ctx context.Context, pendingID string, d continuation.Decision) (*models.Page, error) {
	d, err := continuation.ParseDecision(string(d))
	if err != nil {
		return nil, err
	}
	p, ok := in.pending.Get(pendingID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, pendingID)
	}

	var out *models.Page
	err = in.manager.WithBook(ctx, p.BookID, func(ctx context.Context) error {
		p, ok := in.pending.Take(pendingID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPendingNotFound, pendingID)
		}

		last, err := in.manager.store.LastPage(ctx, p.BookID)
		if err != nil {
			in.manager.removeDerived(p.Page)
			return err
		}
		var lastID int64
		if last != nil {
			lastID = last.ID
		}
		if lastID != p.PreviousPageID {
			in.manager.removeDerived(p.Page)
			return fmt.Errorf("%w: book %d changed since the proposal", ErrStaleProposal, p.BookID)
		}

		outcome, err := continuation.Resolve(p.Proposal, d)
		if err != nil {
			return err
		}
		page := p.Page.Clone()
		page.ContinuationText = outcome.ContinuationText
		out, err = in.manager.appendLocked(ctx, p.BookID, page)
		if err != nil {
			in.manager.removeDerived(p.Page)
			return err
		}
		slog.Info("Resolved continuation", "book_id", p.BookID, "page_id", out.ID, "decision", d)
		return nil
	})
	return out, err
}
