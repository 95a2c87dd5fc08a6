package pages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/ocr"
	"github.com/sangwookny/wagner/internal/providers"
	"github.com/sangwookny/wagner/internal/storage"
)

type fakeRecognizer struct {
	result *ocr.Result
	err    error
}

func (f *fakeRecognizer) Extract(context.Context, providers.Image) (*ocr.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Blocks = append([]blocks.Region(nil), f.result.Blocks...)
	return &r, nil
}

func scoreResult() *ocr.Result {
	return &ocr.Result{
		Success:    true,
		SourceText: "zu Ende.",
		PageType:   "mixed",
		PageHeight: 1000,
		Blocks: []blocks.Region{
			{Type: blocks.KindMusicScore, Description: "Glockenmotiv", BBox: &blocks.BoundingBox{Top: 500, Bottom: 900}},
			{Type: blocks.KindText, Content: "zu Ende.", BBox: &blocks.BoundingBox{Top: 100, Bottom: 400}},
		},
	}
}

func newIngestor(f *fixture, rec *fakeRecognizer) *Ingestor {
	return NewIngestor(f.manager, rec, continuation.NewResolver(nil, nil), NewPendingStore(0))
}

func TestPrepareFirstPageCommits(t *testing.T) {
	f := newFixture(t)
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})

	got, err := in.Prepare(context.Background(), f.book.ID, Scan{Ref: "scan_a.png", MIMEType: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got.Pending != nil || got.Page == nil {
		t.Fatalf("Expected a committed page, got %+v", got)
	}
	p := got.Page
	if p.PageNumber != 1 || p.PageType != "mixed" || p.OriginalImageRef != "scan_a.png" {
		t.Errorf("Unexpected page: %+v", p)
	}
	if len(p.Blocks) != 2 || p.Blocks[0].Kind() != blocks.KindText {
		t.Fatalf("Expected blocks in reading order, got %+v", p.Blocks)
	}
	mb := p.Blocks[1].(*blocks.MediaBlock)
	if mb.Crop.Top != 50 || mb.Crop.Bottom != 90 || mb.ImageRef != "crop_1_50_90.png" {
		t.Errorf("Expected crop from the bounding box, got %+v", mb)
	}
	if p.Translations[models.Korean].Version != 1 || p.Text(models.Korean) != "새 번역." {
		t.Errorf("Unexpected translations: %+v", p.Translations)
	}
	if req := f.translator.requests[0]; req.PreviousKorean != "" || req.PreviousGerman != "" {
		t.Errorf("Expected no previous context for the first page, got %+v", req)
	}
}

func TestPrepareBelowThresholdCommits(t *testing.T) {
	f := newFixture(t)
	f.appendPage(t, "Eins.")
	f.translator.result.Continuation = &continuation.Proposal{IsContinuation: true, Confidence: 0.5, MergedText: "x"}
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})

	got, err := in.Prepare(context.Background(), f.book.ID, Scan{Ref: "scan_b.png"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got.Page == nil || got.Page.PageNumber != 2 || got.Pending != nil {
		t.Errorf("Expected standalone commit as page 2, got %+v", got)
	}
	if got.Page.ContinuationText != "" {
		t.Errorf("Expected no continuation text, got %q", got.Page.ContinuationText)
	}
	req := f.translator.requests[0]
	if req.PreviousGerman != "Eins." || req.PreviousKorean != "ko Eins." {
		t.Errorf("Expected previous page context, got %+v", req)
	}
}

func TestPrepareActionableWaitsForDecision(t *testing.T) {
	tests := []struct {
		name     string
		decision continuation.Decision
		want     string
	}{
		{name: "merge", decision: continuation.Merge, want: "그는 천천히 걸어갔다."},
		{name: "separate", decision: continuation.Separate, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			prev := f.appendPage(t, "Eins.")
			f.translator.result.Continuation = &continuation.Proposal{IsContinuation: true, Confidence: 0.9, MergedText: "그는 천천히 걸어갔다."}
			in := newIngestor(f, &fakeRecognizer{result: scoreResult()})
			ctx := context.Background()

			got, err := in.Prepare(ctx, f.book.ID, Scan{Ref: "scan_b.png"})
			if err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}
			if got.Pending == nil || got.Page != nil {
				t.Fatalf("Expected a pending page, got %+v", got)
			}
			if got.Pending.Proposal.Confidence != 0.9 || got.Pending.PreviousPageID != prev.ID {
				t.Errorf("Unexpected pending: %+v", got.Pending)
			}
			if book, _ := f.store.GetBook(ctx, f.book.ID); book.PageCount != 1 {
				t.Errorf("Expected nothing persisted before the decision, got %d pages", book.PageCount)
			}
			if len(in.Pending(f.book.ID)) != 1 {
				t.Error("Expected the page listed as pending")
			}

			page, err := in.Resolve(ctx, got.Pending.ID, tt.decision)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if page.PageNumber != 2 || page.ContinuationText != tt.want {
				t.Errorf("Expected page 2 with continuation %q, got %d %q", tt.want, page.PageNumber, page.ContinuationText)
			}

			stored, _ := f.store.GetPage(ctx, prev.ID)
			if stored.Text(models.Korean) != "ko Eins." {
				t.Errorf("Expected the previous page untouched, got %q", stored.Text(models.Korean))
			}
			if _, err := in.Resolve(ctx, got.Pending.ID, tt.decision); !errors.Is(err, ErrPendingNotFound) {
				t.Errorf("Expected the proposal discarded, got %v", err)
			}
		})
	}
}

func TestResolveInvalidDecisionKeepsPending(t *testing.T) {
	f := newFixture(t)
	f.appendPage(t, "Eins.")
	f.translator.result.Continuation = &continuation.Proposal{IsContinuation: true, Confidence: 0.9}
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})
	ctx := context.Background()

	got, err := in.Prepare(ctx, f.book.ID, Scan{})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := in.Resolve(ctx, got.Pending.ID, "maybe"); !errors.Is(err, continuation.ErrInvalidDecision) {
		t.Errorf("Expected ErrInvalidDecision, got %v", err)
	}
	if _, ok := in.pending.Get(got.Pending.ID); !ok {
		t.Error("Expected the pending page to survive an invalid decision")
	}
}

func TestResolveStaleProposal(t *testing.T) {
	f := newFixture(t)
	f.appendPage(t, "Eins.")
	f.translator.result.Continuation = &continuation.Proposal{IsContinuation: true, Confidence: 0.95}
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})
	ctx := context.Background()

	got, err := in.Prepare(ctx, f.book.ID, Scan{Ref: "scan_b.png"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	f.appendPage(t, "Dazwischen.")

	if _, err := in.Resolve(ctx, got.Pending.ID, continuation.Merge); !errors.Is(err, ErrStaleProposal) {
		t.Fatalf("Expected ErrStaleProposal, got %v", err)
	}
	if _, ok := in.pending.Get(got.Pending.ID); ok {
		t.Error("Expected the stale pending page discarded")
	}
	if book, _ := f.store.GetBook(ctx, f.book.ID); book.PageCount != 2 {
		t.Errorf("Expected 2 pages, got %d", book.PageCount)
	}
	if len(f.cropper.removed) != 1 {
		t.Errorf("Expected the pending crop removed, got %v", f.cropper.removed)
	}
}

func TestPrepareFailuresLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, rec *fakeRecognizer)
		want  error
	}{
		{
			name:  "ocr failure",
			setup: func(_ *fixture, rec *fakeRecognizer) { rec.err = providers.Fail("ocr", "ollama", errors.New("timeout")) },
			want:  providers.ErrCollaborator,
		},
		{
			name:  "crop failure",
			setup: func(f *fixture, _ *fakeRecognizer) { f.cropper.err = errors.New("decode failed") },
			want:  providers.ErrCollaborator,
		},
		{
			name:  "translate failure",
			setup: func(f *fixture, _ *fakeRecognizer) { f.translator.err = providers.Fail("translate", "ollama", context.Canceled) },
			want:  context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := &fakeRecognizer{result: scoreResult()}
			tt.setup(f, rec)
			in := newIngestor(f, rec)

			if _, err := in.Prepare(context.Background(), f.book.ID, Scan{Ref: "scan_a.png"}); !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if book, _ := f.store.GetBook(context.Background(), f.book.ID); book.PageCount != 0 {
				t.Errorf("Expected no page committed, got %d", book.PageCount)
			}
		})
	}

	f := newFixture(t)
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})
	if _, err := in.Prepare(context.Background(), 999, Scan{}); !errors.Is(err, storage.ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
}

func TestPrepareRepairsIncompleteTriples(t *testing.T) {
	f := newFixture(t)
	f.translator.result.Sentences = []models.Sentence{
		{Source: "zu Ende.", Korean: "새 번역.", English: "New translation."},
		{Source: "Noch mehr.", Korean: "더.", English: ""},
	}
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})

	got, err := in.Prepare(context.Background(), f.book.ID, Scan{Ref: "scan_a.png"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got.Page == nil || len(got.Page.Sentences) != 1 {
		t.Fatalf("Expected a committed page with 1 triple, got %+v", got)
	}
	if !strings.Contains(got.Warning, alignment.ErrAlignmentMismatch.Error()) {
		t.Errorf("Expected an alignment warning, got %q", got.Warning)
	}
}

func TestPrepareMusicOnlyPageSkipsTranslation(t *testing.T) {
	f := newFixture(t)
	rec := &fakeRecognizer{result: &ocr.Result{
		Success:  true,
		PageType: "music",
		Blocks:   []blocks.Region{{Type: blocks.KindMusicScore, Crop: &blocks.Crop{Top: 10, Bottom: 95}}},
	}}
	in := newIngestor(f, rec)

	got, err := in.Prepare(context.Background(), f.book.ID, Scan{Ref: "scan_m.png"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got.Page == nil || got.Page.PageType != "music" {
		t.Fatalf("Expected a committed music page, got %+v", got)
	}
	if len(f.translator.requests) != 0 {
		t.Error("Expected no translation for a page without prose")
	}
}

func TestPendingStoreExpires(t *testing.T) {
	s := NewPendingStore(time.Minute)
	old := &Pending{BookID: 1, Page: &models.Page{}}
	s.Add(old)
	old.CreatedAt = time.Now().Add(-2 * time.Minute)

	expired := s.Add(&Pending{BookID: 1, Page: &models.Page{}})
	if len(expired) != 1 || expired[0] != old {
		t.Errorf("Expected the old entry expired, got %v", expired)
	}
	if _, ok := s.Get(old.ID); ok {
		t.Error("Expected the expired entry gone")
	}
	if got := s.ForBook(1); len(got) != 1 {
		t.Errorf("Expected 1 pending page, got %d", len(got))
	}
	if got := s.ForBook(2); len(got) != 0 {
		t.Errorf("Expected none for another book, got %d", len(got))
	}

	stale := &Pending{BookID: 1, Page: &models.Page{}}
	s.Add(stale)
	stale.CreatedAt = time.Now().Add(-2 * time.Minute)
	if _, ok := s.Get(stale.ID); ok {
		t.Error("Expected Get to miss an expired entry")
	}
	if _, ok := s.Take(stale.ID); ok {
		t.Error("Expected Take to miss an expired entry")
	}
	if got := s.ForBook(1); len(got) != 1 {
		t.Errorf("Expected expired entries hidden, got %d", len(got))
	}
}

func TestResolveExpiredProposal(t *testing.T) {
	f := newFixture(t)
	f.appendPage(t, "Eins.")
	f.translator.result.Continuation = &continuation.Proposal{IsContinuation: true, Confidence: 0.9}
	in := newIngestor(f, &fakeRecognizer{result: scoreResult()})
	ctx := context.Background()

	got, err := in.Prepare(ctx, f.book.ID, Scan{Ref: "scan_b.png"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	got.Pending.CreatedAt = time.Now().Add(-2 * PendingTTL)

	if _, err := in.Resolve(ctx, got.Pending.ID, continuation.Merge); !errors.Is(err, ErrPendingNotFound) {
		t.Errorf("Expected ErrPendingNotFound for an expired proposal, got %v", err)
	}
	if book, _ := f.store.GetBook(ctx, f.book.ID); book.PageCount != 1 {
		t.Errorf("Expected nothing committed, got %d pages", book.PageCount)
	}
}
