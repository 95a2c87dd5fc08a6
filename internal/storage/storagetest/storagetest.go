// Package storagetest holds behavior checks shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/storage"
)

// Run exercises a fresh store returned by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("BookLifecycle", func(t *testing.T) { testBookLifecycle(t, newStore(t)) })
	t.Run("AppendAssignsNextNumber", func(t *testing.T) { testAppend(t, newStore(t)) })
	t.Run("PageRoundTrip", func(t *testing.T) { testPageRoundTrip(t, newStore(t)) })
	t.Run("SwapPages", func(t *testing.T) { testSwap(t, newStore(t)) })
	t.Run("DeleteRenumbers", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("DeleteBookCascades", func(t *testing.T) { testDeleteBook(t, newStore(t)) })
}

func mustBook(t *testing.T, s storage.Store, title string) *models.Book {
	t.Helper()
	b := &models.Book{Title: title, OriginalLanguage: "german"}
	if err := s.CreateBook(context.Background(), b); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	return b
}

func mustAppend(t *testing.T, s storage.Store, bookID int64, text string) *models.Page {
	t.Helper()
	p := &models.Page{
		BookID:     bookID,
		PageType:   "text",
		SourceText: text,
		Translations: map[models.Language]models.Translation{
			models.Korean:  {Text: "한국어 " + text, Version: 1},
			models.English: {Text: "English " + text, Version: 1},
		},
	}
	if err := s.AppendPage(context.Background(), p); err != nil {
		t.Fatalf("AppendPage failed: %v", err)
	}
	return p
}

// Numbers returns the source texts of a book's pages in page order and fails
// the test unless the numbers are exactly 1..N.
func Numbers(t *testing.T, s storage.Store, bookID int64) []string {
	t.Helper()
	pages, err := s.ListPages(context.Background(), bookID)
	if err != nil {
		t.Fatalf("ListPages failed: %v", err)
	}
	texts := make([]string, len(pages))
	for i, p := range pages {
		if p.PageNumber != i+1 {
			t.Fatalf("Expected page number %d at position %d, got %d", i+1, i, p.PageNumber)
		}
		texts[i] = p.SourceText
	}
	return texts
}

func testBookLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")
	if b.ID == 0 {
		t.Fatal("Expected book ID to be assigned")
	}
	if b.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	mustBook(t, s, "Lohengrin")

	got, err := s.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if got.Title != "Parsifal" || got.OriginalLanguage != "german" {
		t.Errorf("Unexpected book: %+v", got)
	}

	books, err := s.ListBooks(ctx)
	if err != nil {
		t.Fatalf("ListBooks failed: %v", err)
	}
	if len(books) != 2 || books[0].Title != "Parsifal" {
		t.Errorf("Expected books in creation order, got %+v", books)
	}

	if _, err := s.GetBook(ctx, 9999); !errors.Is(err, storage.ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
}

func testAppend(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")

	last, err := s.LastPage(ctx, b.ID)
	if err != nil || last != nil {
		t.Fatalf("Expected no last page, got %+v, %v", last, err)
	}

	first := mustAppend(t, s, b.ID, "eins")
	second := mustAppend(t, s, b.ID, "zwei")
	if first.PageNumber != 1 || second.PageNumber != 2 {
		t.Errorf("Expected numbers 1 and 2, got %d and %d", first.PageNumber, second.PageNumber)
	}

	last, err = s.LastPage(ctx, b.ID)
	if err != nil {
		t.Fatalf("LastPage failed: %v", err)
	}
	if last.ID != second.ID {
		t.Errorf("Expected last page %d, got %d", second.ID, last.ID)
	}

	got, err := s.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if got.PageCount != 2 {
		t.Errorf("Expected page_count 2, got %d", got.PageCount)
	}

	err = s.AppendPage(ctx, &models.Page{BookID: 9999})
	if !errors.Is(err, storage.ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
}

func testPageRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")
	p := &models.Page{
		BookID:     b.ID,
		PageType:   "mixed",
		SourceText: "Durch Mitleid wissend.",
		Translations: map[models.Language]models.Translation{
			models.Korean:  {Text: "연민으로 깨달은.", Version: 3},
			models.English: {Text: "Knowing through compassion.", Version: 1},
		},
		Sentences: []models.Sentence{{Source: "Durch Mitleid wissend.", Korean: "연민으로 깨달은.", English: "Knowing through compassion."}},
		Blocks: blocks.List{
			&blocks.TextBlock{Content: "Durch Mitleid wissend."},
			&blocks.MediaBlock{Type: blocks.KindMusicScore, ImageRef: "crop.png", Description: "Motiv", Crop: blocks.Crop{Top: 10, Bottom: 40}},
		},
		OriginalImageRef: "scan.png",
		ContinuationText: "merged",
	}
	if err := s.AppendPage(ctx, p); err != nil {
		t.Fatalf("AppendPage failed: %v", err)
	}

	got, err := s.GetPage(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got.SourceText != p.SourceText || got.PageType != "mixed" || got.OriginalImageRef != "scan.png" || got.ContinuationText != "merged" {
		t.Errorf("Unexpected page: %+v", got)
	}
	if got.Translations[models.Korean] != (models.Translation{Text: "연민으로 깨달은.", Version: 3}) {
		t.Errorf("Unexpected korean translation: %+v", got.Translations[models.Korean])
	}
	if len(got.Sentences) != 1 || got.Sentences[0] != p.Sentences[0] {
		t.Errorf("Unexpected sentences: %+v", got.Sentences)
	}
	if len(got.Blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(got.Blocks))
	}
	mb, ok := got.Blocks[1].(*blocks.MediaBlock)
	if !ok || mb.Crop != (blocks.Crop{Top: 10, Bottom: 40}) || mb.ImageRef != "crop.png" {
		t.Errorf("Unexpected media block: %#v", got.Blocks[1])
	}

	got.SourceText = "Geändert."
	got.PageNumber = 42
	if err := s.UpdatePage(ctx, got); err != nil {
		t.Fatalf("UpdatePage failed: %v", err)
	}
	again, err := s.GetPage(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if again.SourceText != "Geändert." {
		t.Errorf("Expected updated text, got %q", again.SourceText)
	}
	if again.PageNumber != 1 {
		t.Errorf("Expected UpdatePage to keep the page number, got %d", again.PageNumber)
	}

	if _, err := s.GetPage(ctx, 9999); !errors.Is(err, storage.ErrPageNotFound) {
		t.Errorf("Expected ErrPageNotFound, got %v", err)
	}
	if err := s.UpdatePage(ctx, &models.Page{ID: 9999}); !errors.Is(err, storage.ErrPageNotFound) {
		t.Errorf("Expected ErrPageNotFound, got %v", err)
	}
}

func testSwap(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")
	one := mustAppend(t, s, b.ID, "eins")
	two := mustAppend(t, s, b.ID, "zwei")
	mustAppend(t, s, b.ID, "drei")

	if err := s.SwapPages(ctx, one.ID, two.ID); err != nil {
		t.Fatalf("SwapPages failed: %v", err)
	}
	got := Numbers(t, s, b.ID)
	want := []string{"zwei", "eins", "drei"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, got)
		}
	}

	if err := s.SwapPages(ctx, one.ID, 9999); !errors.Is(err, storage.ErrPageNotFound) {
		t.Errorf("Expected ErrPageNotFound, got %v", err)
	}
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")
	mustAppend(t, s, b.ID, "eins")
	two := mustAppend(t, s, b.ID, "zwei")
	mustAppend(t, s, b.ID, "drei")
	mustAppend(t, s, b.ID, "vier")

	if err := s.DeletePage(ctx, two.ID); err != nil {
		t.Fatalf("DeletePage failed: %v", err)
	}
	got := Numbers(t, s, b.ID)
	want := []string{"eins", "drei", "vier"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}

	book, err := s.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if book.PageCount != 3 {
		t.Errorf("Expected page_count 3, got %d", book.PageCount)
	}

	if err := s.DeletePage(ctx, two.ID); !errors.Is(err, storage.ErrPageNotFound) {
		t.Errorf("Expected ErrPageNotFound, got %v", err)
	}
}

func testHistory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")
	p := &models.Page{BookID: b.ID, SourceText: "eins", Translations: map[models.Language]models.Translation{
		models.Korean: {Text: "하나", Version: 1},
	}}
	if err := s.AppendPage(ctx, p, models.HistoryEntry{Language: models.Korean, Text: "하나", Version: 1}); err != nil {
		t.Fatalf("AppendPage failed: %v", err)
	}

	p.Translations[models.Korean] = models.Translation{Text: "일", Version: 2}
	if err := s.UpdatePage(ctx, p, models.HistoryEntry{Language: models.Korean, Text: "일", Version: 2}); err != nil {
		t.Fatalf("UpdatePage failed: %v", err)
	}

	entries, err := s.ListHistory(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Version != 1 || entries[0].Active {
		t.Errorf("Expected version 1 to be inactive, got %+v", entries[0])
	}
	if entries[1].Version != 2 || !entries[1].Active || entries[1].PageID != p.ID {
		t.Errorf("Expected version 2 to be active, got %+v", entries[1])
	}
}

func testDeleteBook(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b := mustBook(t, s, "Parsifal")
	keep := mustBook(t, s, "Tristan")
	p := mustAppend(t, s, b.ID, "eins")
	mustAppend(t, s, keep.ID, "Liebestod")

	if err := s.DeleteBook(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBook failed: %v", err)
	}
	if _, err := s.GetBook(ctx, b.ID); !errors.Is(err, storage.ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
	if _, err := s.GetPage(ctx, p.ID); !errors.Is(err, storage.ErrPageNotFound) {
		t.Errorf("Expected cascaded page to be gone, got %v", err)
	}
	if got := Numbers(t, s, keep.ID); len(got) != 1 {
		t.Errorf("Expected other book untouched, got %v", got)
	}
	if err := s.DeleteBook(ctx, b.ID); !errors.Is(err, storage.ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
}
