package storage_test

import (
	"context"
	"testing"

	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/storage"
	"github.com/sangwookny/wagner/internal/storage/storagetest"
)

func TestMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemory()
	})
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	b := &models.Book{Title: "Parsifal"}
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	p := &models.Page{BookID: b.ID, SourceText: "eins", Translations: map[models.Language]models.Translation{
		models.Korean: {Text: "하나", Version: 1},
	}}
	if err := s.AppendPage(ctx, p); err != nil {
		t.Fatalf("AppendPage failed: %v", err)
	}

	p.Translations[models.Korean] = models.Translation{Text: "changed", Version: 9}
	got, err := s.GetPage(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got.Text(models.Korean) != "하나" {
		t.Errorf("Expected stored page to be isolated from caller, got %q", got.Text(models.Korean))
	}

	got.SourceText = "mutated"
	again, _ := s.GetPage(ctx, p.ID)
	if again.SourceText != "eins" {
		t.Errorf("Expected returned page to be a copy, got %q", again.SourceText)
	}
}

func TestMemoryIDsPerEntity(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	var bookIDs, pageIDs []int64
	for range 2 {
		b := &models.Book{Title: "Parsifal"}
		if err := s.CreateBook(ctx, b); err != nil {
			t.Fatalf("CreateBook failed: %v", err)
		}
		bookIDs = append(bookIDs, b.ID)
		p := &models.Page{BookID: b.ID, SourceText: "eins"}
		if err := s.AppendPage(ctx, p, models.HistoryEntry{Language: models.Korean, Text: "하나", Version: 1}); err != nil {
			t.Fatalf("AppendPage failed: %v", err)
		}
		pageIDs = append(pageIDs, p.ID)
	}
	if bookIDs[0] != 1 || bookIDs[1] != 2 {
		t.Errorf("Expected book ids 1 and 2, got %v", bookIDs)
	}
	if pageIDs[0] != 1 || pageIDs[1] != 2 {
		t.Errorf("Expected page ids 1 and 2, got %v", pageIDs)
	}
	entries, err := s.ListHistory(ctx, pageIDs[1])
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 2 {
		t.Errorf("Expected history id 2, got %+v", entries)
	}
}
