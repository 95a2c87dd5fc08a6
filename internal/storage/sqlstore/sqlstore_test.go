package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/storage"
	"github.com/sangwookny/wagner/internal/storage/storagetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "wagner.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openSQLite(t)
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "wagner.db", want: "wagner.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"},
		{in: "file:wagner.db?mode=rwc", want: "file:wagner.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"},
		{in: "wagner.db?_pragma=journal_mode(WAL)", want: "wagner.db?_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wagner.db")

	s, err := Open(ctx, SQLite, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b := &models.Book{Title: "Parsifal", OriginalLanguage: "german"}
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	s.Close()

	s, err = Open(ctx, SQLite, path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if got.Title != "Parsifal" {
		t.Errorf("Expected Parsifal, got %q", got.Title)
	}
}
