// Package storage is the persistence boundary for books, pages and
// translation history. Every Store method is one transaction.
package storage

import (
	"context"
	"errors"

	"github.com/sangwookny/wagner/internal/models"
)

var (
	ErrBookNotFound = errors.New("book not found")
	ErrPageNotFound = errors.New("page not found")
)

// Store persists books and their ordered pages.
//
// Page numbers are owned by the store: AppendPage assigns max+1,
// SwapPages exchanges two numbers and DeletePage closes the gap, each in a
// single step so readers never see a gap or a duplicate.
type Store interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	// DeleteBook removes the book with all of its pages and history.
	DeleteBook(ctx context.Context, id int64) error

	GetPage(ctx context.Context, id int64) (*models.Page, error)
	// ListPages returns the pages of a book ordered by page number.
	ListPages(ctx context.Context, bookID int64) ([]*models.Page, error)
	// LastPage returns the highest-numbered page, or nil for an empty book.
	LastPage(ctx context.Context, bookID int64) (*models.Page, error)
	// AppendPage assigns ID and PageNumber and stores page together with the
	// given history entries.
	AppendPage(ctx context.Context, page *models.Page, history ...models.HistoryEntry) error
	// UpdatePage stores the content of page; its book and number are kept.
	// Each history entry becomes the active version of its language.
	UpdatePage(ctx context.Context, page *models.Page, history ...models.HistoryEntry) error
	SwapPages(ctx context.Context, a, b int64) error
	DeletePage(ctx context.Context, id int64) error

	// ListHistory returns a page's history, oldest first.
	ListHistory(ctx context.Context, pageID int64) ([]models.HistoryEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
