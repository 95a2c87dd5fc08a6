// Package registry tracks books: creation, listing with derived page
// counts, lookup and deletion.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/pages"
	"github.com/sangwookny/wagner/internal/storage"
)

// DefaultOriginalLanguage is recorded for books created without one.
const DefaultOriginalLanguage = "german"

var ErrInvalidTitle = errors.New("invalid title")

// ImageRemover deletes stored image files.
type ImageRemover interface {
	Remove(ref string) error
}

type Registry struct {
	store  storage.Store
	pages  *pages.Manager
	images ImageRemover
}

// New creates a registry over store. images may be nil.
func New(store storage.Store, manager *pages.Manager, images ImageRemover) *Registry {
	return &Registry{store: store, pages: manager, images: images}
}

// CreateBook registers a book. The title must not be blank.
func (r *Registry) CreateBook(ctx context.Context, title, author string) (*models.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTitle)
	}
	b := &models.Book{
		Title:            title,
		Author:           strings.TrimSpace(author),
		OriginalLanguage: DefaultOriginalLanguage,
	}
	if err := r.store.CreateBook(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}
	slog.Info("Created book", "book_id", b.ID, "title", b.Title)
	return b, nil
}

func (r *Registry) ListBooks(ctx context.Context) ([]models.Book, error) {
	return r.store.ListBooks(ctx)
}

func (r *Registry) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	return r.store.GetBook(ctx, id)
}

// Pages returns a book's pages in page number order.
func (r *Registry) Pages(ctx context.Context, bookID int64) ([]*models.Page, error) {
	return r.pages.List(ctx, bookID)
}

// DeleteBook removes a book with its pages and history, then removes the
// pages' derived image files. File removal failures are only logged.
func (r *Registry) DeleteBook(ctx context.Context, id int64) error {
	err := r.pages.WithBook(ctx, id, func(ctx context.Context) error {
		list, err := r.store.ListPages(ctx, id)
		if err != nil {
			return err
		}
		if err := r.store.DeleteBook(ctx, id); err != nil {
			return err
		}
		slog.Info("Deleted book", "book_id", id, "pages", len(list))

		if r.images == nil {
			return nil
		}
		for _, ref := range imageRefs(list) {
			if err := r.images.Remove(ref); err != nil {
				slog.Warn("Failed to remove image", "book_id", id, "ref", ref, "error", err)
			}
		}
		return nil
	})
	if err == nil || errors.Is(err, storage.ErrBookNotFound) {
		r.pages.ForgetBook(id)
	}
	return err
}

// imageRefs lists the derived images of pages. Original scans are kept.
func imageRefs(list []*models.Page) []string {
	var refs []string
	for _, p := range list {
		refs = append(refs, p.DerivedImageRefs()...)
	}
	return refs
}

// Ping checks the storage backend.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
