package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sangwookny/wagner/internal/models"
)

// Memory is an in-process Store. Values are copied on the way in and out.
type Memory struct {
	books   map[int64]*models.Book
	pages   map[int64]*models.Page
	history map[int64][]models.HistoryEntry

	// last assigned id per entity, like the per-table sequences of SQL
	lastBookID    int64
	lastPageID    int64
	lastHistoryID int64

	mu sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		books:   make(map[int64]*models.Book),
		pages:   make(map[int64]*models.Page),
		history: make(map[int64][]models.HistoryEntry),
	}
}

func (m *Memory) CreateBook(_ context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBookID++
	book.ID = m.lastBookID
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}
	book.PageCount = 0
	b := *book
	m.books[b.ID] = &b
	return nil
}

func (m *Memory) GetBook(_ context.Context, id int64) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, id)
	}
	out := *b
	out.PageCount = m.countPages(id)
	return &out, nil
}

func (m *Memory) ListBooks(_ context.Context) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Book, 0, len(m.books))
	for id, b := range m.books {
		out := *b
		out.PageCount = m.countPages(id)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteBook(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return fmt.Errorf("%w: %d", ErrBookNotFound, id)
	}
	for pid, p := range m.pages {
		if p.BookID == id {
			delete(m.pages, pid)
			delete(m.history, pid)
		}
	}
	delete(m.books, id)
	return nil
}

func (m *Memory) GetPage(_ context.Context, id int64) (*models.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	return p.Clone(), nil
}

func (m *Memory) ListPages(_ context.Context, bookID int64) ([]*models.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.books[bookID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
	}
	return m.bookPages(bookID, true), nil
}

func (m *Memory) LastPage(_ context.Context, bookID int64) (*models.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.books[bookID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
	}
	pages := m.bookPages(bookID, false)
	if len(pages) == 0 {
		return nil, nil
	}
	return pages[len(pages)-1].Clone(), nil
}

func (m *Memory) AppendPage(_ context.Context, page *models.Page, history ...models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[page.BookID]; !ok {
		return fmt.Errorf("%w: %d", ErrBookNotFound, page.BookID)
	}
	m.lastPageID++
	page.ID = m.lastPageID
	page.PageNumber = m.countPages(page.BookID) + 1
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	m.pages[page.ID] = page.Clone()
	m.recordHistory(page.ID, history)
	return nil
}

func (m *Memory) UpdatePage(_ context.Context, page *models.Page, history ...models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.pages[page.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPageNotFound, page.ID)
	}
	next := page.Clone()
	next.BookID = cur.BookID
	next.PageNumber = cur.PageNumber
	next.CreatedAt = cur.CreatedAt
	m.pages[page.ID] = next
	m.recordHistory(page.ID, history)
	return nil
}

func (m *Memory) SwapPages(_ context.Context, a, b int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pa, ok := m.pages[a]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPageNotFound, a)
	}
	pb, ok := m.pages[b]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPageNotFound, b)
	}
	if pa.BookID != pb.BookID {
		return fmt.Errorf("pages %d and %d belong to different books", a, b)
	}
	pa.PageNumber, pb.PageNumber = pb.PageNumber, pa.PageNumber
	return nil
}

func (m *Memory) DeletePage(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	delete(m.pages, id)
	delete(m.history, id)
	for _, other := range m.pages {
		if other.BookID == p.BookID && other.PageNumber > p.PageNumber {
			other.PageNumber--
		}
	}
	return nil
}

func (m *Memory) ListHistory(_ context.Context, pageID int64) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.pages[pageID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, pageID)
	}
	return append([]models.HistoryEntry(nil), m.history[pageID]...), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// recordHistory appends entries as the active versions of their languages.
// The caller holds the write lock.
func (m *Memory) recordHistory(pageID int64, entries []models.HistoryEntry) {
	now := time.Now().UTC()
	for _, e := range entries {
		for i := range m.history[pageID] {
			if m.history[pageID][i].Language == e.Language {
				m.history[pageID][i].Active = false
			}
		}
		m.lastHistoryID++
		e.ID = m.lastHistoryID
		e.PageID = pageID
		e.Active = true
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		m.history[pageID] = append(m.history[pageID], e)
	}
}

func (m *Memory) countPages(bookID int64) int {
	n := 0
	for _, p := range m.pages {
		if p.BookID == bookID {
			n++
		}
	}
	return n
}

// bookPages returns the pages of a book by number, cloned when requested.
func (m *Memory) bookPages(bookID int64, clone bool) []*models.Page {
	var result []*models.Page
	for _, p := range m.pages {
		if p.BookID != bookID {
			continue
		}
		if clone {
			p = p.Clone()
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PageNumber < result[j].PageNumber })
	return result
}
