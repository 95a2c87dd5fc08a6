package pages

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/models"
)

// PendingTTL is how long an unresolved page waits for a decision.
const PendingTTL = time.Hour

// Pending is a translated page held back until the caller decides on its
// continuation proposal. Nothing of it is persisted.
type Pending struct {
	ID       string                 `json:"id"`
	BookID   int64                  `json:"book_id"`
	Page     *models.Page           `json:"page"`
	Proposal *continuation.Proposal `json:"proposal"`
	// PreviousPageID is the last page of the book when the proposal was
	// made.
	PreviousPageID int64     `json:"previous_page_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// PendingStore keeps pending pages in memory.
type PendingStore struct {
	pending map[string]*Pending
	ttl     time.Duration
	mu      sync.RWMutex
}

func NewPendingStore(ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = PendingTTL
	}
	return &PendingStore{
		pending: make(map[string]*Pending),
		ttl:     ttl,
	}
}

// Add stores p under a new ID and drops expired entries. The dropped
// entries are returned so their derived images can be cleaned up.
func (s *PendingStore) Add(p *Pending) []*Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []*Pending
	for id, old := range s.pending {
		if s.expired(old, now) {
			expired = append(expired, old)
			delete(s.pending, id)
		}
	}

	p.ID = uuid.NewString()
	p.CreatedAt = now
	s.pending[p.ID] = p
	return expired
}

// Get returns the entry with id. Expired entries are not found; they stay
// until the next Add sweeps them.
func (s *PendingStore) Get(id string) (*Pending, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, exists := s.pending[id]
	if !exists || s.expired(p, time.Now()) {
		return nil, false
	}
	return p, true
}

// Take removes and returns the entry with id unless it has expired.
func (s *PendingStore) Take(id string) (*Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.pending[id]
	if !exists || s.expired(p, time.Now()) {
		return nil, false
	}
	delete(s.pending, id)
	return p, true
}

func (s *PendingStore) expired(p *Pending, now time.Time) bool {
	return now.Sub(p.CreatedAt) > s.ttl
}

// ForBook lists the pending pages of a book, oldest first.
func (s *PendingStore) ForBook(bookID int64) []*Pending {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var result []*Pending
	for _, p := range s.pending {
		if p.BookID == bookID && !s.expired(p, now) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}
