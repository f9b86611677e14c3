package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/walletguard/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[string]*Verdict
}

// NewMemoryStore creates an in-memory verdict store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verdicts: make(map[string]*Verdict),
	}
}

func (s *MemoryStore) Record(ctx context.Context, v *Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.verdicts[v.ID]; ok {
		return ErrDuplicateVerdict
	}
	s.verdicts[v.ID] = v.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.verdicts[id]
	if !ok {
		return nil, ErrVerdictNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	limit = ClampLimit(limit)

	s.mu.RLock()
	all := make([]*Verdict, 0, len(s.verdicts))
	for _, v := range s.verdicts {
		if c != nil && !before(v, c) {
			continue
		}
		all = append(all, v.Clone())
	}
	s.mu.RUnlock()

	// Newest first, id as tie-breaker.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit+1 {
		all = all[:limit+1]
	}

	items, next, more := pagination.ComputePage(all, limit, verdictKey)
	return &Page{Verdicts: items, NextCursor: next, HasMore: more}, nil
}

// Len returns the number of stored verdicts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.verdicts)
}

// before reports whether v sorts after the cursor position.
func before(v *Verdict, c *pagination.Cursor) bool {
	created := v.CreatedAt.UTC()
	if created.Equal(c.CreatedAt) {
		return v.ID < c.ID
	}
	return created.Before(c.CreatedAt)
}

func verdictKey(v *Verdict) (time.Time, string) {
	return v.CreatedAt, v.ID
}
