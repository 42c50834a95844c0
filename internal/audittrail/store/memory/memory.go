package memory

import (
	"context"
	"sync"

	"dhfcore/internal/audittrail"
)

// entityKey indexes entries by (type, id) for ListByEntity.
type entityKey struct {
	entityType audittrail.EntityType
	entityID   string
}

// Store keeps the audit trail in memory for tests and development. The
// sequence counter is advanced under the same lock that appends the entry,
// so Seq order and slice order always agree even across concurrent writers.
type Store struct {
	mu       sync.RWMutex
	seq      int64
	entries  []audittrail.Entry
	byEntity map[entityKey][]int
}

// New constructs an empty in-memory audit store.
func New() *Store {
	return &Store{byEntity: make(map[entityKey][]int)}
}

func (s *Store) Append(_ context.Context, entry *audittrail.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry.Seq = s.seq
	s.entries = append(s.entries, *entry)

	key := entityKey{entry.EntityType, entry.EntityID}
	s.byEntity[key] = append(s.byEntity[key], len(s.entries)-1)
	return nil
}

func (s *Store) ListByEntity(_ context.Context, entityType audittrail.EntityType, entityID string) ([]audittrail.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := s.byEntity[entityKey{entityType, entityID}]
	out := make([]audittrail.Entry, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *Store) ListSince(_ context.Context, seq int64, limit int) ([]audittrail.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audittrail.Entry
	for _, entry := range s.entries {
		if entry.Seq <= seq {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len reports the number of appended entries. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
