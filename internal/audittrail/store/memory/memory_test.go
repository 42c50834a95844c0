package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dhfcore/internal/audittrail"
	id "dhfcore/pkg/domain"
)

type AuditStoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func (s *AuditStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func TestAuditStoreSuite(t *testing.T) {
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) newEntry(entityID string) *audittrail.Entry {
	return &audittrail.Entry{
		EntityType: audittrail.EntityPhaseInstance,
		EntityID:   entityID,
		Action:     audittrail.ActionActivate,
		ActorID:    id.ActorID(uuid.New()),
		Timestamp:  time.Now(),
	}
}

func (s *AuditStoreSuite) TestSequenceAssignment() {
	s.Run("assigns strictly increasing sequence numbers", func() {
		for i := 0; i < 5; i++ {
			entry := s.newEntry("instance-1")
			s.Require().NoError(s.store.Append(s.ctx, entry))
			s.Equal(int64(i+1), entry.Seq)
		}
	})

	s.Run("sequence is strictly increasing across concurrent writers", func() {
		store := New()
		var wg sync.WaitGroup
		const writers = 16
		const perWriter = 50
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_ = store.Append(context.Background(), s.newEntry("shared"))
				}
			}()
		}
		wg.Wait()

		entries, err := store.ListSince(context.Background(), 0, writers*perWriter)
		s.Require().NoError(err)
		s.Require().Len(entries, writers*perWriter)
		seen := make(map[int64]bool, len(entries))
		prev := int64(0)
		for _, e := range entries {
			s.Greater(e.Seq, prev, "sequence must increase in listing order")
			s.False(seen[e.Seq], "sequence %d reused", e.Seq)
			seen[e.Seq] = true
			prev = e.Seq
		}
	})
}

func (s *AuditStoreSuite) TestQueries() {
	// Each subtest gets its own store so sequence numbers start from 1.
	s.Run("lists entries for one entity in sequence order", func() {
		store := New()
		s.Require().NoError(store.Append(s.ctx, s.newEntry("a")))
		s.Require().NoError(store.Append(s.ctx, s.newEntry("b")))
		s.Require().NoError(store.Append(s.ctx, s.newEntry("a")))

		entries, err := store.ListByEntity(s.ctx, audittrail.EntityPhaseInstance, "a")
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Less(entries[0].Seq, entries[1].Seq)
	})

	s.Run("lists entries since a sequence exclusively", func() {
		store := New()
		for i := 0; i < 4; i++ {
			s.Require().NoError(store.Append(s.ctx, s.newEntry("x")))
		}
		entries, err := store.ListSince(s.ctx, 2, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(int64(3), entries[0].Seq)
	})

	s.Run("honors the limit", func() {
		store := New()
		for i := 0; i < 4; i++ {
			s.Require().NoError(store.Append(s.ctx, s.newEntry("y")))
		}
		entries, err := store.ListSince(s.ctx, 0, 3)
		s.Require().NoError(err)
		s.Len(entries, 3)
	})
}
