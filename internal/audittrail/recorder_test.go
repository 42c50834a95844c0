package audittrail_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dhfcore/internal/audittrail"
	auditmem "dhfcore/internal/audittrail/store/memory"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
)

type RecorderSuite struct {
	suite.Suite
	store    *auditmem.Store
	recorder *audittrail.Recorder
	ctx      context.Context
}

func (s *RecorderSuite) SetupTest() {
	s.store = auditmem.New()
	s.recorder = audittrail.NewRecorder(s.store)
	s.ctx = context.Background()
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) TestRecord() {
	s.Run("serializes before and after snapshots", func() {
		entry, err := s.recorder.Record(s.ctx, audittrail.Record{
			EntityType: audittrail.EntityPhaseInstance,
			EntityID:   "instance-1",
			Action:     audittrail.ActionActivate,
			ActorID:    id.ActorID(uuid.New()),
			Before:     map[string]string{"status": "not_started"},
			After:      map[string]string{"status": "active"},
		})
		s.Require().NoError(err)
		s.Positive(entry.Seq)
		s.JSONEq(`{"status":"not_started"}`, string(entry.Before))
		s.JSONEq(`{"status":"active"}`, string(entry.After))
	})

	s.Run("rejects unknown entity type", func() {
		_, err := s.recorder.Record(s.ctx, audittrail.Record{
			EntityType: "dashboard_widget",
			EntityID:   "w-1",
			Action:     audittrail.ActionUpdate,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects missing entity id", func() {
		_, err := s.recorder.Record(s.ctx, audittrail.Record{
			EntityType: audittrail.EntityTraceLink,
			Action:     audittrail.ActionAddLink,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

type failingStore struct{}

func (failingStore) Append(context.Context, *audittrail.Entry) error {
	return errors.New("disk on fire")
}
func (failingStore) ListByEntity(context.Context, audittrail.EntityType, string) ([]audittrail.Entry, error) {
	return nil, nil
}
func (failingStore) ListSince(context.Context, int64, int) ([]audittrail.Entry, error) {
	return nil, nil
}

func (s *RecorderSuite) TestRecordFailClosed() {
	recorder := audittrail.NewRecorder(failingStore{})
	_, err := recorder.Record(s.ctx, audittrail.Record{
		EntityType: audittrail.EntityGateReview,
		EntityID:   "review-1",
		Action:     audittrail.ActionApprove,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWriteFailure),
		"a failed audit write must surface as CodeAuditWriteFailure so callers abort")
}

func (s *RecorderSuite) TestQueries() {
	for i := 0; i < 3; i++ {
		_, err := s.recorder.Record(s.ctx, audittrail.Record{
			EntityType: audittrail.EntityArtifact,
			EntityID:   "art-1",
			Action:     audittrail.ActionUpdate,
		})
		s.Require().NoError(err)
	}

	s.Run("EntriesFor returns sequence-ordered history", func() {
		entries, err := s.recorder.EntriesFor(s.ctx, audittrail.EntityArtifact, "art-1")
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		s.Less(entries[0].Seq, entries[2].Seq)
	})

	s.Run("EntriesFor rejects unknown entity type", func() {
		_, err := s.recorder.EntriesFor(s.ctx, "nope", "art-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("EntriesSince pages incrementally", func() {
		entries, err := s.recorder.EntriesSince(s.ctx, 1, 10)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(int64(2), entries[0].Seq)
	})
}
