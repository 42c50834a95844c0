//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	approvalmodels "dhfcore/internal/approval/models"
	approvalpg "dhfcore/internal/approval/store/postgres"
	phasemodels "dhfcore/internal/phasegate/models"
	phasepg "dhfcore/internal/phasegate/store/postgres"
	projectmodels "dhfcore/internal/project/models"
	projectpg "dhfcore/internal/project/store/postgres"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
	"dhfcore/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *approvalpg.Store
	projects  *projectpg.Store
	instances *phasepg.InstanceStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = approvalpg.New(s.postgres.DB)
	s.projects = projectpg.New(s.postgres.DB)
	s.instances = phasepg.NewInstanceStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "gate_reviews", "phase_instances", "projects")
	s.Require().NoError(err)
}

// seedInstance creates the project and phase instance rows a review needs.
func (s *PostgresStoreSuite) seedInstance() *phasemodels.PhaseInstance {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	project, err := projectmodels.NewProject("Infusion Pump", "", id.NewActorID(), now)
	s.Require().NoError(err)
	s.Require().NoError(s.projects.Create(ctx, project))

	inst := phasemodels.NewInstance(project.ID, phasemodels.PhaseInputsID, now)
	s.Require().NoError(s.instances.CreateAll(ctx, []*phasemodels.PhaseInstance{inst}))
	return inst
}

func (s *PostgresStoreSuite) TestCreateAndListByInstance() {
	ctx := context.Background()
	inst := s.seedInstance()
	reviewer := id.NewActorID()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rejection := approvalmodels.NewGateReview(inst.ID, inst.ProjectID,
		id.DecisionRejected, reviewer, "j.doe@example.com", "inputs incomplete", now)
	s.Require().NoError(s.store.Create(ctx, rejection))

	approval := approvalmodels.NewGateReview(inst.ID, inst.ProjectID,
		id.DecisionApproved, reviewer, "j.doe@example.com", "resolved", now.Add(time.Minute))
	s.Require().NoError(s.store.Create(ctx, approval))

	reviews, err := s.store.ListByInstance(ctx, inst.ID)
	s.Require().NoError(err)
	s.Require().Len(reviews, 2)

	s.Equal(id.DecisionRejected, reviews[0].Decision)
	s.Equal(id.DecisionApproved, reviews[1].Decision)
	s.Equal(approval.Signature.ContentHash, reviews[1].Signature.ContentHash)
	s.True(reviews[1].Signature.Verify(inst.ID, id.DecisionApproved, "resolved"))
}

func (s *PostgresStoreSuite) TestHasApproved() {
	ctx := context.Background()
	inst := s.seedInstance()
	now := time.Now().UTC()

	approved, err := s.store.HasApproved(ctx, inst.ID)
	s.Require().NoError(err)
	s.False(approved)

	rejection := approvalmodels.NewGateReview(inst.ID, inst.ProjectID,
		id.DecisionRejected, id.NewActorID(), "qa", "no", now)
	s.Require().NoError(s.store.Create(ctx, rejection))

	approved, err = s.store.HasApproved(ctx, inst.ID)
	s.Require().NoError(err)
	s.False(approved, "rejections do not settle the gate")

	review := approvalmodels.NewGateReview(inst.ID, inst.ProjectID,
		id.DecisionApproved, id.NewActorID(), "qa", "yes", now)
	s.Require().NoError(s.store.Create(ctx, review))

	approved, err = s.store.HasApproved(ctx, inst.ID)
	s.Require().NoError(err)
	s.True(approved)
}

// TestConcurrentApprovalSingleWinner verifies the partial unique index admits
// exactly one approved row per instance under concurrent writers.
func (s *PostgresStoreSuite) TestConcurrentApprovalSingleWinner() {
	ctx := context.Background()
	inst := s.seedInstance()
	const goroutines = 20

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			review := approvalmodels.NewGateReview(inst.ID, inst.ProjectID,
				id.DecisionApproved, id.NewActorID(), "race", "", time.Now().UTC())
			err := s.store.Create(ctx, review)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one approval should land")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should conflict")

	reviews, err := s.store.ListByInstance(ctx, inst.ID)
	s.Require().NoError(err)
	s.Len(reviews, 1)
}

func (s *PostgresStoreSuite) TestMultipleRejectionsAllowed() {
	ctx := context.Background()
	inst := s.seedInstance()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		review := approvalmodels.NewGateReview(inst.ID, inst.ProjectID,
			id.DecisionRejected, id.NewActorID(), "qa", "still failing", now.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.store.Create(ctx, review))
	}

	reviews, err := s.store.ListByInstance(ctx, inst.ID)
	s.Require().NoError(err)
	s.Len(reviews, 3, "rejection history accumulates without limit")
}
