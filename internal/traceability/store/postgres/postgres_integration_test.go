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

	phasemodels "dhfcore/internal/phasegate/models"
	projectmodels "dhfcore/internal/project/models"
	projectpg "dhfcore/internal/project/store/postgres"
	"dhfcore/internal/traceability/models"
	tracepg "dhfcore/internal/traceability/store/postgres"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
	"dhfcore/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	artifacts *tracepg.ArtifactStore
	links     *tracepg.LinkStore
	projects  *projectpg.Store

	projectID id.ProjectID
	actor     id.ActorID
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
	s.artifacts = tracepg.NewArtifactStore(s.postgres.DB)
	s.links = tracepg.NewLinkStore(s.postgres.DB)
	s.projects = projectpg.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "traceability_links", "traceability_artifacts", "projects")
	s.Require().NoError(err)

	s.actor = id.NewActorID()
	project, err := projectmodels.NewProject("Glucose Monitor", "", s.actor, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.projects.Create(ctx, project))
	s.projectID = project.ID
}

func (s *PostgresStoreSuite) create(kind id.ArtifactKind, phaseID id.PhaseID, code string) *models.Artifact {
	artifact, err := models.NewArtifact(s.projectID, phaseID, kind, code, "", s.actor, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	s.Require().NoError(s.artifacts.Create(context.Background(), artifact))
	return artifact
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	artifact := s.create(id.KindDesignInput, phasemodels.PhaseInputsID, "DI-001")

	found, err := s.artifacts.FindByID(ctx, artifact.ID)
	s.Require().NoError(err)
	s.Equal(artifact.Code, found.Code)
	s.Equal(id.KindDesignInput, found.Kind)
	s.Equal(id.ArtifactDraft, found.Status)
	s.False(found.Archived)

	_, err = s.artifacts.FindByID(ctx, id.NewArtifactID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateVersionMismatch() {
	ctx := context.Background()
	artifact := s.create(id.KindUserNeed, phasemodels.PhasePlanningID, "UN-001")

	s.Require().NoError(artifact.SetStatus(id.ArtifactApproved, time.Now().UTC()))
	s.Require().NoError(s.artifacts.Update(ctx, artifact))

	stale := *artifact
	stale.Version = artifact.Version - 1
	err := s.artifacts.Update(ctx, &stale)
	s.ErrorIs(err, sentinel.ErrVersionMismatch)

	found, err := s.artifacts.FindByID(ctx, artifact.ID)
	s.Require().NoError(err)
	s.Equal(id.ArtifactApproved, found.Status)
	s.Equal(artifact.Version, found.Version)
}

func (s *PostgresStoreSuite) TestCountExcludesArchived() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.create(id.KindDesignInput, phasemodels.PhaseInputsID, "DI-001")
	approved := s.create(id.KindDesignInput, phasemodels.PhaseInputsID, "DI-002")
	s.Require().NoError(approved.SetStatus(id.ArtifactApproved, now))
	s.Require().NoError(s.artifacts.Update(ctx, approved))

	archived := s.create(id.KindDesignInput, phasemodels.PhaseInputsID, "DI-003")
	s.Require().NoError(archived.SetStatus(id.ArtifactApproved, now))
	s.Require().NoError(archived.Archive(now))
	s.Require().NoError(s.artifacts.Update(ctx, archived))

	total, terminal, err := s.artifacts.CountByProjectAndKind(ctx, s.projectID, id.KindDesignInput)
	s.Require().NoError(err)
	s.Equal(2, total, "archived artifacts leave the denominator")
	s.Equal(1, terminal)
}

func (s *PostgresStoreSuite) TestLinkLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	need := s.create(id.KindUserNeed, phasemodels.PhasePlanningID, "UN-001")
	input := s.create(id.KindDesignInput, phasemodels.PhaseInputsID, "DI-001")

	link, err := models.NewLink(need, input, s.actor, now)
	s.Require().NoError(err)
	s.Require().NoError(s.links.Create(ctx, link))

	exists, err := s.links.ExistsPair(ctx, need.ID, input.ID)
	s.Require().NoError(err)
	s.True(exists)

	byArtifact, err := s.links.ListByArtifact(ctx, input.ID)
	s.Require().NoError(err)
	s.Require().Len(byArtifact, 1, "incoming links count for the target too")
	s.Equal(link.ID, byArtifact[0].ID)

	s.Require().NoError(s.links.Delete(ctx, link.ID))
	s.ErrorIs(s.links.Delete(ctx, link.ID), sentinel.ErrNotFound)

	exists, err = s.links.ExistsPair(ctx, need.ID, input.ID)
	s.Require().NoError(err)
	s.False(exists)
}

// TestConcurrentDuplicateLink verifies the (source_id, target_id) unique
// constraint admits one row when writers race.
func (s *PostgresStoreSuite) TestConcurrentDuplicateLink() {
	ctx := context.Background()
	need := s.create(id.KindUserNeed, phasemodels.PhasePlanningID, "UN-001")
	input := s.create(id.KindDesignInput, phasemodels.PhaseInputsID, "DI-001")
	const goroutines = 20

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := models.NewLink(need, input, s.actor, time.Now().UTC())
			if err != nil {
				return
			}
			err = s.links.Create(ctx, link)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one link should land")
	s.Equal(int32(goroutines-1), conflictCount.Load())

	links, err := s.links.ListByProject(ctx, s.projectID)
	s.Require().NoError(err)
	s.Len(links, 1)
}
