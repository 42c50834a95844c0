package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"dhfcore/internal/audittrail"
	auditmemory "dhfcore/internal/audittrail/store/memory"
	phaseservice "dhfcore/internal/phasegate/service"
	"dhfcore/internal/traceability/models"
	"dhfcore/internal/traceability/store/memory"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
)

type TraceabilitySuite struct {
	suite.Suite

	svc       *Service
	artifacts *memory.ArtifactStore
	recorder  *audittrail.Recorder

	projectID id.ProjectID
	actor     id.ActorID
	ctx       context.Context
}

func TestTraceabilitySuite(t *testing.T) {
	suite.Run(t, new(TraceabilitySuite))
}

func (s *TraceabilitySuite) SetupTest() {
	s.artifacts = memory.NewArtifactStore()
	s.recorder = audittrail.NewRecorder(auditmemory.New())
	s.svc = New(s.artifacts, memory.NewLinkStore(), s.recorder, phaseservice.NewMemoryProjectTx())

	s.projectID = id.NewProjectID()
	s.actor = id.NewActorID()
	s.ctx = context.Background()
}

func (s *TraceabilitySuite) create(kind id.ArtifactKind, code string) *models.Artifact {
	artifact, err := s.svc.CreateArtifact(s.ctx, CreateArtifactInput{
		ProjectID: s.projectID,
		Kind:      kind,
		Code:      code,
		Actor:     s.actor,
	})
	s.Require().NoError(err)
	return artifact
}

func (s *TraceabilitySuite) link(source, target *models.Artifact) *models.TraceabilityLink {
	link, err := s.svc.AddLink(s.ctx, AddLinkInput{
		SourceID:   source.ID,
		SourceKind: source.Kind,
		TargetID:   target.ID,
		TargetKind: target.Kind,
		Actor:      s.actor,
	})
	s.Require().NoError(err)
	return link
}

func (s *TraceabilitySuite) TestCreateArtifact() {
	artifact := s.create(id.KindUserNeed, "UN-1")

	s.Equal(id.ArtifactDraft, artifact.Status)
	s.False(artifact.PhaseID.IsNil())

	s.Run("empty code rejected", func() {
		_, err := s.svc.CreateArtifact(s.ctx, CreateArtifactInput{
			ProjectID: s.projectID,
			Kind:      id.KindUserNeed,
			Actor:     s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("create audited", func() {
		entries, err := s.recorder.EntriesFor(s.ctx, audittrail.EntityArtifact, artifact.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(audittrail.ActionCreate, entries[0].Action)
	})
}

func (s *TraceabilitySuite) TestLinkWhitelist() {
	un := s.create(id.KindUserNeed, "UN-1")
	di := s.create(id.KindDesignInput, "DI-1")
	do := s.create(id.KindDesignOutput, "DO-1")
	ver := s.create(id.KindVerification, "VER-1")
	val := s.create(id.KindValidation, "VAL-1")

	s.Run("whitelisted pairs accepted", func() {
		s.link(un, di)
		s.link(di, do)
		s.link(do, ver)
		s.link(un, val)
	})

	s.Run("off-whitelist pair rejected", func() {
		_, err := s.svc.AddLink(s.ctx, AddLinkInput{
			SourceID: di.ID, SourceKind: di.Kind,
			TargetID: ver.ID, TargetKind: ver.Kind,
			Actor: s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidLinkType))
	})

	s.Run("reversed direction rejected", func() {
		_, err := s.svc.AddLink(s.ctx, AddLinkInput{
			SourceID: di.ID, SourceKind: di.Kind,
			TargetID: un.ID, TargetKind: un.Kind,
			Actor: s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidLinkType))
	})

	s.Run("duplicate edge rejected", func() {
		_, err := s.svc.AddLink(s.ctx, AddLinkInput{
			SourceID: un.ID, SourceKind: un.Kind,
			TargetID: di.ID, TargetKind: di.Kind,
			Actor: s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateLink))
	})

	s.Run("stale declared kind rejected", func() {
		_, err := s.svc.AddLink(s.ctx, AddLinkInput{
			SourceID: un.ID, SourceKind: id.KindDesignInput,
			TargetID: do.ID, TargetKind: do.Kind,
			Actor: s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *TraceabilitySuite) TestConcurrentAddLinkSingleWinner() {
	un := s.create(id.KindUserNeed, "UN-1")
	di := s.create(id.KindDesignInput, "DI-1")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.AddLink(s.ctx, AddLinkInput{
				SourceID: un.ID, SourceKind: un.Kind,
				TargetID: di.ID, TargetKind: di.Kind,
				Actor: s.actor,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateLink))
	}
	s.Equal(1, winners)

	s.Run("losing attempts leave no audit entries", func() {
		entries, err := s.recorder.EntriesSince(s.ctx, 0, 100)
		s.Require().NoError(err)
		added := 0
		for _, e := range entries {
			if e.Action == audittrail.ActionAddLink {
				added++
			}
		}
		s.Equal(1, added)
	})
}

func (s *TraceabilitySuite) TestHighlightSetIsOneHop() {
	un := s.create(id.KindUserNeed, "UN-1")
	di := s.create(id.KindDesignInput, "DI-1")
	do := s.create(id.KindDesignOutput, "DO-1")
	ver := s.create(id.KindVerification, "VER-1")
	s.link(un, di)
	s.link(di, do)
	s.link(do, ver)

	neighbors, err := s.svc.HighlightSet(s.ctx, di.ID)
	s.Require().NoError(err)

	ids := make(map[id.ArtifactID]bool, len(neighbors))
	for _, n := range neighbors {
		ids[n.ID] = true
	}
	s.Len(ids, 2)
	s.True(ids[un.ID])
	s.True(ids[do.ID])
	// VER-1 is two hops away and must not be highlighted.
	s.False(ids[ver.ID])
}

func (s *TraceabilitySuite) TestOrphanRules() {
	un := s.create(id.KindUserNeed, "UN-1")
	di := s.create(id.KindDesignInput, "DI-1")
	do := s.create(id.KindDesignOutput, "DO-1")
	ver := s.create(id.KindVerification, "VER-1")
	val := s.create(id.KindValidation, "VAL-1")

	orphaned := func() map[string]bool {
		graph, err := s.svc.ProjectGraph(s.ctx, s.projectID)
		s.Require().NoError(err)
		out := make(map[string]bool, len(graph.Artifacts))
		for _, node := range graph.Artifacts {
			out[node.Code] = node.Orphaned
		}
		return out
	}

	s.Run("all orphaned with no links", func() {
		flags := orphaned()
		for code, isOrphan := range flags {
			s.True(isOrphan, code)
		}
	})

	s.Run("user need to design input covers both partially", func() {
		s.link(un, di)
		flags := orphaned()
		s.False(flags["UN-1"])
		// DI-1 has an incoming user need, which satisfies its rule.
		s.False(flags["DI-1"])
		s.True(flags["DO-1"])
	})

	s.Run("full chain clears the chain", func() {
		s.link(di, do)
		s.link(do, ver)
		flags := orphaned()
		s.False(flags["DO-1"])
		s.False(flags["VER-1"])
		// Validation still has no user need link.
		s.True(flags["VAL-1"])
	})

	s.Run("validation needs a user need link", func() {
		s.link(un, val)
		s.False(orphaned()["VAL-1"])
	})
}

func (s *TraceabilitySuite) TestRemoveLink() {
	un := s.create(id.KindUserNeed, "UN-1")
	di := s.create(id.KindDesignInput, "DI-1")
	link := s.link(un, di)

	s.Require().NoError(s.svc.RemoveLink(s.ctx, link.ID, s.actor))

	s.Run("edge gone from graph", func() {
		graph, err := s.svc.ProjectGraph(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Empty(graph.Links)
	})

	s.Run("removal audited with before state", func() {
		entries, err := s.recorder.EntriesFor(s.ctx, audittrail.EntityTraceLink, link.ID.String())
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal(audittrail.ActionRemoveLink, entries[1].Action)
		s.NotEmpty(entries[1].Before)
	})

	s.Run("removing again is not found", func() {
		err := s.svc.RemoveLink(s.ctx, link.ID, s.actor)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("same pair can be relinked after removal", func() {
		s.link(un, di)
	})
}

func (s *TraceabilitySuite) TestUpdateArtifactOptimisticConcurrency() {
	artifact := s.create(id.KindDesignInput, "DI-1")
	desc := "input derived from UN-1"

	updated, err := s.svc.UpdateArtifact(s.ctx, UpdateArtifactInput{
		ArtifactID:  artifact.ID,
		Version:     artifact.Version,
		Description: &desc,
		Actor:       s.actor,
	})
	s.Require().NoError(err)
	s.Equal(desc, updated.Description)
	s.Greater(updated.Version, artifact.Version)

	s.Run("stale version conflicts", func() {
		_, err := s.svc.UpdateArtifact(s.ctx, UpdateArtifactInput{
			ArtifactID:  artifact.ID,
			Version:     artifact.Version,
			Description: &desc,
			Actor:       s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *TraceabilitySuite) TestArchiveArtifact() {
	artifact := s.create(id.KindDesignInput, "DI-1")
	approved := id.ArtifactApproved
	_, err := s.svc.UpdateArtifact(s.ctx, UpdateArtifactInput{
		ArtifactID: artifact.ID,
		Version:    artifact.Version,
		Status:     &approved,
		Actor:      s.actor,
	})
	s.Require().NoError(err)

	total, terminal, err := s.svc.CountByProjectAndKind(s.ctx, s.projectID, id.KindDesignInput)
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal(1, terminal)

	archived, err := s.svc.ArchiveArtifact(s.ctx, artifact.ID, s.actor)
	s.Require().NoError(err)
	s.True(archived.Archived)
	s.Equal(id.ArtifactArchived, archived.Status)

	s.Run("archived artifacts leave the rollup", func() {
		total, terminal, err := s.svc.CountByProjectAndKind(s.ctx, s.projectID, id.KindDesignInput)
		s.Require().NoError(err)
		s.Equal(0, total)
		s.Equal(0, terminal)
	})

	s.Run("archived artifacts are immutable", func() {
		desc := "late edit"
		_, err := s.svc.UpdateArtifact(s.ctx, UpdateArtifactInput{
			ArtifactID:  artifact.ID,
			Version:     archived.Version,
			Description: &desc,
			Actor:       s.actor,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("double archive rejected", func() {
		_, err := s.svc.ArchiveArtifact(s.ctx, artifact.ID, s.actor)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *TraceabilitySuite) TestCrossProjectLinkRejected() {
	un := s.create(id.KindUserNeed, "UN-1")

	other, err := s.svc.CreateArtifact(s.ctx, CreateArtifactInput{
		ProjectID: id.NewProjectID(),
		Kind:      id.KindDesignInput,
		Code:      "DI-X",
		Actor:     s.actor,
	})
	s.Require().NoError(err)

	_, err = s.svc.AddLink(s.ctx, AddLinkInput{
		SourceID: un.ID, SourceKind: un.Kind,
		TargetID: other.ID, TargetKind: other.Kind,
		Actor: s.actor,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// staticCache always serves one canned graph, proving reads prefer it.
type staticCache struct {
	graph       *Graph
	invalidated int
}

func (c *staticCache) Get(context.Context, id.ProjectID) (*Graph, bool) {
	if c.graph == nil {
		return nil, false
	}
	return c.graph, true
}
func (c *staticCache) Set(_ context.Context, _ id.ProjectID, g *Graph) { c.graph = g }
func (c *staticCache) Invalidate(context.Context, id.ProjectID)        { c.graph = nil; c.invalidated++ }

func (s *TraceabilitySuite) TestGraphCache() {
	cache := &staticCache{}
	svc := New(s.artifacts, memory.NewLinkStore(), s.recorder, phaseservice.NewMemoryProjectTx(), WithGraphCache(cache))

	un, err := svc.CreateArtifact(s.ctx, CreateArtifactInput{
		ProjectID: s.projectID, Kind: id.KindUserNeed, Code: "UN-1", Actor: s.actor,
	})
	s.Require().NoError(err)

	first, err := svc.ProjectGraph(s.ctx, s.projectID)
	s.Require().NoError(err)
	s.Require().Len(first.Artifacts, 1)

	s.Run("second read served from cache", func() {
		again, err := svc.ProjectGraph(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.Same(first, again)
	})

	s.Run("mutation invalidates", func() {
		before := cache.invalidated
		_, err := svc.ArchiveArtifact(s.ctx, un.ID, s.actor)
		s.Require().NoError(err)
		s.Greater(cache.invalidated, before)

		rebuilt, err := svc.ProjectGraph(s.ctx, s.projectID)
		s.Require().NoError(err)
		s.True(rebuilt.Artifacts[0].Archived)
	})
}
