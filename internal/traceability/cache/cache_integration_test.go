//go:build integration

package cache_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dhfcore/internal/traceability/cache"
	"dhfcore/internal/traceability/service"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/testutil/containers"
)

type GraphCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.GraphCache
}

func TestGraphCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(GraphCacheSuite))
}

func (s *GraphCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = cache.New(s.redis.Client, time.Minute, slog.Default())
}

func (s *GraphCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func sampleGraph(projectID id.ProjectID) *service.Graph {
	need := id.NewArtifactID()
	input := id.NewArtifactID()
	return &service.Graph{
		ProjectID: projectID,
		Artifacts: []service.ArtifactNode{
			{ID: need, Kind: id.KindUserNeed, Code: "UN-001", Status: id.ArtifactDraft},
			{ID: input, Kind: id.KindDesignInput, Code: "DI-001", Status: id.ArtifactDraft},
		},
		Links: []service.LinkEdge{
			{ID: id.NewLinkID(), SourceID: need, SourceKind: id.KindUserNeed,
				TargetID: input, TargetKind: id.KindDesignInput},
		},
	}
}

func (s *GraphCacheSuite) TestSetGetRoundTrip() {
	ctx := context.Background()
	projectID := id.NewProjectID()

	_, ok := s.cache.Get(ctx, projectID)
	s.False(ok, "empty cache misses")

	graph := sampleGraph(projectID)
	s.cache.Set(ctx, projectID, graph)

	cached, ok := s.cache.Get(ctx, projectID)
	s.Require().True(ok)
	s.Equal(projectID, cached.ProjectID)
	s.Require().Len(cached.Artifacts, 2)
	s.Equal("UN-001", cached.Artifacts[0].Code)
	s.Equal(id.KindUserNeed, cached.Artifacts[0].Kind)
	s.Require().Len(cached.Links, 1)
	s.Equal(graph.Links[0].SourceID, cached.Links[0].SourceID)
}

func (s *GraphCacheSuite) TestInvalidate() {
	ctx := context.Background()
	projectID := id.NewProjectID()

	s.cache.Set(ctx, projectID, sampleGraph(projectID))
	s.cache.Invalidate(ctx, projectID)

	_, ok := s.cache.Get(ctx, projectID)
	s.False(ok)
}

func (s *GraphCacheSuite) TestCorruptEntryDropped() {
	ctx := context.Background()
	projectID := id.NewProjectID()

	err := s.redis.Client.Set(ctx, "dhfcore:graph:"+projectID.String(), "not json", time.Minute).Err()
	s.Require().NoError(err)

	_, ok := s.cache.Get(ctx, projectID)
	s.False(ok, "corrupt entries read as misses")

	exists, err := s.redis.Client.Exists(ctx, "dhfcore:graph:"+projectID.String()).Result()
	s.Require().NoError(err)
	s.Zero(exists, "corrupt entries are deleted on read")
}

func (s *GraphCacheSuite) TestProjectsAreIsolated() {
	ctx := context.Background()
	a, b := id.NewProjectID(), id.NewProjectID()

	s.cache.Set(ctx, a, sampleGraph(a))
	s.cache.Set(ctx, b, sampleGraph(b))
	s.cache.Invalidate(ctx, a)

	_, ok := s.cache.Get(ctx, a)
	s.False(ok)
	cached, ok := s.cache.Get(ctx, b)
	s.Require().True(ok)
	s.Equal(b, cached.ProjectID)
}
