// Package cache provides a Redis-backed cache for rendered project graphs.
// The cache is best-effort: any Redis failure is treated as a miss and
// logged, never surfaced to the caller.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dhfcore/internal/traceability/service"
	id "dhfcore/pkg/domain"
)

const keyPrefix = "dhfcore:graph:"

// GraphCache stores JSON-encoded graphs with a short TTL. Writers
// invalidate on every mutation, so the TTL only bounds staleness across
// process crashes and missed invalidations.
type GraphCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a GraphCache. A zero ttl disables expiry.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *GraphCache {
	return &GraphCache{client: client, ttl: ttl, logger: logger}
}

func key(projectID id.ProjectID) string {
	return keyPrefix + projectID.String()
}

func (c *GraphCache) Get(ctx context.Context, projectID id.ProjectID) (*service.Graph, bool) {
	payload, err := c.client.Get(ctx, key(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.WarnContext(ctx, "graph cache read failed", "error", err, "project_id", projectID)
		}
		return nil, false
	}
	var graph service.Graph
	if err := json.Unmarshal(payload, &graph); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "graph cache entry corrupt, dropping", "error", err, "project_id", projectID)
		}
		c.Invalidate(ctx, projectID)
		return nil, false
	}
	return &graph, true
}

func (c *GraphCache) Set(ctx context.Context, projectID id.ProjectID, graph *service.Graph) {
	payload, err := json.Marshal(graph)
	if err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "graph cache encode failed", "error", err, "project_id", projectID)
		}
		return
	}
	if err := c.client.Set(ctx, key(projectID), payload, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "graph cache write failed", "error", err, "project_id", projectID)
		}
	}
}

func (c *GraphCache) Invalidate(ctx context.Context, projectID id.ProjectID) {
	if err := c.client.Del(ctx, key(projectID)).Err(); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "graph cache invalidate failed", "error", err, "project_id", projectID)
		}
	}
}
