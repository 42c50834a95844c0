package service

import (
	"context"
	"sync"
	"time"

	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
)

// ProjectTx serializes all writes to one project's phase graph. The
// sequential gating invariant only holds if concurrent activate/approve
// calls on the same project cannot interleave. Implementations may wrap a
// database transaction or, in memory, a per-project lock.
type ProjectTx interface {
	RunInProjectTx(ctx context.Context, projectID id.ProjectID, fn func(ctx context.Context) error) error
}

// shardedProjectTx provides per-project mutual exclusion using sharded
// mutexes. Projects hash onto shards, so unrelated projects rarely contend
// while writes within one project always serialize.
const numProjectShards = 64

// defaultProjectTxTimeout bounds how long a writer may hold a project lock.
const defaultProjectTxTimeout = 5 * time.Second

type shardedProjectTx struct {
	shards  [numProjectShards]sync.Mutex
	timeout time.Duration
}

// NewMemoryProjectTx returns the in-memory per-project lock boundary used
// with the memory stores.
func NewMemoryProjectTx() ProjectTx {
	return &shardedProjectTx{}
}

func (t *shardedProjectTx) RunInProjectTx(ctx context.Context, projectID id.ProjectID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultProjectTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := shardFor(projectID)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

// shardFor uses FNV-1a over the project id bytes for shard distribution.
func shardFor(projectID id.ProjectID) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	s := projectID.String()
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return int(h % numProjectShards)
}
