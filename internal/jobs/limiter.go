package jobs

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// workspaceLimiter caps in-flight jobs per workspace. Each workspace
// gets its own semaphore, so a workspace with a deep backlog cannot
// starve the others sharing the dispatcher.
type workspaceLimiter struct {
	mu    sync.Mutex
	limit int64
	sems  map[string]*semaphore.Weighted
}

func newWorkspaceLimiter(limit int64) *workspaceLimiter {
	return &workspaceLimiter{
		limit: limit,
		sems:  map[string]*semaphore.Weighted{},
	}
}

// get returns the workspace's semaphore, creating it on first use.
func (l *workspaceLimiter) get(workspaceID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[workspaceID]
	if !ok {
		sem = semaphore.NewWeighted(l.limit)
		l.sems[workspaceID] = sem
	}
	return sem
}
