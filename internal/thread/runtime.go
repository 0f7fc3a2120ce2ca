package thread

import (
	"sync"

	"Minerva/internal/models"
	"Minerva/pkg/util"
)

// Runtime is the in-process layer of the thread discovery chain: a bounded
// LRU of recently active threads plus one mutex per project. The mutex is
// what serializes appends to a thread inside this process; cross-process
// races are caught by the optimistic lock in the store.
type Runtime struct {
	mu      sync.Mutex
	threads *util.LRUCache[string, *models.ProjectThread]
	locks   map[string]*sync.Mutex
}

// NewRuntime creates a Runtime holding at most capacity threads.
func NewRuntime(capacity int) (*Runtime, error) {
	cache, err := util.NewLRUCache[string, *models.ProjectThread](util.CacheConfig{Capacity: capacity})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		threads: cache,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Lock returns the append mutex of a project, creating it on first use.
// Lock entries are never evicted with their thread: a mutex is tiny and a
// project may re-enter the LRU at any time.
func (r *Runtime) Lock(projectID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[projectID] = lock
	}
	return lock
}

// Get returns the in-memory thread of a project, if resident.
func (r *Runtime) Get(projectID string) (*models.ProjectThread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threads.Get(projectID)
}

// Put makes a thread resident, possibly evicting the least recently used.
func (r *Runtime) Put(t *models.ProjectThread) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads.Put(t.ProjectID, t)
}

// Evict drops a project's thread from memory. Used after truncation.
func (r *Runtime) Evict(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads.Remove(projectID)
}

// Resident returns the project IDs currently in memory, most recent first.
func (r *Runtime) Resident() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threads.Keys()
}
