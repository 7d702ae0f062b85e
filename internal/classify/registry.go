package classify

import (
	"sync"
)

// Registry tracks every pending task of the running test so that a test
// abort can force-cancel them. Abort signals may arrive from another
// goroutine, hence the mutex.
type Registry struct {
	mu    sync.Mutex
	tasks map[*Task]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[*Task]struct{}),
	}
}

func (r *Registry) add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[t] = struct{}{}
}

func (r *Registry) remove(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tasks, t)
}

// CancelAll cancels and forgets every registered task, returning how many
// were still pending.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	tasks := make([]*Task, 0, len(r.tasks))
	for t := range r.tasks {
		tasks = append(tasks, t)
	}
	clear(r.tasks)
	r.mu.Unlock()

	cancelled := 0

	for _, t := range tasks {
		if t.Cancel() {
			cancelled++
		}
	}

	return cancelled
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks)
}
