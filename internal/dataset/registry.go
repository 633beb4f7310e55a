package dataset

import (
	"sync"
)

// Registry holds the single current dataset shared by the ingestion path and the control path.
// It is a plain mutex-guarded cell; callers take a snapshot with Current before doing I/O.
type Registry struct {
	current *Dataset
	factory func() Dataset
	mutex   sync.Mutex
}

// NewRegistry creates a registry whose first Current call yields factory's dataset.
func NewRegistry(factory func() Dataset) *Registry {
	if factory == nil {
		factory = func() Dataset { return Dataset{} }
	}
	return &Registry{factory: factory}
}

func (r *Registry) Current() Dataset {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.current == nil {
		d := r.factory()
		r.current = &d
	}
	return *r.current
}

func (r *Registry) SetCurrent(d Dataset) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.current = &d
}

// Update applies fn to the current dataset under the lock.
func (r *Registry) Update(fn func(Dataset) Dataset) Dataset {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.current == nil {
		d := r.factory()
		r.current = &d
	}
	next := fn(*r.current)
	r.current = &next
	return next
}
