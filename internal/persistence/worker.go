package persistence

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sleepywoodpecker/arff-collector/internal/dataset"
)

type State int

const (
	Created State = iota
	Bound
	Unbound
	Destroyed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Bound:
		return "bound"
	case Unbound:
		return "unbound"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Worker performs all dataset file operations. It serves requests only while at least one
// client is attached; detaching the last client waits for in-flight operations to finish.
type Worker struct {
	dir      string
	registry *dataset.Registry
	storage  ExternalStorage
	logger   *zap.Logger

	mutex    sync.Mutex
	idle     *sync.Cond
	state    State
	clients  map[uuid.UUID]struct{}
	inflight int

	fileLocksMutex sync.Mutex
	fileLocks      map[string]*sync.Mutex

	openAppend func(path string) (appendFile, error)
}

// appendFile is the part of *os.File that Append uses.
type appendFile interface {
	Stat() (os.FileInfo, error)
	WriteString(s string) (int, error)
	Truncate(size int64) error
	Close() error
}

func openForAppend(path string) (appendFile, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

func NewWorker(dir string, registry *dataset.Registry, storage ExternalStorage, logger *zap.Logger) (*Worker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Name: dir, Err: err}
	}
	if storage == nil {
		storage = VolumeProbe{}
	}

	w := &Worker{
		dir:       dir,
		registry:  registry,
		storage:   storage,
		logger:    logger,
		state:     Created,
		clients:   make(map[uuid.UUID]struct{}),
		fileLocks: make(map[string]*sync.Mutex),

		openAppend: openForAppend,
	}
	w.idle = sync.NewCond(&w.mutex)
	return w, nil
}

func (w *Worker) State() State {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.state
}

// Attach registers a client and moves the worker to Bound.
func (w *Worker) Attach() (uuid.UUID, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state == Destroyed {
		return uuid.Nil, ErrNotAvailable
	}

	id := uuid.New()
	w.clients[id] = struct{}{}
	if w.state != Bound {
		w.logger.Info("[worker] bound", zap.String("dir", w.dir), zap.Stringer("client", id))
	}
	w.state = Bound
	return id, nil
}

// Detach removes a client. When the last client leaves, new requests are refused and
// Detach blocks until the in-flight ones complete.
func (w *Worker) Detach(id uuid.UUID) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, ok := w.clients[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	delete(w.clients, id)
	if len(w.clients) > 0 {
		return nil
	}

	w.state = Unbound
	w.waitIdle()
	// a client may attach while in-flight requests drain
	if len(w.clients) > 0 {
		return nil
	}
	w.logger.Info("[worker] unbound", zap.String("dir", w.dir))
	return nil
}

// Destroy refuses all further requests and attachments, after in-flight ones complete.
func (w *Worker) Destroy() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.state = Destroyed
	w.clients = make(map[uuid.UUID]struct{})
	w.waitIdle()
	w.logger.Info("[worker] destroyed", zap.String("dir", w.dir))
}

// waitIdle must be called with w.mutex held.
func (w *Worker) waitIdle() {
	for w.inflight > 0 {
		w.idle.Wait()
	}
}

func (w *Worker) begin() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != Bound {
		return fmt.Errorf("%w: worker is %s", ErrNotAvailable, w.state)
	}
	w.inflight++
	return nil
}

func (w *Worker) end() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.inflight--
	if w.inflight == 0 {
		w.idle.Broadcast()
	}
}

// lockFile serializes operations on one dataset file; operations on different files run independently.
func (w *Worker) lockFile(name string) func() {
	w.fileLocksMutex.Lock()
	lock, ok := w.fileLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		w.fileLocks[name] = lock
	}
	w.fileLocksMutex.Unlock()

	lock.Lock()
	return lock.Unlock
}
