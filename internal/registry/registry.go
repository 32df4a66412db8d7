// Package registry is the daemon-wide table of open sessions, grounded on
// the teacher's internal/relay/wing_map.go WingMap: a single RWMutex guarding
// a plain map, register/deregister/locate. Here the table is double-indexed
// (by name and by directory) because spec.md enforces at most one session
// per directory.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ehrlich-b/wormhole/internal/session"
)

// ErrSessionExists is returned by Open when either the requested name or the
// requested directory is already in use.
var ErrSessionExists = errors.New("registry: session already exists")

// ErrSessionNotFound is returned by Close/Get when name has no open session.
var ErrSessionNotFound = errors.New("registry: session not found")

// Factory constructs the Session for a newly allocated (name, directory)
// pair. Kept as an injected function so Registry itself stays free of
// driver/config concerns — Open just enforces the uniqueness invariants and
// delegates construction.
type Factory func(name, directory string) (*session.Session, error)

// Registry is the global, double-indexed session table.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*session.Session
	byDir      map[string]*session.Session
	newFactory Factory
}

func New(factory Factory) *Registry {
	return &Registry{
		byName:     make(map[string]*session.Session),
		byDir:      make(map[string]*session.Session),
		newFactory: factory,
	}
}

// Open allocates a new session for directory, under name if given or an
// auto-generated "<basename(dir)>-<4 hex chars>" otherwise. Both uniqueness
// checks and table insertion happen under the same write lock, so a
// concurrent Open racing for the same directory can never both succeed.
func (r *Registry) Open(name, directory string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		var err error
		name, err = r.generateName(directory)
		if err != nil {
			return nil, fmt.Errorf("registry: generate name: %w", err)
		}
	}

	if _, taken := r.byName[name]; taken {
		return nil, ErrSessionExists
	}
	if _, taken := r.byDir[directory]; taken {
		return nil, ErrSessionExists
	}

	sess, err := r.newFactory(name, directory)
	if err != nil {
		return nil, fmt.Errorf("registry: construct session: %w", err)
	}

	r.byName[name] = sess
	r.byDir[directory] = sess
	return sess, nil
}

// generateName must be called with r.mu already held.
func (r *Registry) generateName(directory string) (string, error) {
	base := filepath.Base(directory)
	for attempt := 0; attempt < 16; attempt++ {
		candidate := base + "-" + uuid.New().String()[:4]
		if _, taken := r.byName[candidate]; !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("registry: could not generate a unique name for %q", directory)
}

// Close tears a session down and removes it from both indexes.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	sess, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.byName, name)
	delete(r.byDir, sess.Directory())
	r.mu.Unlock()

	return sess.Close()
}

// Get looks a session up by name. Satisfies hub.SessionProvider.
func (r *Registry) Get(name string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byName[name]
	return sess, ok
}

// GetByDirectory looks a session up by its bound working directory.
func (r *Registry) GetByDirectory(directory string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byDir[directory]
	return sess, ok
}

// List snapshots every open session. Satisfies hub.SessionProvider.
func (r *Registry) List() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.byName))
	for _, sess := range r.byName {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of currently open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
