// Package registry tracks the live WebSocket connections of a single hub
// process and the user identity each one is bound to.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"sync"
)

var (
	// ErrDuplicateConnection is returned by Attach when a connection with the
	// same resource id is already registered.
	ErrDuplicateConnection = errors.New("connection already attached")
	// ErrUserLimit is returned by AttachLimited when the user already holds
	// the maximum number of connections.
	ErrUserLimit = errors.New("too many connections for user")
)

// Transport is the write side of a connection. Implementations must be safe
// for concurrent use.
type Transport interface {
	WriteText(data []byte) error
	Close() error
}

// Conn is one live connection. UserID is bound when the connection is opened
// and never changes afterwards.
type Conn struct {
	ID        string
	UserID    string
	Transport Transport
}

// Send writes one text frame to the connection.
func (c *Conn) Send(data []byte) error {
	return c.Transport.WriteText(data)
}

// Registry is the set of live connections. A user may hold several
// connections at once (one per device or tab).
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Conn
	byUser map[string]map[string]*Conn
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
	}
}

// Attach adds a connection.
func (r *Registry) Attach(c *Conn) error {
	_, err := r.AttachLimited(c, 0)
	return err
}

// AttachLimited adds a connection unless its user already holds limit
// connections. A limit of zero or less means no limit. It returns the number
// of connections the user holds after the attach.
func (r *Registry) AttachLimited(c *Conn, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateConnection, c.ID)
	}
	conns := r.byUser[c.UserID]
	if limit > 0 && len(conns) >= limit {
		return len(conns), fmt.Errorf("%w: limit %d", ErrUserLimit, limit)
	}
	if conns == nil {
		conns = make(map[string]*Conn)
		r.byUser[c.UserID] = conns
	}
	r.byID[c.ID] = c
	conns[c.ID] = c
	return len(conns), nil
}

// Detach removes a connection and reports whether it was present.
func (r *Registry) Detach(c *Conn) bool {
	removed, _ := r.DetachCount(c)
	return removed
}

// DetachCount removes a connection. It reports whether the connection was
// present and how many connections its user still holds.
func (r *Registry) DetachCount(c *Conn) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID]; !ok {
		return false, len(r.byUser[c.UserID])
	}
	delete(r.byID, c.ID)
	conns := r.byUser[c.UserID]
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(r.byUser, c.UserID)
	}
	return true, len(conns)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountByUser returns the number of live connections bound to userID.
func (r *Registry) CountByUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// ByUser returns a snapshot of the connections bound to userID.
func (r *Registry) ByUser(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// ForEach calls action for every connection matching pred. It iterates over a
// snapshot taken under the read lock, so action may block or call back into
// the registry. A nil pred matches every connection.
func (r *Registry) ForEach(pred func(*Conn) bool, action func(*Conn)) {
	for _, c := range r.snapshot() {
		if pred == nil || pred(c) {
			action(c)
		}
	}
}

// All returns an iterator over the live connections. Each iteration works on
// a fresh snapshot, so the sequence can be ranged over more than once.
func (r *Registry) All() iter.Seq[*Conn] {
	return func(yield func(*Conn) bool) {
		for _, c := range r.snapshot() {
			if !yield(c) {
				return
			}
		}
	}
}
