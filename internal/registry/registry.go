// Package registry tracks the live transport handle of every connected identity.
package registry

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrNotFound   = errors.New("connection not found")
	ErrSendFailed = errors.New("send failed")
)

// Conn is a transport handle. Send must not block for longer than the
// transport's own bounded write budget.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Registry maps identities to their single live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register installs c for identity. An existing connection is closed first and
// replaced is true.
func (r *Registry) Register(identity string, c Conn) (replaced bool) {
	r.mu.Lock()
	old, ok := r.conns[identity]
	r.conns[identity] = c
	r.mu.Unlock()

	if ok && old != c {
		if err := old.Close(); err != nil {
			slog.Debug("registry: close replaced connection", "identity", identity, "err", err)
		}
		slog.Info("registry: connection replaced", "identity", identity)
		return true
	}
	return false
}

// Unregister removes identity and returns the handle that was installed.
func (r *Registry) Unregister(identity string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[identity]
	if !ok {
		return nil, false
	}
	delete(r.conns, identity)
	return c, true
}

// Release removes identity only while it still maps to c.
func (r *Registry) Release(identity string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[identity]
	if !ok || cur != c {
		return false
	}
	delete(r.conns, identity)
	return true
}

func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[identity]
	return c, ok
}

// Send delivers payload to identity. A transport failure evicts and closes the
// connection and is reported as ErrSendFailed.
func (r *Registry) Send(identity string, payload []byte) error {
	c, ok := r.Lookup(identity)
	if !ok {
		return ErrNotFound
	}
	if err := c.Send(payload); err != nil {
		slog.Warn("registry: send failed, dropping connection", "identity", identity, "err", err)
		r.evict(identity, c)
		return ErrSendFailed
	}
	return nil
}

// Broadcast sends payload to every identity except exclude and returns the
// number of successful deliveries.
func (r *Registry) Broadcast(identities []string, payload []byte, exclude string) int {
	delivered := 0
	for _, id := range identities {
		if id == exclude {
			continue
		}
		if r.Send(id, payload) == nil {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) evict(identity string, c Conn) {
	if r.Release(identity, c) {
		_ = c.Close()
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
