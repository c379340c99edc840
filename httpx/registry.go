package httpx

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// registry is the set of live connections. Membership changes happen under
// mu and each one wakes anything blocked in waitEmpty; readers that only
// iterate (the timeout sweep, shutdown snapshots) range the map without
// taking mu.
type registry struct {
	mu      sync.Mutex
	conns   *xsync.MapOf[*conn, struct{}]
	changed chan struct{}
}

func newRegistry() *registry {
	return &registry{
		conns:   xsync.NewMapOf[*conn, struct{}](),
		changed: make(chan struct{}),
	}
}

func (r *registry) add(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns.Store(c, struct{}{})
	r.signal()
}

// remove reports whether c was a member. Removing a connection that is not
// registered is a no-op.
func (r *registry) remove(c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns.LoadAndDelete(c); !ok {
		return false
	}
	r.signal()
	return true
}

// signal must be called with mu held.
func (r *registry) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns.Size()
}

func (r *registry) snapshot() []*conn {
	var out []*conn
	r.conns.Range(func(c *conn, _ struct{}) bool {
		out = append(out, c)
		return true
	})
	return out
}

// waitEmpty blocks until the registry is empty or ctx is done, and reports
// whether it emptied.
func (r *registry) waitEmpty(ctx context.Context) bool {
	for {
		r.mu.Lock()
		if r.conns.Size() == 0 {
			r.mu.Unlock()
			return true
		}
		ch := r.changed
		r.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return r.len() == 0
		}
	}
}
