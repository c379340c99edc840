package httpx

import (
	"sync"
	"time"
)

// timeoutManager periodically sweeps the registry and aborts connections
// whose read or write deadline has passed. Connections arm a deadline
// before each blocking socket operation and clear it when the operation
// returns, so a deadline only ever covers time spent waiting on the peer.
type timeoutManager struct {
	clients  *registry
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newTimeoutManager(clients *registry, interval time.Duration) *timeoutManager {
	return &timeoutManager{
		clients:  clients,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// sweepInterval picks a tick fine enough to enforce the shortest timeout
// with reasonable precision.
func sweepInterval(timeouts ...time.Duration) time.Duration {
	d := time.Second
	for _, t := range timeouts {
		if t > 0 && t/4 < d {
			d = t / 4
		}
	}
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	return d
}

func (m *timeoutManager) start() {
	go m.run()
}

func (m *timeoutManager) run() {
	defer close(m.done)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-t.C:
			m.sweep(now)
		}
	}
}

// sweep aborts every expired connection and returns how many it aborted.
func (m *timeoutManager) sweep(now time.Time) int {
	n := 0
	for _, c := range m.clients.snapshot() {
		if err := c.expired(now); err != nil {
			c.timeout(err)
			n++
		}
	}
	return n
}

// close stops the sweep and waits for it to exit. It is idempotent.
func (m *timeoutManager) close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
}
