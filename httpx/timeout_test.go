package httpx

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dqx0.com/go/hyperws/internal/obs"
)

func TestSweepInterval(t *testing.T) {
	cases := []struct {
		name     string
		timeouts []time.Duration
		want     time.Duration
	}{
		{"none", nil, time.Second},
		{"disabled", []time.Duration{-1, 0}, time.Second},
		{"long", []time.Duration{30 * time.Second, 90 * time.Second}, time.Second},
		{"shortest wins", []time.Duration{400 * time.Millisecond, 2 * time.Second}, 100 * time.Millisecond},
		{"floor", []time.Duration{time.Millisecond}, 5 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sweepInterval(tc.timeouts...))
		})
	}
}

func pipeConn(t *testing.T, s *Server, reg *registry) *conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	c := newConn(s, reg, a)
	reg.add(c)
	return c
}

func TestSweepAbortsExpired(t *testing.T) {
	m := &obs.MemMeter{}
	var reported []error
	s := &Server{Meter: m, ErrorHandler: func(ctx *Context, err error) bool {
		assert.Nil(t, ctx)
		reported = append(reported, err)
		return true
	}}
	reg := newRegistry()
	idle := pipeConn(t, s, reg)
	reading := pipeConn(t, s, reg)
	writing := pipeConn(t, s, reg)

	now := time.Now()
	reading.readDeadline.Store(now.Add(-time.Millisecond).UnixNano())
	writing.writeDeadline.Store(now.Add(-time.Millisecond).UnixNano())
	idle.readDeadline.Store(now.Add(time.Minute).UnixNano())

	m2 := newTimeoutManager(reg, time.Hour)
	require.Equal(t, 2, m2.sweep(now))
	assert.ElementsMatch(t, []error{ErrReadTimeout, ErrWriteTimeout}, reported)
	assert.Equal(t, []*conn{idle}, reg.snapshot())
	assert.True(t, reading.aborted.Load())
	assert.True(t, writing.aborted.Load())
	assert.Equal(t, float64(2), m.Count(metricTimeouts))
	assert.Equal(t, float64(2), m.Count(metricAborted))

	// Aborted connections are gone; nothing left to expire.
	assert.Zero(t, m2.sweep(now))
}

func TestTimeoutManagerClose(t *testing.T) {
	m := newTimeoutManager(newRegistry(), 5*time.Millisecond)
	m.start()
	time.Sleep(20 * time.Millisecond)
	m.close()
	m.close()
	select {
	case <-m.done:
	default:
		t.Fatal("sweep goroutine still running")
	}
}
