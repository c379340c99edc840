package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dqx0.com/go/hyperws/internal/obs"
)

// Version is reported in the default server banner.
const Version = "1.0.0"

// Handler receives every request the server reads. It fills in
// c.Response before returning; a non-nil error (or a panic) is reported to
// the server's ErrorHandler.
type Handler interface {
	ServeHTTP(c *Context) error
}

type HandlerFunc func(c *Context) error

func (f HandlerFunc) ServeHTTP(c *Context) error {
	return f(c)
}

var notFoundHandler = HandlerFunc(func(c *Context) error {
	_ = c.Response.SetStatus(404)
	_, err := c.Response.WriteString("not found")
	return err
})

// Server is an HTTP/1.1 server over raw TCP. Configure it through the
// exported fields before Start; zero values select the defaults below.
type Server struct {
	// Addr is the endpoint to bind. Port 0 lets the OS choose; see Endpoint
	// for the bound address. Default "127.0.0.1:0".
	Addr    string
	Handler Handler
	// ErrorHandler is told about handler errors, panics and timeouts. It
	// returns true when it has dealt with the error, which suppresses the
	// default 500 reply. ctx is nil for a timeout outside any exchange.
	ErrorHandler func(ctx *Context, err error) bool
	// StateHandler is called on every lifecycle transition. It must not
	// call Start, Stop or Dispose.
	StateHandler func(from, to State)

	ReadBufferSize  int           // default 4096
	WriteBufferSize int           // default 4096
	ReadTimeout     time.Duration // default 30s; negative disables
	WriteTimeout    time.Duration // default 90s; negative disables
	ShutdownTimeout time.Duration // default 30s
	MaxHeaderBytes  int           // default 64 KiB
	MaxBodyBytes    int64         // 0 means unlimited
	// Banner is sent as the Server header. Default "HyperWS/<Version>".
	Banner string
	// AcceptRate limits new connections per second when positive, with
	// bursts of up to AcceptBurst (default 1).
	AcceptRate  float64
	AcceptBurst int

	Logger Logger
	Meter  Meter

	mu         sync.Mutex
	state      atomic.Int32
	disposed   bool
	ln         net.Listener
	endpoint   atomic.Value // net.Addr
	clients    *registry
	timeouts   *timeoutManager
	stopAccept context.CancelFunc
	acceptDone chan struct{}
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Endpoint returns the address the server is bound to, or nil before the
// first successful Start.
func (s *Server) Endpoint() net.Addr {
	a, _ := s.endpoint.Load().(net.Addr)
	return a
}

// Start binds the listener and begins accepting connections. It is only
// valid while Stopped. A bind failure is returned as a *ServerError and
// leaves the server Stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyState(StateStopped); err != nil {
		return err
	}
	s.setState(StateStarting)
	addr := s.addr()
	s.logf(LevelInfo, "starting HTTP server at %s", addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		s.logf(LevelError, "failed to start HTTP server: %v", err)
		return &ServerError{Op: "start", Addr: addr, Err: err}
	}
	s.ln = ln
	s.endpoint.Store(ln.Addr())
	s.clients = newRegistry()
	s.timeouts = newTimeoutManager(s.clients, sweepInterval(s.readTimeout(), s.writeTimeout()))
	s.timeouts.start()

	var limiter *rate.Limiter
	if s.AcceptRate > 0 {
		burst := s.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.AcceptRate), burst)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopAccept = cancel
	s.acceptDone = make(chan struct{})

	s.logf(LevelInfo, "HTTP server running at %s", ln.Addr())
	s.setState(StateStarted)
	go s.acceptLoop(ctx, ln, s.clients, limiter, s.acceptDone)
	return nil
}

// Stop stops accepting, closes every connection gracefully and waits for
// them to go. Connections still open after ShutdownTimeout are aborted.
// Stop does not return while any connection remains open, and the server
// always ends up Stopped; a failure to close the listener is returned as a
// *ServerError.
func (s *Server) Stop() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.verifyState(StateStarted); err != nil {
		return err
	}
	s.logf(LevelInfo, "stopping HTTP server")
	s.setState(StateStopping)
	defer func() {
		s.ln = nil
		s.setState(StateStopped)
		s.logf(LevelInfo, "stopped HTTP server")
	}()

	s.stopAccept()
	if cerr := s.ln.Close(); cerr != nil {
		s.logf(LevelError, "failed to stop HTTP server: %v", cerr)
		err = &ServerError{Op: "stop", Addr: s.ln.Addr().String(), Err: cerr}
	}
	<-s.acceptDone
	s.stopClients()
	s.timeouts.close()
	return err
}

// Dispose stops the server if it is running and releases its background
// resources. It is idempotent.
func (s *Server) Dispose() error {
	var err error
	if s.State() == StateStarted {
		if serr := s.Stop(); serr != nil && !errors.Is(serr, ErrInvalidState) {
			err = serr
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return err
	}
	s.disposed = true
	if s.timeouts != nil {
		s.timeouts.close()
	}
	return err
}

// Run starts the server, blocks until ctx is done and then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// stopClients runs the two-phase shutdown: ask every connection to close
// after its current exchange, wait up to ShutdownTimeout for them to go,
// then abort the rest and wait for them to deregister.
func (s *Server) stopClients() {
	for _, c := range s.clients.snapshot() {
		c.RequestClose()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if s.clients.waitEmpty(ctx) {
		return
	}
	stragglers := s.clients.snapshot()
	s.logf(LevelWarn, "shutdown timeout elapsed; aborting %d connection(s)", len(stragglers))
	for _, c := range stragglers {
		c.ForceClose()
	}
	s.clients.waitEmpty(context.Background())
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, reg *registry, limiter *rate.Limiter, done chan struct{}) {
	defer close(done)
	var tempDelay time.Duration
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		rw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := time.Second; tempDelay > max {
				tempDelay = max
			}
			s.logf(LevelWarn, "failed to accept TCP client: %v; retrying in %v", err, tempDelay)
			select {
			case <-time.After(tempDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		tempDelay = 0

		// Shutdown may have begun while Accept was pending.
		if s.State() != StateStarted {
			_ = rw.Close()
			continue
		}
		c := newConn(s, reg, rw)
		reg.add(c)
		s.meter().Counter(metricAccepted, 1)
		s.logf(LevelDebug, "accepted connection %s from %s", c.id, c.remote)
		go c.serve()
	}
}

// raiseUnhandled reports err to the ErrorHandler and returns whether it was
// handled.
func (s *Server) raiseUnhandled(ctx *Context, err error) bool {
	if s.ErrorHandler != nil && s.ErrorHandler(ctx, err) {
		s.logf(LevelDebug, "handled error: %v", err)
		return true
	}
	if ctx != nil && ctx.Request != nil {
		s.logf(LevelError, "unhandled error for %s %s: %v", ctx.Request.Method, ctx.Request.Path, err)
	} else {
		s.logf(LevelError, "unhandled error: %v", err)
	}
	return false
}

func (s *Server) verifyState(want State) error {
	if s.disposed {
		return ErrDisposed
	}
	if cur := s.State(); cur != want {
		return fmt.Errorf("%w: expected server to be %s, is %s", ErrInvalidState, want, cur)
	}
	return nil
}

func (s *Server) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to && s.StateHandler != nil {
		s.StateHandler(from, to)
	}
}

func (s *Server) logf(level LogLevel, format string, args ...interface{}) {
	l := s.Logger
	if l == nil {
		return
	}
	l.Logf(level, logModule, format, args...)
}

func (s *Server) meter() Meter {
	if s.Meter == nil {
		return obs.NopMeter{}
	}
	return s.Meter
}

func (s *Server) addr() string {
	if s.Addr == "" {
		return "127.0.0.1:0"
	}
	return s.Addr
}

func (s *Server) readBufferSize() int {
	if s.ReadBufferSize <= 0 {
		return 4096
	}
	return s.ReadBufferSize
}

func (s *Server) writeBufferSize() int {
	if s.WriteBufferSize <= 0 {
		return 4096
	}
	return s.WriteBufferSize
}

func (s *Server) maxHeaderBytes() int {
	if s.MaxHeaderBytes <= 0 {
		return 64 << 10
	}
	return s.MaxHeaderBytes
}

// readTimeout returns 0 when read timeouts are disabled.
func (s *Server) readTimeout() time.Duration {
	switch {
	case s.ReadTimeout < 0:
		return 0
	case s.ReadTimeout == 0:
		return 30 * time.Second
	}
	return s.ReadTimeout
}

func (s *Server) writeTimeout() time.Duration {
	switch {
	case s.WriteTimeout < 0:
		return 0
	case s.WriteTimeout == 0:
		return 90 * time.Second
	}
	return s.WriteTimeout
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return s.ShutdownTimeout
}

func (s *Server) banner() string {
	if s.Banner == "" {
		return "HyperWS/" + Version
	}
	return s.Banner
}
