package httpx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dqx0.com/go/hyperws/httpx/internal/http1"
)

var aLongTimeAgo = time.Unix(1, 0)

// conn drives one accepted socket through
// AwaitingRequest -> ParsingHeaders -> ParsingBody -> Dispatching ->
// WritingResponse, looping back for keep-alive or ending in Closed.
// Requests on a connection are strictly sequential.
type conn struct {
	id     string
	srv    *Server
	reg    *registry
	rwc    net.Conn
	remote string

	rbuf   *http1.ReadBuffer
	bw     *bufio.Writer
	parser http1.Parser
	head   *http1.RequestHead
	body   *bytes.Buffer

	baseCtx context.Context
	cancel  context.CancelFunc

	mu             sync.Mutex
	state          connState
	closeRequested bool

	current       atomic.Pointer[Context]
	aborted       atomic.Bool
	readDeadline  atomic.Int64
	writeDeadline atomic.Int64
	lastActivity  atomic.Int64
	closeOnce     sync.Once
}

func newConn(s *Server, reg *registry, rwc net.Conn) *conn {
	c := &conn{
		id:     newID(),
		srv:    s,
		reg:    reg,
		rwc:    rwc,
		remote: rwc.RemoteAddr().String(),
		rbuf:   http1.NewReadBuffer(s.readBufferSize()),
	}
	c.bw = bufio.NewWriterSize(timedWriter{c}, s.writeBufferSize())
	c.baseCtx, c.cancel = context.WithCancel(WithConnID(context.Background(), c.id))
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// timedWriter arms the connection's write deadline around each socket write.
type timedWriter struct{ c *conn }

func (w timedWriter) Write(p []byte) (int, error) {
	c := w.c
	if d := c.srv.writeTimeout(); d > 0 {
		c.writeDeadline.Store(time.Now().Add(d).UnixNano())
	}
	n, err := c.rwc.Write(p)
	c.writeDeadline.Store(0)
	if n > 0 {
		c.lastActivity.Store(time.Now().UnixNano())
	}
	if err != nil && c.aborted.Load() {
		return n, net.ErrClosed
	}
	return n, err
}

// fill reads once from the socket into the read buffer, with the read
// deadline armed for the duration of the read.
func (c *conn) fill() (int, error) {
	if d := c.srv.readTimeout(); d > 0 {
		c.readDeadline.Store(time.Now().Add(d).UnixNano())
	}
	n, err := c.rbuf.Fill(c.rwc)
	c.readDeadline.Store(0)
	if n > 0 {
		c.lastActivity.Store(time.Now().UnixNano())
	}
	if errors.Is(err, io.ErrShortBuffer) {
		err = http1.ErrLineTooLong
	}
	return n, err
}

func (c *conn) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeRequested
}

// RequestClose asks the connection to close once its current exchange is
// done. A connection idle between requests is interrupted right away.
func (c *conn) RequestClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRequested = true
	if c.state == stateAwaitingRequest {
		_ = c.rwc.SetReadDeadline(aLongTimeAgo)
	}
}

// ForceClose aborts the socket whatever the connection is doing and
// removes it from the registry.
func (c *conn) ForceClose() {
	if c.aborted.Swap(true) {
		return
	}
	if tc, ok := c.rwc.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	c.close()
	c.unregister()
	c.srv.meter().Counter(metricAborted, 1)
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.rwc.Close()
	})
}

// expired reports the timeout a connection has overrun, if any.
func (c *conn) expired(now time.Time) error {
	t := now.UnixNano()
	if d := c.readDeadline.Load(); d != 0 && t > d {
		return ErrReadTimeout
	}
	if d := c.writeDeadline.Load(); d != 0 && t > d {
		return ErrWriteTimeout
	}
	return nil
}

// timeout aborts the connection and reports err as an unhandled condition.
func (c *conn) timeout(err error) {
	if c.aborted.Load() {
		return
	}
	idle := time.Since(time.Unix(0, c.lastActivity.Load())).Round(time.Millisecond)
	c.srv.logf(LevelWarn, "connection %s from %s: %v after %s without progress", c.id, c.remote, err, idle)
	c.srv.meter().Counter(metricTimeouts, 1)
	c.ForceClose()
	c.srv.raiseUnhandled(c.current.Load(), err)
}

func (c *conn) serve() {
	defer c.finish()
	for {
		if !c.awaitRequest() {
			return
		}
		ctx, err := c.readRequest()
		if err != nil {
			c.rejectRequest(err)
			return
		}
		c.current.Store(ctx)
		start := time.Now()
		c.dispatch(ctx)

		c.setState(stateWritingResponse)
		resp := ctx.Response
		err = resp.finish()
		c.observe(ctx, start)
		if err != nil {
			c.srv.logf(LevelDebug, "connection %s: write response: %v", c.id, err)
			return
		}
		if !resp.KeepAlive() || c.aborted.Load() {
			return
		}
		if err := c.reset(); err != nil {
			c.srv.logf(LevelError, "connection %s: %v", c.id, err)
			return
		}
	}
}

// awaitRequest waits for the first byte of the next request. It returns
// false when the connection should close instead: the peer went away, the
// server asked it to close, or it was aborted.
func (c *conn) awaitRequest() bool {
	c.mu.Lock()
	c.state = stateAwaitingRequest
	closing := c.closeRequested
	c.mu.Unlock()
	if closing || c.aborted.Load() {
		return false
	}
	if c.rbuf.Len() == 0 {
		if _, err := c.fill(); err != nil {
			if !errors.Is(err, io.EOF) && !c.closing() && !c.aborted.Load() {
				c.srv.logf(LevelDebug, "connection %s: read: %v", c.id, err)
			}
			return false
		}
	}
	c.mu.Lock()
	c.state = stateParsingHeaders
	closing = c.closeRequested
	c.mu.Unlock()
	if closing {
		// RequestClose may have interrupted the read just as bytes arrived;
		// the exchange now in progress gets to finish.
		_ = c.rwc.SetReadDeadline(time.Time{})
	}
	return true
}

func (c *conn) limits() http1.Limits {
	return http1.Limits{MaxHeaderBytes: c.srv.maxHeaderBytes(), MaxBodyBytes: c.srv.MaxBodyBytes}
}

// readRequest runs the header parser and then the body parser it selects,
// feeding both from the read buffer until each completes.
func (c *conn) readRequest() (*Context, error) {
	c.parser = http1.NewHeaderParser(c.limits())
	c.head = nil
	c.body = new(bytes.Buffer)
	if err := c.advance(); err != nil {
		return nil, err
	}
	head := c.parser.Head()
	c.head = head
	kind, n, err := head.Framing()
	if err != nil {
		return nil, err
	}
	if max := c.srv.MaxBodyBytes; max > 0 && n > max {
		return nil, http1.ErrBodyTooLarge
	}
	if head.Proto == "HTTP/1.1" && head.HasToken("Expect", "100-continue") && n != 0 {
		if err := http1.WriteContinue(c.bw); err != nil {
			return nil, err
		}
		if err := c.bw.Flush(); err != nil {
			return nil, err
		}
	}

	c.setState(stateParsingBody)
	c.parser = http1.NewBodyParser(kind, n, c.limits())
	if err := c.advance(); err != nil {
		return nil, err
	}
	return c.newContext(head, kind)
}

// advance feeds the active parser until it completes, reading more bytes
// whenever it runs dry.
func (c *conn) advance() error {
	eof := false
	for {
		st, err := c.parser.Advance(c.rbuf, c.body)
		if err != nil {
			return err
		}
		if st == http1.Complete {
			return nil
		}
		if eof {
			_, err := c.parser.AdvanceEOF()
			return err
		}
		if _, err := c.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				eof = true
				continue
			}
			return err
		}
	}
}

func (c *conn) newContext(head *http1.RequestHead, kind http1.Kind) (*Context, error) {
	path, rawQuery, err := splitTarget(head.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", http1.ErrMalformedRequest, err)
	}
	req := &Request{
		Method:        head.Method,
		Target:        head.Target,
		Path:          path,
		RawQuery:      rawQuery,
		Proto:         head.Proto,
		Header:        headerFrom(head.Fields),
		Body:          bytes.NewReader(c.body.Bytes()),
		ContentLength: int64(c.body.Len()),
		RemoteAddr:    c.remote,
		ID:            newID(),
		ConnID:        c.id,
	}
	req.Trace = traceForRequest(&req.Header)
	req.ctx = WithTrace(WithRequestID(c.baseCtx, req.ID), req.Trace)

	keepAlive := head.KeepAlive() && kind != http1.KindUnknownLength
	return &Context{
		Request:  req,
		Response: newResponse(c, head.Method, head.Proto, keepAlive),
	}, nil
}

func (c *conn) dispatch(ctx *Context) {
	c.setState(stateDispatching)
	err := c.srv.invoke(ctx)
	if err == nil {
		return
	}
	if c.srv.raiseUnhandled(ctx, err) {
		return
	}
	ctx.Response.fail(500)
}

// rejectRequest answers a request that could not be read, when there is
// still a client to answer, and leaves the connection to close.
func (c *conn) rejectRequest(err error) {
	status, ok := statusForError(err)
	if !ok {
		if !c.aborted.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			c.srv.logf(LevelDebug, "connection %s: read request: %v", c.id, err)
		}
		return
	}
	c.srv.logf(LevelDebug, "connection %s: bad request: %v", c.id, err)
	proto := "HTTP/1.1"
	method := ""
	if c.head != nil {
		proto, method = c.head.Proto, c.head.Method
	}
	c.setState(stateWritingResponse)
	resp := newResponse(c, method, proto, false)
	resp.fail(status)
	_ = resp.finish()
	c.srv.meter().Counter(metricRequests, 1, MetricLabel{Key: "status", Value: strconv.Itoa(status)})
}

func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, http1.ErrRequestLineTooLong):
		return 414, true
	case errors.Is(err, http1.ErrHeaderTooLarge), errors.Is(err, http1.ErrLineTooLong):
		return 431, true
	case errors.Is(err, http1.ErrUnsupportedCoding):
		return 501, true
	case errors.Is(err, http1.ErrBodyTooLarge):
		return 413, true
	case errors.Is(err, http1.ErrMalformedRequest),
		errors.Is(err, http1.ErrFramingConflict),
		errors.Is(err, http1.ErrChunkFormat):
		return 400, true
	}
	return 0, false
}

// reset prepares the connection for the next request on the same socket.
func (c *conn) reset() error {
	if c.parser.Kind() == http1.KindUnknownLength {
		return ErrConnectionReuse
	}
	c.current.Store(nil)
	c.parser = http1.NewHeaderParser(c.limits())
	c.head = nil
	c.body = nil
	return nil
}

func (c *conn) observe(ctx *Context, start time.Time) {
	m := c.srv.meter()
	status := strconv.Itoa(ctx.Response.StatusCode())
	m.Counter(metricRequests, 1, MetricLabel{Key: "status", Value: status})
	m.Histogram(metricDuration, time.Since(start).Seconds(), MetricLabel{Key: "method", Value: ctx.Request.Method})
}

func (c *conn) finish() {
	c.setState(stateClosed)
	c.current.Store(nil)
	c.close()
	c.unregister()
}

// unregister removes the connection from the server's registry. Only the
// first call has any effect.
func (c *conn) unregister() {
	if c.reg.remove(c) {
		c.srv.logf(LevelDebug, "connection %s from %s unregistered", c.id, c.remote)
		c.srv.meter().Counter(metricClosed, 1)
	}
}

// invoke runs the handler, turning a panic into an error.
func (s *Server) invoke(ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logf(LevelError, "handler panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	h := s.Handler
	if h == nil {
		h = notFoundHandler
	}
	return h.ServeHTTP(ctx)
}
