package httpx

import (
	"bufio"
	"fmt"
	"strconv"
	"time"

	"dqx0.com/go/hyperws/httpx/internal/http1"
)

const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Response is the reply a Handler builds for one request. Output is held
// back until it outgrows the connection's write buffer, so short replies go
// out with an exact Content-Length; longer ones, or ones flushed early, are
// streamed with chunked encoding (or until close for HTTP/1.0 clients).
//
// Once the head has been written the status and header are fixed.
type Response struct {
	bw      *bufio.Writer
	proto   string
	head    bool
	banner  string
	limit   int
	closing func() bool

	status    int
	header    Header
	pending   []byte
	started   bool
	finished  bool
	chunked   bool
	bodyless  bool
	declared  int64
	written   int64
	keepAlive bool
	err       error
}

func newResponse(c *conn, method, proto string, keepAlive bool) *Response {
	return &Response{
		bw:        c.bw,
		proto:     proto,
		head:      method == "HEAD",
		banner:    c.srv.banner(),
		limit:     c.srv.writeBufferSize(),
		closing:   c.closing,
		keepAlive: keepAlive,
		declared:  -1,
	}
}

// StatusCode returns the status that will be (or was) sent; 200 by default.
func (r *Response) StatusCode() int {
	if r.status == 0 {
		return 200
	}
	return r.status
}

// SetStatus sets the status code. It fails once the head has been written.
func (r *Response) SetStatus(code int) error {
	if r.started {
		return ErrHeadersSent
	}
	if code < 100 || code > 999 {
		return fmt.Errorf("httpx: invalid status code %d", code)
	}
	r.status = code
	return nil
}

// Header returns the response header. Changes after HeadersSent are ignored.
func (r *Response) Header() *Header { return &r.header }

// HeadersSent reports whether the status line and header have been written.
func (r *Response) HeadersSent() bool { return r.started }

// KeepAlive reports whether the connection will be reused after this
// response. It is final once the head has been written.
func (r *Response) KeepAlive() bool { return r.keepAlive }

func (r *Response) Write(p []byte) (int, error) {
	if r.finished {
		return 0, ErrResponseClosed
	}
	if !r.started {
		if len(r.pending)+len(p) <= r.limit {
			r.pending = append(r.pending, p...)
			return len(p), nil
		}
		if err := r.start(false); err != nil {
			return 0, err
		}
	}
	return r.writeBody(p)
}

func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Flush writes the head, if not yet written, and any buffered output to the
// client.
func (r *Response) Flush() error {
	if r.finished {
		return r.err
	}
	if err := r.start(false); err != nil {
		return err
	}
	if err := r.bw.Flush(); err != nil {
		r.err = err
	}
	return r.err
}

// Close completes the response and sends it. Writes after Close fail with
// ErrResponseClosed.
func (r *Response) Close() error {
	return r.finish()
}

func (r *Response) start(final bool) error {
	if r.started {
		return r.err
	}
	r.started = true
	status := r.StatusCode()
	h := &r.header

	if r.banner != "" && !h.Has("Server") {
		h.Set("Server", r.banner)
	}
	if !h.Has("Date") {
		h.Set("Date", time.Now().UTC().Format(dateFormat))
	}
	if h.HasToken("Connection", "close") {
		r.keepAlive = false
	}
	h.Del("Connection")
	h.Del("Transfer-Encoding")

	if http1.BodyAllowed(status) {
		n, ok := declaredLength(h)
		switch {
		case ok:
			r.declared = n
		case final:
			r.declared = int64(len(r.pending))
			h.Set("Content-Length", strconv.Itoa(len(r.pending)))
		case r.head:
			// No body follows a HEAD reply, so framing is moot.
		case r.proto == "HTTP/1.1":
			r.chunked = true
			h.Set("Transfer-Encoding", "chunked")
		default:
			r.keepAlive = false
		}
	} else {
		h.Del("Content-Length")
	}
	r.bodyless = r.head || !http1.BodyAllowed(status)

	if r.closing != nil && r.closing() {
		r.keepAlive = false
	}
	if r.keepAlive {
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Connection", "close")
	}
	h.freeze()

	if err := http1.WriteHead(r.bw, "HTTP/1.1", status, h.fields); err != nil {
		r.err = err
		return err
	}
	p := r.pending
	r.pending = nil
	if _, err := r.writeBody(p); err != nil {
		return err
	}
	return nil
}

func (r *Response) writeBody(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 || r.bodyless {
		return len(p), nil
	}
	var err error
	if r.declared >= 0 && r.written+int64(len(p)) > r.declared {
		p = p[:r.declared-r.written]
		err = ErrContentLength
	}
	var n int
	var werr error
	if r.chunked {
		n, werr = http1.WriteChunked(r.bw, p)
	} else {
		n, werr = r.bw.Write(p)
	}
	r.written += int64(n)
	if werr != nil {
		r.err = werr
		return n, werr
	}
	return n, err
}

// finish completes the exchange: writes the head if needed, terminates a
// chunked body and flushes. It is safe to call more than once.
func (r *Response) finish() error {
	if r.finished {
		return r.err
	}
	r.finished = true
	if err := r.start(true); err != nil {
		return err
	}
	if r.chunked {
		if err := http1.EndChunked(r.bw); err != nil {
			r.err = err
			return err
		}
	}
	if r.declared >= 0 && !r.bodyless && r.written != r.declared {
		r.keepAlive = false
	}
	if err := r.bw.Flush(); err != nil {
		r.err = err
	}
	if r.closing != nil && r.closing() {
		r.keepAlive = false
	}
	return r.err
}

// fail replaces whatever the handler prepared with a plain-text error reply
// when the head has not gone out yet. The connection is closed afterwards
// either way.
func (r *Response) fail(status int) {
	r.keepAlive = false
	if r.started {
		return
	}
	r.status = status
	r.header = Header{}
	r.header.Set("Content-Type", "text/plain; charset=utf-8")
	r.pending = append(r.pending[:0], fmt.Sprintf("%d %s\n", status, http1.StatusText(status))...)
}

func declaredLength(h *Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		h.Del("Content-Length")
		return 0, false
	}
	return n, true
}
