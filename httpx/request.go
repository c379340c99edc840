package httpx

import (
	"context"
	"io"
	"net/url"
	"strings"
)

// Request is an HTTP request read from a connection. The body has been
// received in full before the request reaches a Handler.
type Request struct {
	Method string
	// Target is the raw request-target from the request line.
	Target string
	Path   string
	// RawQuery is the query string without the leading '?'.
	RawQuery string
	Proto    string
	Header   Header
	Body     io.Reader
	// ContentLength is the number of body bytes received.
	ContentLength int64
	RemoteAddr    string
	// ID identifies this request; ConnID the connection it arrived on.
	ID     string
	ConnID string
	Trace  Trace

	ctx   context.Context
	query url.Values
}

// Context returns the request's context. It is cancelled when the
// connection closes.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Query parses RawQuery. Malformed pairs are dropped.
func (r *Request) Query() url.Values {
	if r.query == nil {
		r.query, _ = url.ParseQuery(r.RawQuery)
	}
	return r.query
}

// splitTarget resolves the request-target into path and query. Absolute
// form targets are accepted and reduced to their path.
func splitTarget(target string) (path, rawQuery string, err error) {
	if target == "*" {
		return "*", "", nil
	}
	var u *url.URL
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err = url.Parse(target)
	} else {
		u, err = url.ParseRequestURI(target)
	}
	if err != nil {
		return "", "", err
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return path, u.RawQuery, nil
}
