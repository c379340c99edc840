package http1

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// Field is one header line in wire order.
type Field struct {
	Name  string
	Value string
}

// RequestHead is the request line and header block parsed from the wire.
type RequestHead struct {
	Method string
	Target string
	Proto  string
	Fields []Field
}

// Get returns the first value of the named field, matched case-insensitively.
func (h *RequestHead) Get(name string) string {
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value of the named field in wire order.
func (h *RequestHead) Values(name string) []string {
	var vv []string
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			vv = append(vv, f.Value)
		}
	}
	return vv
}

// HasToken reports whether a comma-separated field contains token.
func (h *RequestHead) HasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// KeepAlive reports whether the client asked for a persistent connection:
// the default for HTTP/1.1 unless "Connection: close", opt-in for HTTP/1.0.
func (h *RequestHead) KeepAlive() bool {
	if h.Proto == "HTTP/1.0" {
		return h.HasToken("Connection", "keep-alive")
	}
	return !h.HasToken("Connection", "close")
}

// Framing selects the body variant for this request and returns the
// declared length (-1 when undeclared). A legacy HTTP/1.0 body-bearing
// request without Content-Length or chunked coding is read until close;
// any other request without either has an empty body.
func (h *RequestHead) Framing() (Kind, int64, error) {
	te := h.Values("Transfer-Encoding")
	cl := h.Values("Content-Length")
	if len(te) > 0 {
		if len(cl) > 0 {
			return 0, 0, ErrFramingConflict
		}
		if err := checkCodings(te); err != nil {
			return 0, 0, err
		}
		return KindChunked, -1, nil
	}
	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return 0, 0, err
		}
		return KindContentLength, n, nil
	}
	if h.Proto == "HTTP/1.0" && !h.KeepAlive() {
		switch h.Method {
		case "POST", "PUT", "PATCH":
			return KindUnknownLength, -1, nil
		}
	}
	return KindContentLength, 0, nil
}

// checkCodings accepts a Transfer-Encoding of exactly "chunked". Chunked
// must be the final coding; any other coding is one the server cannot
// decode.
func checkCodings(te []string) error {
	var codings []string
	for _, v := range te {
		for _, c := range strings.Split(v, ",") {
			codings = append(codings, strings.ToLower(strings.TrimSpace(c)))
		}
	}
	last := len(codings) - 1
	for i, c := range codings {
		if c == "" || (c == "chunked") != (i == last) {
			return ErrMalformedRequest
		}
	}
	if last > 0 {
		return ErrUnsupportedCoding
	}
	return nil
}

// parseContentLength accepts repeated or comma-joined values only when
// they all agree.
func parseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" || s[0] == '+' || s[0] == '-' {
				return 0, ErrMalformedRequest
			}
			m, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return 0, ErrMalformedRequest
			}
			if n >= 0 && m != n {
				return 0, ErrFramingConflict
			}
			n = m
		}
	}
	return n, nil
}

func (p *Parser) advanceHeader(buf *ReadBuffer) (Status, error) {
	for {
		line, ok, err := buf.ReadLine()
		if err != nil {
			if p.head == nil && errors.Is(err, ErrLineTooLong) {
				return Continue, ErrRequestLineTooLong
			}
			return Continue, err
		}
		if !ok {
			return Continue, nil
		}
		p.headerBytes += len(line) + 2
		if max := p.limits.MaxHeaderBytes; max > 0 && p.headerBytes > max {
			if p.head == nil && len(line) > 0 {
				return Continue, ErrRequestLineTooLong
			}
			return Continue, ErrHeaderTooLarge
		}
		if p.head == nil {
			// Tolerate empty lines ahead of the request line.
			if len(line) == 0 {
				continue
			}
			head, err := parseRequestLine(line)
			if err != nil {
				return Continue, err
			}
			p.head = head
			continue
		}
		if len(line) == 0 {
			return Complete, nil
		}
		f, err := parseField(line)
		if err != nil {
			return Continue, err
		}
		p.head.Fields = append(p.head.Fields, f)
	}
}

func parseRequestLine(line []byte) (*RequestHead, error) {
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return nil, ErrMalformedRequest
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if !isToken(method) || target == "" {
		return nil, ErrMalformedRequest
	}
	if proto != "HTTP/1.1" && proto != "HTTP/1.0" {
		return nil, ErrMalformedRequest
	}
	return &RequestHead{Method: method, Target: target, Proto: proto}, nil
}

func parseField(line []byte) (Field, error) {
	// Obsolete line folding is rejected.
	if line[0] == ' ' || line[0] == '\t' {
		return Field{}, ErrMalformedRequest
	}
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return Field{}, ErrMalformedRequest
	}
	name := string(line[:i])
	if !isToken(name) {
		return Field{}, ErrMalformedRequest
	}
	value := strings.Trim(string(line[i+1:]), " \t")
	return Field{Name: name, Value: value}, nil
}

func isToken(s string) bool {
	return s != "" && SanitizeHeaderKey(s) == s
}
