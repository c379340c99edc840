package http1

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedRequest = errors.New("http1: malformed request")
	ErrFramingConflict  = errors.New("http1: conflicting body framing")
	ErrChunkFormat      = errors.New("http1: invalid chunk format")
	ErrLineTooLong      = errors.New("http1: line exceeds read buffer")
	ErrHeaderTooLarge   = errors.New("http1: header too large")
	ErrBodyTooLarge     = errors.New("http1: body too large")
	// ErrUnsupportedCoding reports a transfer coding other than chunked.
	ErrUnsupportedCoding = errors.New("http1: unsupported transfer coding")
	// ErrRequestLineTooLong also matches ErrLineTooLong.
	ErrRequestLineTooLong = fmt.Errorf("%w: request line", ErrLineTooLong)
)

// Kind tags the active variant of a Parser.
type Kind uint8

const (
	KindHeader Kind = iota
	KindContentLength
	KindChunked
	KindUnknownLength
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindContentLength:
		return "content-length"
	case KindChunked:
		return "chunked"
	case KindUnknownLength:
		return "unknown-length"
	default:
		return "invalid"
	}
}

// Status is the outcome of one Advance step.
type Status uint8

const (
	Continue Status = iota
	Complete
)

// Limits bound what a parser accepts. Zero values mean no limit.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

// Parser is an incremental HTTP/1.x request parser. A value holds exactly
// one variant, selected by Kind; the owning connection replaces it with the
// next variant once it reports Complete.
//
// Advance never blocks: it consumes whatever is buffered and returns
// Continue when it needs more bytes.
type Parser struct {
	kind   Kind
	limits Limits
	done   bool

	// header variant
	head        *RequestHead
	headerBytes int

	// body variants
	remain int64
	total  int64
	chunk  chunkState
}

// NewHeaderParser returns a parser for the request line and header block.
func NewHeaderParser(lim Limits) Parser {
	return Parser{kind: KindHeader, limits: lim}
}

// NewBodyParser returns the body variant of the given kind. length is the
// declared Content-Length and is ignored by the other kinds.
func NewBodyParser(kind Kind, length int64, lim Limits) Parser {
	p := Parser{kind: kind, limits: lim}
	switch kind {
	case KindContentLength:
		p.remain = length
	case KindChunked:
		p.chunk = chunkSize
	}
	return p
}

func (p *Parser) Kind() Kind { return p.kind }

// Done reports whether the parser has reached Complete.
func (p *Parser) Done() bool { return p.done }

// Head returns the parsed request head; nil until a header parser completes.
func (p *Parser) Head() *RequestHead { return p.head }

// BodyBytes returns how many body bytes the parser has delivered.
func (p *Parser) BodyBytes() int64 { return p.total }

// Advance consumes buffered bytes. Body variants write decoded body bytes
// to body; the header variant ignores it.
func (p *Parser) Advance(buf *ReadBuffer, body io.Writer) (Status, error) {
	if p.done {
		return Complete, nil
	}
	var (
		st  Status
		err error
	)
	switch p.kind {
	case KindHeader:
		st, err = p.advanceHeader(buf)
	case KindContentLength:
		st, err = p.advanceContentLength(buf, body)
	case KindChunked:
		st, err = p.advanceChunked(buf, body)
	case KindUnknownLength:
		st, err = p.advanceUnknown(buf, body)
	default:
		return Continue, errors.New("http1: invalid parser kind")
	}
	if err == nil && st == Complete {
		p.done = true
	}
	return st, err
}

// AdvanceEOF is called when the transport reports end of stream. Only the
// unknown-length variant completes on EOF; every other variant reports
// io.ErrUnexpectedEOF.
func (p *Parser) AdvanceEOF() (Status, error) {
	if p.done {
		return Complete, nil
	}
	if p.kind == KindUnknownLength {
		p.done = true
		return Complete, nil
	}
	return Continue, io.ErrUnexpectedEOF
}

func (p *Parser) advanceContentLength(buf *ReadBuffer, body io.Writer) (Status, error) {
	if p.remain > 0 {
		n, err := buf.CopyTo(body, p.remain)
		p.remain -= n
		p.total += n
		if err != nil {
			return Continue, err
		}
	}
	if p.remain == 0 {
		return Complete, nil
	}
	return Continue, nil
}

func (p *Parser) advanceUnknown(buf *ReadBuffer, body io.Writer) (Status, error) {
	if max := p.limits.MaxBodyBytes; max > 0 && p.total+int64(buf.Len()) > max {
		return Continue, ErrBodyTooLarge
	}
	n, err := buf.CopyTo(body, -1)
	p.total += n
	return Continue, err
}
