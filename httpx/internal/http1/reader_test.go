package http1

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed pushes raw through the header parser and then the selected body
// parser, step bytes at a time, the way a connection would as reads land.
func feed(t *testing.T, raw string, step int, lim Limits) (*RequestHead, []byte, error) {
	t.Helper()
	buf := NewReadBuffer(256)
	var body bytes.Buffer
	p := NewHeaderParser(lim)
	src := []byte(raw)
	for {
		st, err := p.Advance(buf, &body)
		if err != nil {
			return p.Head(), body.Bytes(), err
		}
		if st == Complete {
			if p.Kind() != KindHeader {
				return nil, body.Bytes(), nil
			}
			head := p.Head()
			kind, n, err := head.Framing()
			if err != nil {
				return head, nil, err
			}
			p = NewBodyParser(kind, n, lim)
			st, err = p.Advance(buf, &body)
			if err != nil {
				return head, body.Bytes(), err
			}
			for st != Complete {
				if len(src) == 0 {
					st, err = p.AdvanceEOF()
					if err != nil {
						return head, body.Bytes(), err
					}
					break
				}
				src = push(t, buf, src, step)
				st, err = p.Advance(buf, &body)
				if err != nil {
					return head, body.Bytes(), err
				}
			}
			return head, body.Bytes(), nil
		}
		if len(src) == 0 {
			return p.Head(), nil, io.ErrUnexpectedEOF
		}
		src = push(t, buf, src, step)
	}
}

func push(t *testing.T, buf *ReadBuffer, src []byte, step int) []byte {
	t.Helper()
	n := step
	if n > len(src) {
		n = len(src)
	}
	_, err := buf.Write(src[:n])
	require.NoError(t, err)
	return src[n:]
}

func TestParser_ContentLengthBody(t *testing.T) {
	raw := "POST /submit?x=1 HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	for _, step := range []int{1, 3, 7, len(raw)} {
		head, body, err := feed(t, raw, step, Limits{})
		require.NoError(t, err, "step %d", step)
		assert.Equal(t, "POST", head.Method)
		assert.Equal(t, "/submit?x=1", head.Target)
		assert.Equal(t, "hello", string(body), "step %d", step)
	}
}

func TestParser_ContentLengthLeavesNextRequestBuffered(t *testing.T) {
	buf := NewReadBuffer(128)
	_, err := buf.Write([]byte("abcdeGET / HTTP/1.1\r\n"))
	require.NoError(t, err)
	var body bytes.Buffer
	p := NewBodyParser(KindContentLength, 5, Limits{})
	st, err := p.Advance(buf, &body)
	require.NoError(t, err)
	assert.Equal(t, Complete, st)
	assert.Equal(t, "abcde", body.String())
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(buf.Bytes()))
}

func TestParser_HeadersPreserveOrder(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-B: 2\r\nx-a: 1\r\nX-B: 3\r\n\r\n"
	head, body, err := feed(t, raw, 4, Limits{})
	require.NoError(t, err)
	want := []Field{{"Host", "x"}, {"X-B", "2"}, {"x-a", "1"}, {"X-B", "3"}}
	if diff := cmp.Diff(want, head.Fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"2", "3"}, head.Values("x-b"))
	assert.Empty(t, body)
}

func TestParser_LeadingEmptyLines(t *testing.T) {
	head, _, err := feed(t, "\r\n\r\nGET / HTTP/1.1\r\n\r\n", 64, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "GET", head.Method)
}

func TestParser_ChunkedBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	for _, step := range []int{1, 2, 5, len(raw)} {
		_, body, err := feed(t, raw, step, Limits{})
		require.NoError(t, err, "step %d", step)
		assert.Equal(t, "Wikipedia", string(body), "step %d", step)
	}
}

func TestParser_ChunkedExtensionsAndTrailers(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n3;name=v\r\nhey\r\n2\r\n!!\r\n0\r\nExpires: never\r\n\r\n"
	_, body, err := feed(t, raw, 3, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "hey!!", string(body))
}

func TestParser_ChunkedStopsAtTerminator(t *testing.T) {
	buf := NewReadBuffer(128)
	_, err := buf.Write([]byte("1\r\na\r\n0\r\n\r\nGET"))
	require.NoError(t, err)
	var body bytes.Buffer
	p := NewBodyParser(KindChunked, -1, Limits{})
	st, err := p.Advance(buf, &body)
	require.NoError(t, err)
	assert.Equal(t, Complete, st)
	assert.True(t, p.Done())
	assert.Equal(t, "GET", string(buf.Bytes()))
}

func TestParser_ChunkedMalformedSize(t *testing.T) {
	for _, raw := range []string{
		"zz\r\nabc\r\n0\r\n\r\n",
		"0x3\r\nabc\r\n0\r\n\r\n",
		"-1\r\n\r\n",
		"\r\n",
		"3\r\nabcXY0\r\n\r\n",
	} {
		buf := NewReadBuffer(128)
		_, err := buf.Write([]byte(raw))
		require.NoError(t, err)
		p := NewBodyParser(KindChunked, -1, Limits{})
		_, err = p.Advance(buf, io.Discard)
		assert.ErrorIs(t, err, ErrChunkFormat, "input %q", raw)
	}
}

func TestParser_UnknownLengthCompletesOnEOF(t *testing.T) {
	raw := "POST /legacy HTTP/1.0\r\nHost: x\r\n\r\nsome body bytes"
	head, body, err := feed(t, raw, 4, Limits{})
	require.NoError(t, err)
	kind, _, err := head.Framing()
	require.NoError(t, err)
	assert.Equal(t, KindUnknownLength, kind)
	assert.Equal(t, "some body bytes", string(body))
}

func TestParser_ShortContentLengthIsUnexpectedEOF(t *testing.T) {
	_, body, err := feed(t, "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhel", 64, Limits{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "hel", string(body))
}

func TestFraming(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		length int64
		err    error
	}{
		{"get without body", "GET / HTTP/1.1\r\n\r\n", KindContentLength, 0, nil},
		{"http10 get", "GET / HTTP/1.0\r\n\r\n", KindContentLength, 0, nil},
		{"http10 post", "POST / HTTP/1.0\r\n\r\n", KindUnknownLength, -1, nil},
		{"http10 post keep-alive", "POST / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", KindContentLength, 0, nil},
		{"repeated equal lengths", "POST / HTTP/1.1\r\nContent-Length: 5, 5\r\n\r\n", KindContentLength, 5, nil},
		{"mismatched lengths", "POST / HTTP/1.1\r\nContent-Length: 5, 6\r\n\r\n", 0, 0, ErrFramingConflict},
		{"cl and te", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n", 0, 0, ErrFramingConflict},
		{"negative length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", 0, 0, ErrMalformedRequest},
		{"te not chunked", "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", 0, 0, ErrMalformedRequest},
		{"te chunked case", "POST / HTTP/1.1\r\nTransfer-Encoding: Chunked\r\n\r\n", KindChunked, -1, nil},
		{"te gzip then chunked", "POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n", 0, 0, ErrUnsupportedCoding},
		{"te split over fields", "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\nTransfer-Encoding: chunked\r\n\r\n", 0, 0, ErrUnsupportedCoding},
		{"te chunked not last", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked, gzip\r\n\r\n", 0, 0, ErrMalformedRequest},
		{"te chunked twice", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked, chunked\r\n\r\n", 0, 0, ErrMalformedRequest},
		{"te empty coding", "POST / HTTP/1.1\r\nTransfer-Encoding: , chunked\r\n\r\n", 0, 0, ErrMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewReadBuffer(256)
			_, err := buf.Write([]byte(tt.raw))
			require.NoError(t, err)
			p := NewHeaderParser(Limits{})
			st, err := p.Advance(buf, nil)
			require.NoError(t, err)
			require.Equal(t, Complete, st)
			kind, n, err := p.Head().Framing()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.length, n)
		})
	}
}

func TestParser_MalformedHead(t *testing.T) {
	for _, raw := range []string{
		"GET /\r\n\r\n",
		"GET / HTTP/2.0\r\n\r\n",
		"G(T / HTTP/1.1\r\n\r\n",
		"GET / HTTP/1.1\r\nBad( : v\r\n\r\n",
		"GET / HTTP/1.1\r\nNoColon\r\n\r\n",
		"GET / HTTP/1.1\r\nA: b\r\n folded\r\n\r\n",
	} {
		buf := NewReadBuffer(256)
		_, err := buf.Write([]byte(raw))
		require.NoError(t, err)
		p := NewHeaderParser(Limits{})
		_, err = p.Advance(buf, nil)
		assert.ErrorIs(t, err, ErrMalformedRequest, "input %q", raw)
	}
}

func TestParser_MaxHeaderBytes(t *testing.T) {
	_, _, err := feed(t, "GET / HTTP/1.1\r\nA: b\r\nC: d\r\nE: f\r\n\r\n", 64, Limits{MaxHeaderBytes: 24})
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestParser_MaxBodyBytes(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	_, _, err := feed(t, raw, 64, Limits{MaxBodyBytes: 6})
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	// A huge chunk size after some body bytes must not wrap the running total.
	raw = "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n1\r\na\r\n7fffffffffffffff\r\n" + strings.Repeat("x", 1000)
	for _, step := range []int{1, 7, 64} {
		_, body, err := feed(t, raw, step, Limits{MaxBodyBytes: 10})
		assert.ErrorIs(t, err, ErrBodyTooLarge, "step %d", step)
		assert.LessOrEqual(t, len(body), 10, "step %d", step)
	}
}

func TestParser_ChunkedBodyNeverPassesLimit(t *testing.T) {
	// The chunk header fits; data for it must still stop at the limit.
	p := NewBodyParser(KindChunked, -1, Limits{MaxBodyBytes: 8})
	buf := NewReadBuffer(64)
	var body bytes.Buffer
	_, err := buf.Write([]byte("8\r\n12345678\r\n1\r\nz\r\n"))
	require.NoError(t, err)
	_, err = p.Advance(buf, &body)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, "12345678", body.String())
	assert.Equal(t, int64(8), p.BodyBytes())
}

func TestParser_LineLongerThanBuffer(t *testing.T) {
	t.Run("request line", func(t *testing.T) {
		buf := NewReadBuffer(16)
		_, err := buf.Write([]byte("GET /0123456789a"))
		require.NoError(t, err)
		p := NewHeaderParser(Limits{})
		_, err = p.Advance(buf, nil)
		assert.ErrorIs(t, err, ErrRequestLineTooLong)
		assert.ErrorIs(t, err, ErrLineTooLong)
	})
	t.Run("header field", func(t *testing.T) {
		buf := NewReadBuffer(16)
		_, err := buf.Write([]byte("GET / HTTP/1.1\r\n"))
		require.NoError(t, err)
		p := NewHeaderParser(Limits{})
		st, err := p.Advance(buf, nil)
		require.NoError(t, err)
		require.Equal(t, Continue, st)

		_, err = buf.Write([]byte("X-Long: 01234567"))
		require.NoError(t, err)
		_, err = p.Advance(buf, nil)
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.NotErrorIs(t, err, ErrRequestLineTooLong)
	})
}

func TestParser_RequestLineOverHeaderLimit(t *testing.T) {
	_, _, err := feed(t, "GET /"+strings.Repeat("a", 40)+" HTTP/1.1\r\n\r\n", 64, Limits{MaxHeaderBytes: 24})
	assert.ErrorIs(t, err, ErrRequestLineTooLong)
}

func TestKeepAlive(t *testing.T) {
	assert.True(t, (&RequestHead{Proto: "HTTP/1.1"}).KeepAlive())
	assert.False(t, (&RequestHead{Proto: "HTTP/1.1", Fields: []Field{{"Connection", "Close"}}}).KeepAlive())
	assert.False(t, (&RequestHead{Proto: "HTTP/1.0"}).KeepAlive())
	assert.True(t, (&RequestHead{Proto: "HTTP/1.0", Fields: []Field{{"connection", "Keep-Alive"}}}).KeepAlive())
}
