package http1

import (
	"bytes"
	"io"
	"strconv"
)

type chunkState uint8

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
)

// advanceChunked decodes Transfer-Encoding: chunked. It loops over the
// buffered bytes until it either runs dry or sees the terminating empty
// line after the zero-size chunk.
func (p *Parser) advanceChunked(buf *ReadBuffer, body io.Writer) (Status, error) {
	for {
		switch p.chunk {
		case chunkSize:
			line, ok, err := buf.ReadLine()
			if err != nil {
				return Continue, ErrChunkFormat
			}
			if !ok {
				return Continue, nil
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return Continue, err
			}
			if size == 0 {
				p.chunk = chunkTrailer
				continue
			}
			if max := p.limits.MaxBodyBytes; max > 0 && size > max-p.total {
				return Continue, ErrBodyTooLarge
			}
			p.remain = size
			p.chunk = chunkData
		case chunkData:
			if max := p.limits.MaxBodyBytes; max > 0 && p.remain > max-p.total {
				return Continue, ErrBodyTooLarge
			}
			n, err := buf.CopyTo(body, p.remain)
			p.remain -= n
			p.total += n
			if err != nil {
				return Continue, err
			}
			if p.remain > 0 {
				return Continue, nil
			}
			p.chunk = chunkDataCRLF
		case chunkDataCRLF:
			data := buf.Bytes()
			switch {
			case len(data) == 0:
				return Continue, nil
			case data[0] == '\n':
				buf.Discard(1)
			case len(data) < 2:
				if data[0] != '\r' {
					return Continue, ErrChunkFormat
				}
				return Continue, nil
			case data[0] == '\r' && data[1] == '\n':
				buf.Discard(2)
			default:
				return Continue, ErrChunkFormat
			}
			p.chunk = chunkSize
		case chunkTrailer:
			line, ok, err := buf.ReadLine()
			if err != nil {
				return Continue, ErrChunkFormat
			}
			if !ok {
				return Continue, nil
			}
			if len(line) == 0 {
				return Complete, nil
			}
			// Trailer fields are consumed and dropped.
			p.headerBytes += len(line) + 2
			if max := p.limits.MaxHeaderBytes; max > 0 && p.headerBytes > max {
				return Continue, ErrHeaderTooLarge
			}
		}
	}
}

func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 || len(line) > 16 {
		return 0, ErrChunkFormat
	}
	for _, c := range line {
		if !isHex(c) {
			return 0, ErrChunkFormat
		}
	}
	n, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || n < 0 {
		return 0, ErrChunkFormat
	}
	return n, nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
