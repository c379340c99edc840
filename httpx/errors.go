package httpx

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState    = errors.New("httpx: invalid server state")
	ErrDisposed        = errors.New("httpx: server disposed")
	ErrReadTimeout     = errors.New("httpx: read timeout")
	ErrWriteTimeout    = errors.New("httpx: write timeout")
	ErrHeadersSent     = errors.New("httpx: headers already sent")
	ErrResponseClosed  = errors.New("httpx: response closed")
	ErrContentLength   = errors.New("httpx: wrote more than the declared Content-Length")
	ErrConnectionReuse = errors.New("httpx: connection cannot be reused after a read-until-close body")
	ErrHandlerPanic    = errors.New("httpx: handler panic")
)

// ServerError reports a server-level failure: binding the listener on
// Start, or shutting it down on Stop.
type ServerError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("httpx: failed to %s HTTP server at %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }
