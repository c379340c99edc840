// Package httpx is an embeddable HTTP/1.1 server engine that speaks the
// protocol directly over TCP.
//
// Each accepted connection is served by its own goroutine, which reads one
// request at a time with a non-blocking incremental parser (headers, then a
// Content-Length, chunked or read-until-close body), hands the buffered
// request to the Handler, and writes the reply with framing chosen from
// what the handler produced. Persistent connections, pipelined requests,
// Expect: 100-continue, per-operation read and write timeouts and a
// two-phase graceful shutdown are built in.
//
// Quick start:
//
//	s := &httpx.Server{Addr: "127.0.0.1:8080"}
//	s.Handler = httpx.HandlerFunc(func(c *httpx.Context) error {
//		c.Response.Header().Set("Content-Type", "text/plain; charset=utf-8")
//		_, err := c.Response.WriteString("hello")
//		return err
//	})
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer s.Dispose()
package httpx
