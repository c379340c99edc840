package httpx_test

import (
	"context"
	"fmt"

	"dqx0.com/go/hyperws/httpx"
)

// ExampleHeader shows basic header operations.
func ExampleHeader() {
	var h httpx.Header
	h.Add("x-foo", "a")
	h.Add("X-Foo", "b")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Println(h.Get("X-FOO"))
	fmt.Println(len(h.Values("x-foo")))
	h.Del("X-Foo")
	fmt.Println(h.Len())
	// Output:
	// a
	// 2
	// 1
}

// ExampleTrace_context shows storing and retrieving trace info via context.
func ExampleTrace_context() {
	tr := httpx.Trace{TraceID: "0123456789abcdef0123456789abcdef", SpanID: "0123456789abcdef", Flags: "01"}
	ctx := httpx.WithTrace(context.Background(), tr)
	got, ok := httpx.TraceFrom(ctx)
	fmt.Println(ok && got.TraceID == tr.TraceID)
	fmt.Println(got.Traceparent())
	// Output:
	// true
	// 00-0123456789abcdef0123456789abcdef-0123456789abcdef-01
}

// ExampleServer starts a server on an ephemeral port and stops it again.
func ExampleServer() {
	s := &httpx.Server{
		Handler: httpx.HandlerFunc(func(c *httpx.Context) error {
			_, err := c.Response.WriteString("hello")
			return err
		}),
		StateHandler: func(from, to httpx.State) {
			fmt.Println(from, "->", to)
		},
	}
	if err := s.Start(); err != nil {
		fmt.Println(err)
		return
	}
	_ = s.Stop()
	// Output:
	// stopped -> starting
	// starting -> started
	// started -> stopping
	// stopping -> stopped
}
