package httpx

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Trace carries the W3C trace context of an inbound request. TraceID is
// 32 hex digits, SpanID and ParentSpanID are 16, Flags is 2.
type Trace struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Flags        string
}

// Traceparent formats t as a traceparent header value.
func (t Trace) Traceparent() string {
	flags := t.Flags
	if flags == "" {
		flags = "01"
	}
	return "00-" + t.TraceID + "-" + t.SpanID + "-" + flags
}

type traceKeyType struct{}

var traceKey traceKeyType

// WithTrace stores trace context in ctx.
func WithTrace(ctx context.Context, tr Trace) context.Context {
	return context.WithValue(ctx, traceKey, tr)
}

// TraceFrom extracts trace context from ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	if v := ctx.Value(traceKey); v != nil {
		if tr, ok := v.(Trace); ok {
			return tr, true
		}
	}
	return Trace{}, false
}

// traceForRequest continues the caller's trace when a valid traceparent
// header is present and starts a new one otherwise. Either way the server
// gets a fresh span.
func traceForRequest(h *Header) Trace {
	if tid, sid, flags, ok := parseTraceparent(h.Get("Traceparent")); ok {
		return Trace{TraceID: tid, SpanID: genSpanID(), ParentSpanID: sid, Flags: flags}
	}
	return Trace{TraceID: genTraceID(), SpanID: genSpanID(), Flags: "01"}
}

func genTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func genSpanID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

// parseTraceparent extracts trace-id, span-id, flags. Returns ok=false if invalid.
func parseTraceparent(v string) (traceID, spanID, flags string, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", "", "", false
	}
	parts := strings.Split(v, "-")
	if len(parts) < 4 {
		return "", "", "", false
	}
	ver, tid, sid, fl := parts[0], parts[1], parts[2], parts[3]
	if len(ver) != 2 || len(tid) != 32 || len(sid) != 16 || len(fl) != 2 {
		return "", "", "", false
	}
	if !isHex(ver) || !isHex(tid) || !isHex(sid) || !isHex(fl) || ver == "ff" {
		return "", "", "", false
	}
	tid, sid = strings.ToLower(tid), strings.ToLower(sid)
	if tid == strings.Repeat("0", 32) || sid == strings.Repeat("0", 16) {
		return "", "", "", false
	}
	return tid, sid, strings.ToLower(fl), true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}
