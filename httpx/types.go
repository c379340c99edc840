package httpx

import (
	"net/textproto"
	"strings"

	"dqx0.com/go/hyperws/httpx/internal/http1"
)

// Header is an ordered multimap of header fields. Lookup is
// case-insensitive and fields keep the order they were added in.
//
// A response Header is frozen once its head has been written; after that
// Set, Add and Del are ignored.
type Header struct {
	fields []http1.Field
	frozen bool
}

func headerFrom(fields []http1.Field) Header {
	h := Header{fields: make([]http1.Field, len(fields))}
	copy(h.fields, fields)
	return h
}

// Get returns the first value for key.
func (h *Header) Get(key string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			return f.Value
		}
	}
	return ""
}

// Values returns all values for key in insertion order.
func (h *Header) Values(key string) []string {
	var vv []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			vv = append(vv, f.Value)
		}
	}
	return vv
}

func (h *Header) Has(key string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			return true
		}
	}
	return false
}

// HasToken reports whether any comma-separated value of key equals token,
// ignoring case.
func (h *Header) HasToken(key, token string) bool {
	for _, v := range h.Values(key) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// Add appends a field.
func (h *Header) Add(key, value string) {
	if h.frozen {
		return
	}
	h.fields = append(h.fields, http1.Field{Name: textproto.CanonicalMIMEHeaderKey(key), Value: value})
}

// Set replaces every value of key with value, keeping the position of the
// first occurrence.
func (h *Header) Set(key, value string) {
	if h.frozen {
		return
	}
	k := textproto.CanonicalMIMEHeaderKey(key)
	out := h.fields[:0]
	set := false
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			if set {
				continue
			}
			f = http1.Field{Name: k, Value: value}
			set = true
		}
		out = append(out, f)
	}
	if !set {
		out = append(out, http1.Field{Name: k, Value: value})
	}
	h.fields = out
}

// Del removes every value of key.
func (h *Header) Del(key string) {
	if h.frozen {
		return
	}
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, key) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len returns the number of fields.
func (h *Header) Len() int { return len(h.fields) }

// Each calls fn for every field in order.
func (h *Header) Each(fn func(key, value string)) {
	for _, f := range h.fields {
		fn(f.Name, f.Value)
	}
}

// Frozen reports whether the header can no longer change.
func (h *Header) Frozen() bool { return h.frozen }

func (h *Header) freeze() { h.frozen = true }
