// Package reqid carries a per-request identifier through contexts and HTTP
// headers.
package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
)

// Header is the HTTP header that carries the identifier.
const Header = "X-Request-Id"

// ID identifies one request. It prints as 16 lowercase hex digits.
type ID uint64

func (id ID) String() string {
	s := strconv.FormatUint(uint64(id), 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}

// Parse accepts the form produced by String. Zero is rejected.
func Parse(s string) (ID, bool) {
	if len(s) == 0 || len(s) > 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return ID(v), true
}

type key struct{}

// NewContext stores a fresh random ID in parent and returns it.
func NewContext(parent context.Context) (context.Context, ID) {
	id := ID(rand.Uint64())
	for id == 0 {
		id = ID(rand.Uint64())
	}
	return WithID(parent, id), id
}

// WithID stores id in parent.
func WithID(parent context.Context, id ID) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the ID from ctx.
func FromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(key{}).(ID)
	return id, ok
}
