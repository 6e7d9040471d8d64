// Package idgen produces the identifiers viewtrans hands out: session IDs,
// placeholder node IDs and the element handles stamped on tracked nodes.
//
// Constructors accept a Generator so tests can swap in a deterministic
// sequence instead of UUIDs.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Placeholder node IDs use it so they stay valid HTML id values
// ("vt-ph-…" never starts with a digit).
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator yielding prefix1, prefix2, ... It is safe for
// concurrent use and meant for tests that assert on IDs.
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return prefix + strconv.FormatUint(n.Add(1), 10)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// SessionID returns a "vts_" prefixed ID for a translation session.
func SessionID() string {
	return "vts_" + Default()
}

// PlaceholderIDs is the generator the renderer uses for placeholder nodes.
func PlaceholderIDs() Generator {
	return Prefixed("vt-ph-", UUIDv7())
}

// Parse validates a UUID string and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}
