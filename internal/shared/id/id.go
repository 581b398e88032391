// Package id generates correlation keys for bridge sessions.
//
// Keys are prefixed ULIDs: a millisecond timestamp followed by 80 bits of
// cryptographic randomness. Collisions are negligible rather than impossible,
// which is all the session registries require.
//
// Prefixes make keys readable in logs:
//   - fetch_*: a guest fetch awaiting its response descriptor
//   - call_*:  a method call against a retained host response
//   - ws_*:    a guest socket proxy
//   - eval_*:  a host eval request awaiting the guest's reply
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Key is an opaque session correlation key
type Key string

const (
	FetchPrefix  = "fetch"
	CallPrefix   = "call"
	SocketPrefix = "ws"
	EvalPrefix   = "eval"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// ordering inside a single millisecond.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// NewKey creates a prefixed key such as "fetch_01J..."
func (g *Generator) NewKey(prefix string) Key {
	if prefix == "" {
		return Key(g.Generate().String())
	}
	return Key(fmt.Sprintf("%s_%s", prefix, g.Generate().String()))
}

// New creates a prefixed key with the default generator
func New(prefix string) Key {
	return Default().NewKey(prefix)
}

func (k Key) String() string { return string(k) }

// Prefix returns the part of the key before the underscore, or "" for
// unprefixed keys.
func (k Key) Prefix() string {
	prefix, _, ok := strings.Cut(string(k), "_")
	if !ok {
		return ""
	}
	return prefix
}

// Timestamp extracts the creation time encoded in a key
func (k Key) Timestamp() (time.Time, error) {
	raw := string(k)
	if _, rest, ok := strings.Cut(raw, "_"); ok {
		raw = rest
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// IsValid reports whether s is a (possibly prefixed) ULID key
func IsValid(s string) bool {
	_, err := Key(s).Timestamp()
	return err == nil
}
