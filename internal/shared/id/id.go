// Package id generates the identifiers the tracing library attaches to logs
// and daemon requests.
//
// Identifiers are prefixed ULIDs: sortable by creation time and readable in
// logs (rt_01HV..., req_01HV...). They never appear in trace payloads, which
// use the small integer ids issued by the registries and the daemon.
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

// RuntimeID identifies one runtime instance for the lifetime of a process.
type RuntimeID string

// RequestID correlates one daemon request with its log lines.
type RequestID string

const (
	RuntimePrefix = "rt"
	RequestPrefix = "req"
)

// Generator produces ULIDs that are strictly increasing within a millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewRuntimeID generates a runtime instance id.
func NewRuntimeID() RuntimeID {
	return RuntimeID(Default().GenerateWithPrefix(RuntimePrefix))
}

// NewRequestID generates a daemon request id.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id RuntimeID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }

// Parse extracts the ULID of a prefixed id.
func Parse(s string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return ulid.Parse(s)
}

// Timestamp returns the creation time encoded in a prefixed id.
func Timestamp(s string) (time.Time, error) {
	parsed, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
