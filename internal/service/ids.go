package service

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// UUIDGenerator issues random v4 identifiers.
type UUIDGenerator struct{}

// NewID returns a fresh random UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequenceGenerator issues v5 identifiers derived from a seed and a counter,
// so two runs with the same seed produce the same ids in the same order.
type SequenceGenerator struct {
	mu sync.Mutex
	ns uuid.UUID
	n  uint64
}

// NewSequenceGenerator returns a generator namespaced by seed.
func NewSequenceGenerator(seed string) *SequenceGenerator {
	return &SequenceGenerator{ns: uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))}
}

// NewID returns the next id in the sequence.
func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return uuid.NewSHA1(g.ns, []byte(strconv.FormatUint(g.n, 10))).String()
}

var (
	_ domain.IDGenerator = UUIDGenerator{}
	_ domain.IDGenerator = (*SequenceGenerator)(nil)
)
