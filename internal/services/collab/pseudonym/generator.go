// Package pseudonym turns opaque room pseudonyms into readable display
// names for replay observers.
package pseudonym

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Generator produces "First Last" display names.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator. A zero seed draws a random one.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = newSeed()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Name generates one display name.
func (g *Generator) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	first := givenNames[g.rng.Intn(len(givenNames))]
	last := familyNames[g.rng.Intn(len(familyNames))]
	return fmt.Sprintf("%s %s", first, last)
}

// maxUniqueAttempts bounds how often Registry retries a name already in use.
const maxUniqueAttempts = 8

// Registry maps each pseudonym to one generated name. A Registry lives as
// long as one replay session.
type Registry struct {
	generator *Generator

	mu    sync.Mutex
	names map[string]string
	used  map[string]struct{}
}

// NewRegistry returns an empty registry drawing names from generator.
func NewRegistry(generator *Generator) *Registry {
	if generator == nil {
		generator = NewGenerator(0)
	}
	return &Registry{
		generator: generator,
		names:     make(map[string]string),
		used:      make(map[string]struct{}),
	}
}

// Name returns the display name for pseudonym, generating it on first use.
// Distinct pseudonyms get distinct names while the name space allows.
func (r *Registry) Name(pseudonym string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.names[pseudonym]; ok {
		return name
	}
	name := r.generator.Name()
	for attempt := 1; attempt < maxUniqueAttempts; attempt++ {
		if _, taken := r.used[name]; !taken {
			break
		}
		name = r.generator.Name()
	}
	r.names[pseudonym] = name
	r.used[name] = struct{}{}
	return name
}

// Len reports how many pseudonyms have been named.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
