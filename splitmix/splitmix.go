// Package splitmix provides a SplitMix64 rand.Source. It is cheap, has a
// 64-bit state that can be stepped atomically, and makes runs reproducible
// from a single logged seed.
package splitmix

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync/atomic"
)

const (
	increment = 0x9e3779b97f4a7c15
	maxInt63  = (1 << 63) - 1
)

// NewSeed draws a fresh seed from crypto/rand.
func NewSeed() int64 {
	var b [8]byte
	crypto_rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// New returns an unsynchronized source. Use one per goroutine.
func New(seed int64) *Source {
	return &Source{state: mix(uint64(seed))}
}

// NewRand wraps a fresh source in a *rand.Rand.
func NewRand(seed int64) *rand.Rand {
	return rand.New(New(seed))
}

type Source struct {
	state uint64
}

func (s *Source) Uint64() uint64 {
	s.state += increment
	return mix(s.state)
}

func (s *Source) Int63() int64 {
	return int64(s.Uint64() & maxInt63)
}

func (s *Source) Seed(seed int64) {
	s.state = mix(uint64(seed))
}

// Shared is a source safe for concurrent use; stepping is a single atomic
// add.
type Shared struct {
	state uint64
}

func NewShared(seed int64) *Shared {
	return &Shared{state: mix(uint64(seed))}
}

func (s *Shared) Uint64() uint64 {
	return mix(atomic.AddUint64(&s.state, increment))
}

func (s *Shared) Int63() int64 {
	return int64(s.Uint64() & maxInt63)
}

func (s *Shared) Seed(seed int64) {
	atomic.StoreUint64(&s.state, mix(uint64(seed)))
}

// Rand is a package-wide rand.Rand over a Shared source, for callers that
// only need occasional unseeded randomness.
var Rand = rand.New(NewShared(NewSeed()))

func mix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
