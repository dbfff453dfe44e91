// Package simulator provides synthetic market-data sources. Each source runs
// on its own cadence and talks to the rest of the system only through a
// Publisher, so a live exchange connector can replace any of them.
package simulator

import (
	"context"
	"math/rand"
)

// Publisher accepts serialized events. It must not block.
type Publisher interface {
	Publish(payload []byte)
}

// Source is an independent producer. Run blocks until ctx is done or the
// source fails.
type Source interface {
	Name() string
	Run(ctx context.Context, pub Publisher) error
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealRand struct{ *rand.Rand }

func NewRealRand(seed int64) RealRand {
	return RealRand{Rand: rand.New(rand.NewSource(seed))}
}

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }
