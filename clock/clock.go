// Package clock provides the ambient chain time that batch and logic-call
// timeouts are evaluated against.
//
// Timeouts are block heights on the destination chain. A host that observes
// that chain feeds heights into a Manual clock; a standalone node derives the
// height from wall time and the genesis timestamp.
package clock

import (
	"sync/atomic"
	"time"
)

// Source reports the current chain height.
type Source interface {
	Now() uint64
}

// HeightClock converts wall-clock time to block heights.
// All time values are in seconds (Unix timestamps).
type HeightClock struct {
	GenesisTime  uint64           // Unix timestamp of height 0
	BlockSeconds uint64           // seconds per block
	timeFunc     func() time.Time // Injectable for testing
}

// New creates a HeightClock with the given genesis time and block time.
func New(genesisTime, blockSeconds uint64) *HeightClock {
	return NewWithTimeFunc(genesisTime, blockSeconds, time.Now)
}

// NewWithTimeFunc creates a HeightClock with a custom time source (for testing).
func NewWithTimeFunc(genesisTime, blockSeconds uint64, timeFunc func() time.Time) *HeightClock {
	if blockSeconds == 0 {
		blockSeconds = 1
	}
	return &HeightClock{
		GenesisTime:  genesisTime,
		BlockSeconds: blockSeconds,
		timeFunc:     timeFunc,
	}
}

// secondsSinceGenesis returns seconds elapsed since genesis (0 if before genesis).
func (c *HeightClock) secondsSinceGenesis() uint64 {
	now := uint64(c.timeFunc().Unix())
	if now < c.GenesisTime {
		return 0
	}
	return now - c.GenesisTime
}

// Now returns the current height (0 if before genesis).
func (c *HeightClock) Now() uint64 {
	return c.secondsSinceGenesis() / c.BlockSeconds
}

// HeightStartTime returns the Unix timestamp at which height begins.
func (c *HeightClock) HeightStartTime(height uint64) uint64 {
	return c.GenesisTime + height*c.BlockSeconds
}

// IsBeforeGenesis returns true if current time is before genesis.
func (c *HeightClock) IsBeforeGenesis() bool {
	return uint64(c.timeFunc().Unix()) < c.GenesisTime
}

// Manual is a Source whose height is pushed by the host.
type Manual struct {
	height atomic.Uint64
}

// NewManual creates a Manual clock at height.
func NewManual(height uint64) *Manual {
	m := &Manual{}
	m.height.Store(height)
	return m
}

func (m *Manual) Now() uint64 { return m.height.Load() }

// Set moves the clock to height. Heights never go backwards; a lower height
// is ignored.
func (m *Manual) Set(height uint64) {
	for {
		cur := m.height.Load()
		if height <= cur || m.height.CompareAndSwap(cur, height) {
			return
		}
	}
}

// Advance moves the clock forward by n blocks.
func (m *Manual) Advance(n uint64) {
	m.height.Add(n)
}
