package emu

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SamplingKey uniquely identifies a reproducible set of realizations.
// Two sampling runs with the same SamplingKey, design and request MUST produce
// bit-for-bit identical draws.
type SamplingKey int64

// NewSamplingKey creates a SamplingKey from a seed value.
func NewSamplingKey(seed int64) SamplingKey {
	return SamplingKey(seed)
}

// SubsystemSnapshot returns the subsystem name for the snapshot at redshift z.
func SubsystemSnapshot(z float64) string {
	return fmt.Sprintf("snapshot_z%.6g", z)
}

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
// Each subsystem is seeded with masterSeed XOR fnv1a64(subsystemName), so
// adding draws for one snapshot never shifts the stream of another.
//
// Thread-safety: NOT thread-safe. Must be called from a single goroutine.
type PartitionedRNG struct {
	key        SamplingKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SamplingKey.
func NewPartitionedRNG(key SamplingKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := p.Derive(name)
	p.subsystems[name] = rng
	return rng
}

// Derive returns a new RNG for the named subsystem, positioned at the start
// of its stream. Unlike ForSubsystem the instance is not cached, so every
// call replays the same draws regardless of what was drawn before.
func (p *PartitionedRNG) Derive(name string) *rand.Rand {
	return rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
}

// Key returns the SamplingKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SamplingKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
