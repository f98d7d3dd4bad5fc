package sim

import (
	"hash/fnv"
	"math/rand/v2"
)

// SimulationKey is the seed of one run. A scenario run twice with the same
// key produces the same guests, arrivals and results.
type SimulationKey int64

// NewSimulationKey wraps a scenario seed.
func NewSimulationKey(seed int64) SimulationKey { return SimulationKey(seed) }

// Random streams drawn by the workload generator.
const (
	// SubsystemWorkload draws arrivals and runtimes on the key's base stream.
	SubsystemWorkload = "workload"
	// SubsystemPriority draws synthetic guest priorities.
	SubsystemPriority = "priority"
)

// PartitionedRNG hands out one PCG stream per named subsystem, all seeded
// from the same key. Streams are independent: drawing from one never shifts
// another, so adding a consumer does not perturb existing ones.
//
// Each *rand.Rand is also a rand.Source and can back gonum distuv
// distributions. Not safe for concurrent use.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[string]*rand.Rand
}

// NewPartitionedRNG returns a partitioned RNG with no streams created yet.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, streams: make(map[string]*rand.Rand)}
}

// Key returns the seed the streams derive from.
func (p *PartitionedRNG) Key() SimulationKey { return p.key }

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	r, ok := p.streams[name]
	if !ok {
		r = rand.New(rand.NewPCG(uint64(p.key), streamID(name)))
		p.streams[name] = r
	}
	return r
}

// streamID is the PCG stream selector for a subsystem: 0 for the workload
// stream, the FNV-1a hash of the name otherwise.
func streamID(name string) uint64 {
	if name == SubsystemWorkload {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
