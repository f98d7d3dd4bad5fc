package sim

import "fmt"

// ProcessingUnit is one unit of physical capacity: a CPU core (PE) measured
// in MIPS, or a disk measured in I/O units per unit time.
type ProcessingUnit struct {
	ID       int
	Capacity float64
	failed   bool
}

// Failed reports whether the unit is disabled.
func (u *ProcessingUnit) Failed() bool { return u.failed }

// CapacityPool is the ordered set of processing units owned by one host.
// Only the ShareScheduler bound to the pool tracks what is allocated on it.
type CapacityPool struct {
	units []*ProcessingUnit
}

// NewCapacityPool creates n identical units of the given capacity.
// Panics if n <= 0 or capacity < 0.
func NewCapacityPool(n int, capacity float64) *CapacityPool {
	if n <= 0 {
		panic(fmt.Sprintf("CapacityPool: unit count must be > 0, got %d", n))
	}
	caps := make([]float64, n)
	for i := range caps {
		caps[i] = capacity
	}
	return NewCapacityPoolOf(caps)
}

// NewCapacityPoolOf creates one unit per entry of capacities, in order.
// Disks on one host need not be identical, so the disk pool is built this way.
// An empty pool is allowed: a host without disks has nothing to share.
func NewCapacityPoolOf(capacities []float64) *CapacityPool {
	p := &CapacityPool{units: make([]*ProcessingUnit, len(capacities))}
	for i, c := range capacities {
		if c < 0 {
			panic(fmt.Sprintf("CapacityPool: unit %d capacity must be >= 0, got %f", i, c))
		}
		p.units[i] = &ProcessingUnit{ID: i, Capacity: c}
	}
	return p
}

// Size returns the number of units, failed ones included.
func (p *CapacityPool) Size() int { return len(p.units) }

// Unit returns the unit at index i.
func (p *CapacityPool) Unit(i int) *ProcessingUnit { return p.units[i] }

// UnitCapacity returns the usable capacity of unit i (0 if failed).
func (p *CapacityPool) UnitCapacity(i int) float64 {
	u := p.units[i]
	if u.failed {
		return 0
	}
	return u.Capacity
}

// MaxUnitCapacity is the largest usable single-unit capacity. A single vPE
// request can never exceed it.
func (p *CapacityPool) MaxUnitCapacity() float64 {
	m := 0.0
	for i := range p.units {
		m = max(m, p.UnitCapacity(i))
	}
	return m
}

// TotalCapacity sums the usable capacity over all units.
func (p *CapacityPool) TotalCapacity() float64 {
	total := 0.0
	for i := range p.units {
		total += p.UnitCapacity(i)
	}
	return total
}

// NumFailed counts disabled units.
func (p *CapacityPool) NumFailed() int {
	n := 0
	for _, u := range p.units {
		if u.failed {
			n++
		}
	}
	return n
}

// SetFailed flags unit i as failed or working. The owning scheduler must be
// rebuilt afterwards for the change to affect allocations.
func (p *CapacityPool) SetFailed(i int, failed bool) {
	p.units[i].failed = failed
}
