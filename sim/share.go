package sim

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// ShareMode selects how a ShareScheduler reacts when demand exceeds capacity.
type ShareMode int

const (
	// StrictShare rejects any request that does not fit in the remaining capacity.
	StrictShare ShareMode = iota
	// OversubscribedShare admits every request and scales all allocations down
	// proportionally when the pool is overcommitted.
	OversubscribedShare
)

// MigrationOutFactor is the fraction of its allocation a guest keeps while it
// is being migrated away.
const MigrationOutFactor = 0.9

// shareEpsilon absorbs float noise when comparing capacity sums.
const shareEpsilon = 1e-9

var shareModeNames = map[ShareMode]string{
	StrictShare:         "strict",
	OversubscribedShare: "oversubscribed",
}

func (m ShareMode) String() string {
	if name, ok := shareModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ShareMode(%d)", int(m))
}

// ParseShareMode maps a scenario/CLI name to a ShareMode.
// Empty string defaults to StrictShare.
func ParseShareMode(name string) (ShareMode, error) {
	switch name {
	case "", "strict":
		return StrictShare, nil
	case "oversubscribed":
		return OversubscribedShare, nil
	default:
		return 0, fmt.Errorf("unknown share mode %q", name)
	}
}

// ShareScheduler divides one CapacityPool among the guests placed on a host.
//
// A packed scheduler (CPU) lays each guest's per-vPE shares first-fit onto the
// physical units in admission order. An indexed scheduler (disks) keeps
// request i on unit i, since disk identity matters for data affinity.
//
// Requested rows are kept in admission order; the allocation table is always
// rebuilt from them in a single pass, so every query observes one consistent
// snapshot.
type ShareScheduler struct {
	mode    ShareMode
	indexed bool
	pool    *CapacityPool

	order     []GuestID
	requested map[GuestID][]float64 // capped requests
	allocated map[GuestID][]float64
	available float64

	migratingIn  map[GuestID]bool
	migratingOut map[GuestID]bool

	unitAlloc []map[GuestID]float64
}

// NewShareScheduler creates a packed (CPU) scheduler over pool.
func NewShareScheduler(mode ShareMode, pool *CapacityPool) *ShareScheduler {
	return newShareScheduler(mode, pool, false)
}

// NewIndexedShareScheduler creates a scheduler where request i maps to unit i.
func NewIndexedShareScheduler(mode ShareMode, pool *CapacityPool) *ShareScheduler {
	return newShareScheduler(mode, pool, true)
}

func newShareScheduler(mode ShareMode, pool *CapacityPool, indexed bool) *ShareScheduler {
	if pool == nil {
		panic("ShareScheduler: pool must not be nil")
	}
	if _, ok := shareModeNames[mode]; !ok {
		panic(fmt.Sprintf("ShareScheduler: unhandled mode %d", int(mode)))
	}
	s := &ShareScheduler{
		mode:         mode,
		indexed:      indexed,
		pool:         pool,
		requested:    make(map[GuestID][]float64),
		allocated:    make(map[GuestID][]float64),
		available:    pool.TotalCapacity(),
		migratingIn:  make(map[GuestID]bool),
		migratingOut: make(map[GuestID]bool),
	}
	s.provision()
	return s
}

// Mode returns the scheduler's strategy.
func (s *ShareScheduler) Mode() ShareMode { return s.mode }

// Pool returns the capacity pool the scheduler divides.
func (s *ShareScheduler) Pool() *CapacityPool { return s.pool }

// Available returns the capacity not yet promised to any guest.
func (s *ShareScheduler) Available() float64 { return s.available }

// Allocate reserves capacity for a guest. It returns false without side
// effects when the request is malformed or, in strict mode, does not fit.
func (s *ShareScheduler) Allocate(id GuestID, requested []float64) bool {
	if len(requested) > s.pool.Size() {
		logrus.Warnf("ShareScheduler: guest %d requested %d units, pool has %d", id, len(requested), s.pool.Size())
		return false
	}
	if _, ok := s.requested[id]; ok {
		logrus.Warnf("ShareScheduler: guest %d already holds an allocation", id)
		return false
	}
	capped := s.capRequest(requested)
	if s.fits(capped) {
		s.order = append(s.order, id)
		s.requested[id] = capped
		s.allocated[id] = s.adjust(id, capped, 1)
		s.available -= floats.Sum(capped)
		s.refreshAvailable()
		s.provision()
		return true
	}
	if s.mode == StrictShare {
		return false
	}
	s.order = append(s.order, id)
	s.requested[id] = capped
	s.redistribute()
	s.provision()
	return true
}

// Deallocate releases a guest's row and replays the remaining requests in
// admission order. It returns the guests a strict replay could no longer fit
// (only possible after units failed).
func (s *ShareScheduler) Deallocate(id GuestID) []GuestID {
	if _, ok := s.requested[id]; !ok {
		return nil
	}
	delete(s.requested, id)
	delete(s.allocated, id)
	delete(s.migratingIn, id)
	delete(s.migratingOut, id)
	s.order = slices.DeleteFunc(s.order, func(g GuestID) bool { return g == id })
	return s.Rebuild()
}

// DeallocateAll clears every row.
func (s *ShareScheduler) DeallocateAll() {
	s.order = nil
	clear(s.requested)
	clear(s.allocated)
	clear(s.migratingIn)
	clear(s.migratingOut)
	s.available = s.pool.TotalCapacity()
	s.provision()
}

// Rebuild recomputes the whole allocation table from the requested rows.
func (s *ShareScheduler) Rebuild() []GuestID {
	clear(s.allocated)
	s.available = s.pool.TotalCapacity()

	var dropped []GuestID
	total := make([]float64, s.pool.Size())
	for _, id := range s.order {
		floats.Add(total[:len(s.requested[id])], s.requested[id])
	}
	if s.fitsTotals(total) {
		for _, id := range s.order {
			s.allocated[id] = s.adjust(id, s.requested[id], 1)
			s.available -= floats.Sum(s.requested[id])
		}
	} else if s.mode == OversubscribedShare {
		s.redistribute()
	} else {
		replay := s.order
		s.order = nil
		for _, id := range replay {
			if !s.fits(s.requested[id]) {
				logrus.Warnf("ShareScheduler: guest %d no longer fits after rebuild", id)
				dropped = append(dropped, id)
				delete(s.requested, id)
				delete(s.migratingIn, id)
				delete(s.migratingOut, id)
				continue
			}
			s.order = append(s.order, id)
			s.allocated[id] = s.adjust(id, s.requested[id], 1)
			s.available -= floats.Sum(s.requested[id])
		}
	}
	s.refreshAvailable()
	s.provision()
	return dropped
}

// SetMigratingIn flags a guest as arriving by live migration; it receives no
// capacity until the flag is cleared.
func (s *ShareScheduler) SetMigratingIn(id GuestID, on bool) {
	setFlag(s.migratingIn, id, on)
	s.Rebuild()
}

// SetMigratingOut flags a guest as leaving by live migration; it keeps
// MigrationOutFactor of its allocation.
func (s *ShareScheduler) SetMigratingOut(id GuestID, on bool) {
	setFlag(s.migratingOut, id, on)
	s.Rebuild()
}

// IsMigratingIn reports the migrating-in flag.
func (s *ShareScheduler) IsMigratingIn(id GuestID) bool { return s.migratingIn[id] }

// IsMigratingOut reports the migrating-out flag.
func (s *ShareScheduler) IsMigratingOut(id GuestID) bool { return s.migratingOut[id] }

func setFlag(m map[GuestID]bool, id GuestID, on bool) {
	if on {
		m[id] = true
	} else {
		delete(m, id)
	}
}

// Holds reports whether the guest has a row in this scheduler.
func (s *ShareScheduler) Holds(id GuestID) bool {
	_, ok := s.requested[id]
	return ok
}

// Guests returns the guests holding rows, in admission order.
func (s *ShareScheduler) Guests() []GuestID { return slices.Clone(s.order) }

// Requested returns the capped request row of a guest.
func (s *ShareScheduler) Requested(id GuestID) []float64 { return slices.Clone(s.requested[id]) }

// Allocated returns the allocated row of a guest (nil if none).
func (s *ShareScheduler) Allocated(id GuestID) []float64 { return slices.Clone(s.allocated[id]) }

// TotalAllocated sums the allocated row of a guest.
func (s *ShareScheduler) TotalAllocated(id GuestID) float64 { return floats.Sum(s.allocated[id]) }

// UnitAllocated returns the capacity handed out on unit i.
func (s *ShareScheduler) UnitAllocated(i int) float64 {
	total := 0.0
	for _, v := range s.unitAlloc[i] {
		total += v
	}
	return total
}

// UnitAllocation returns a copy of the per-guest allocation on unit i.
func (s *ShareScheduler) UnitAllocation(i int) map[GuestID]float64 {
	out := make(map[GuestID]float64, len(s.unitAlloc[i]))
	for id, v := range s.unitAlloc[i] {
		out[id] = v
	}
	return out
}

// Fits reports whether a request would be admitted on the direct path,
// without reserving anything.
func (s *ShareScheduler) Fits(requested []float64) bool {
	if len(requested) > s.pool.Size() {
		return false
	}
	return s.fits(s.capRequest(requested))
}

// AdmitsWithout reports whether Allocate would accept requested once the
// rows of the given guests were released. Nothing is changed.
func (s *ShareScheduler) AdmitsWithout(requested []float64, without []GuestID) bool {
	if len(requested) > s.pool.Size() {
		return false
	}
	if s.mode == OversubscribedShare {
		return true
	}
	capped := s.capRequest(requested)
	kept := slices.DeleteFunc(slices.Clone(s.order), func(id GuestID) bool {
		return slices.Contains(without, id)
	})
	if !s.indexed {
		free := s.pool.TotalCapacity()
		for _, id := range kept {
			free -= floats.Sum(s.requested[id])
		}
		return free+shareEpsilon >= floats.Sum(capped)
	}
	for i, v := range capped {
		free := s.pool.UnitCapacity(i)
		for _, id := range kept {
			if row := s.requested[id]; i < len(row) {
				free -= row[i]
			}
		}
		if free+shareEpsilon < v {
			return false
		}
	}
	return true
}

// capRequest caps every value at the capacity of the unit it can land on.
func (s *ShareScheduler) capRequest(requested []float64) []float64 {
	capped := make([]float64, len(requested))
	maxUnit := s.pool.MaxUnitCapacity()
	for i, v := range requested {
		limit := maxUnit
		if s.indexed {
			limit = s.pool.UnitCapacity(i)
		}
		if v > limit {
			logrus.Debugf("ShareScheduler: request %f capped to unit capacity %f", v, limit)
			v = limit
		}
		capped[i] = max(v, 0)
	}
	return capped
}

func (s *ShareScheduler) fits(capped []float64) bool {
	if !s.indexed {
		return s.available+shareEpsilon >= floats.Sum(capped)
	}
	for i, v := range capped {
		if s.unitFree(i)+shareEpsilon < v {
			return false
		}
	}
	return true
}

// fitsTotals checks a whole-table demand vector against the empty pool.
func (s *ShareScheduler) fitsTotals(total []float64) bool {
	if !s.indexed {
		return floats.Sum(total) <= s.pool.TotalCapacity()+shareEpsilon
	}
	for i, v := range total {
		if v > s.pool.UnitCapacity(i)+shareEpsilon {
			return false
		}
	}
	return true
}

// unitFree is the uncharged capacity of unit i in indexed mode. Charges use
// the pre-adjustment request, like the aggregate counter.
func (s *ShareScheduler) unitFree(i int) float64 {
	free := s.pool.UnitCapacity(i)
	for _, id := range s.order {
		if row := s.requested[id]; i < len(row) {
			free -= row[i]
		}
	}
	return free
}

// refreshAvailable recomputes the indexed counter from per-unit charges.
// Packed pools keep the aggregate counter as maintained by the callers.
func (s *ShareScheduler) refreshAvailable() {
	if !s.indexed {
		return
	}
	s.available = 0
	for i := 0; i < s.pool.Size(); i++ {
		s.available += max(0, s.unitFree(i))
	}
}

// adjust applies migration degradation and a scaling factor to a request row.
// Only the redistribution path passes a factor other than 1 and floors.
func (s *ShareScheduler) adjust(id GuestID, row []float64, factor float64) []float64 {
	out := make([]float64, len(row))
	if s.migratingIn[id] {
		return out
	}
	for i, v := range row {
		v *= factor
		if s.migratingOut[id] {
			v *= MigrationOutFactor
		}
		out[i] = v
	}
	return out
}

// redistribute scales every row so the table fits the pool, then floors.
// Packed: alloc = floor(req * total / totalRequested).
// Indexed: each unit j is scaled by min(1, cap_j / requested_j).
func (s *ShareScheduler) redistribute() {
	clear(s.allocated)
	if s.indexed {
		demand := make([]float64, s.pool.Size())
		for _, id := range s.order {
			floats.Add(demand[:len(s.requested[id])], s.requested[id])
		}
		for _, id := range s.order {
			row := s.requested[id]
			out := make([]float64, len(row))
			if !s.migratingIn[id] {
				for j, v := range row {
					f := 1.0
					if demand[j] > s.pool.UnitCapacity(j) {
						f = s.pool.UnitCapacity(j) / demand[j]
					}
					if s.migratingOut[id] {
						f *= MigrationOutFactor
					}
					out[j] = math.Floor(v * f)
				}
			}
			s.allocated[id] = out
		}
	} else {
		totalRequested := 0.0
		for _, id := range s.order {
			totalRequested += floats.Sum(s.requested[id])
		}
		poolTotal := s.pool.TotalCapacity()
		for _, id := range s.order {
			row := s.requested[id]
			out := make([]float64, len(row))
			if !s.migratingIn[id] && totalRequested > 0 {
				for j, v := range row {
					scaled := v * poolTotal / totalRequested
					if s.migratingOut[id] {
						scaled *= MigrationOutFactor
					}
					out[j] = math.Floor(scaled)
				}
			}
			s.allocated[id] = out
		}
	}
	s.available = 0
	s.refreshAvailable()
	logrus.Debugf("ShareScheduler: redistributed %d guests over %s pool", len(s.order), s.mode)
}

// provision rebuilds the per-unit view of the allocation table.
func (s *ShareScheduler) provision() {
	n := s.pool.Size()
	s.unitAlloc = make([]map[GuestID]float64, n)
	for i := range s.unitAlloc {
		s.unitAlloc[i] = make(map[GuestID]float64)
	}
	if s.indexed {
		for _, id := range s.order {
			for i, v := range s.allocated[id] {
				if v > 0 {
					s.unitAlloc[i][id] = v
				}
			}
		}
		return
	}
	unit := 0
	used := make([]float64, n)
	for _, id := range s.order {
		for _, share := range s.allocated[id] {
			remaining := share
			for remaining > shareEpsilon && unit < n {
				free := s.pool.UnitCapacity(unit) - used[unit]
				if free <= shareEpsilon {
					unit++
					continue
				}
				take := min(free, remaining)
				s.unitAlloc[unit][id] += take
				used[unit] += take
				remaining -= take
			}
			if remaining > shareEpsilon {
				logrus.Warnf("ShareScheduler: %f of guest %d's share could not be laid on any unit", remaining, id)
			}
		}
	}
}
