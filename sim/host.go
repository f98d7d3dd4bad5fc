package sim

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// HostSpec describes a physical host before it is registered.
type HostSpec struct {
	Name   string
	PEs    int
	PEMIPS float64
	Disks  []float64 // I/O capacity per disk
	RAM    int64     // bytes; <= 0 means unlimited
	BW     int64     // bytes per unit time; <= 0 means unlimited
	Mode   ShareMode // applies to both CPU and disk schedulers
}

// Host owns a CPU capacity pool, a disk capacity pool and RAM/BW budgets,
// and the guests placed on it. Guests are referenced by ID; a guest's
// back-reference is its Host() option.
type Host struct {
	ID   HostID
	Name string

	clock Clock
	cpu   *ShareScheduler
	disk  *ShareScheduler
	disks []*Disk

	ram, bw         int64
	ramUsed, bwUsed int64

	guests   map[GuestID]*Guest
	order    *GuestSet
	incoming map[GuestID]*Guest // reserved by a live migration, not yet placed

	peakCPU float64
}

func newHost(id HostID, spec HostSpec, clock Clock) *Host {
	if spec.PEs <= 0 {
		panic(fmt.Sprintf("Host %d: PEs must be > 0, got %d", id, spec.PEs))
	}
	if spec.PEMIPS <= 0 {
		panic(fmt.Sprintf("Host %d: PEMIPS must be > 0, got %f", id, spec.PEMIPS))
	}
	disks := make([]*Disk, len(spec.Disks))
	for i, iops := range spec.Disks {
		disks[i] = NewDisk(i, iops)
	}
	return &Host{
		ID:       id,
		Name:     spec.Name,
		clock:    clock,
		cpu:      NewShareScheduler(spec.Mode, NewCapacityPool(spec.PEs, spec.PEMIPS)),
		disk:     NewIndexedShareScheduler(spec.Mode, NewCapacityPoolOf(spec.Disks)),
		disks:    disks,
		ram:      spec.RAM,
		bw:       spec.BW,
		guests:   make(map[GuestID]*Guest),
		order:    NewGuestSet(),
		incoming: make(map[GuestID]*Guest),
	}
}

// CPU returns the host's CPU share scheduler.
func (h *Host) CPU() *ShareScheduler { return h.cpu }

// DiskScheduler returns the host's disk share scheduler.
func (h *Host) DiskScheduler() *ShareScheduler { return h.disk }

// Disks returns the host's disks; Host satisfies DiskView.
func (h *Host) Disks() []*Disk { return h.disks }

// StoreData places a data item on disk index d.
func (h *Host) StoreData(d int, id DataItemID) {
	if d < 0 || d >= len(h.disks) {
		panic(fmt.Sprintf("Host %d: no disk %d", h.ID, d))
	}
	h.disks[d].Store(id)
}

// CPUAvailable is the CPU capacity not promised to any guest.
func (h *Host) CPUAvailable() float64 { return h.cpu.Available() }

// RAMAvailable returns the unreserved RAM, or -1 when unlimited.
func (h *Host) RAMAvailable() int64 {
	if h.ram <= 0 {
		return -1
	}
	return h.ram - h.ramUsed
}

// PeakCPUUtilization is the highest allocated/total CPU ratio seen by
// UpdateProcessing.
func (h *Host) PeakCPUUtilization() float64 { return h.peakCPU }

// NumGuests counts placed guests, excluding incoming migrations.
func (h *Host) NumGuests() int { return len(h.guests) }

// Guests returns the placed guests in ascending ID order.
func (h *Host) Guests() []*Guest {
	ids := make([]GuestID, 0, len(h.guests))
	for id := range h.guests {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*Guest, len(ids))
	for i, id := range ids {
		out[i] = h.guests[id]
	}
	return out
}

// Holds reports whether g is placed on this host.
func (h *Host) Holds(g *Guest) bool {
	_, ok := h.guests[g.ID]
	return ok
}

// CanHost reports whether g fits without oversubscribing or preempting.
func (h *Host) CanHost(g *Guest) bool {
	if !h.fitsBudgets(g) {
		return false
	}
	if !h.cpu.Fits(g.RequestedMIPS) {
		return false
	}
	return len(g.RequestedIOPS) == 0 || h.disk.Fits(g.RequestedIOPS)
}

// GuestCreate places g: RAM/BW budgets, CPU share, disk share, all or
// nothing. The guest's tracker is bound to the host's disks and resumed, and
// its achieved-runtime marker starts.
func (h *Host) GuestCreate(g *Guest) bool {
	if _, placed := g.Host(); placed {
		logrus.Warnf("Host %d: guest %d is already placed", h.ID, g.ID)
		return false
	}
	if !h.reserve(g) {
		return false
	}
	h.guests[g.ID] = g
	h.order.Add(g)
	g.host, g.placed = h.ID, true
	g.state = GuestRunning
	g.placements++

	now := h.clock.Now()
	if mt, ok := g.Scheduler.(*MultiResourceTracker); ok {
		mt.Bind(h)
	}
	g.Scheduler.Restore(now)
	g.startExec(now)
	logrus.Debugf("[t=%012.3f] host %d: created guest %d (%.1f MIPS)", now, h.ID, g.ID, g.TotalRequestedMIPS())
	return true
}

// GuestDestroy removes g and releases its capacity. The achieved-runtime
// interval is closed and its work items freeze until it is placed again.
func (h *Host) GuestDestroy(g *Guest) {
	if !h.Holds(g) {
		return
	}
	now := h.clock.Now()
	h.release(g)
	delete(h.guests, g.ID)
	h.order.Remove(g)
	g.placed = false
	g.stopExec(now)
	g.Scheduler.Suspend()
	if mt, ok := g.Scheduler.(*MultiResourceTracker); ok {
		mt.Bind(nil)
	}
	logrus.Debugf("[t=%012.3f] host %d: destroyed guest %d", now, h.ID, g.ID)
}

// UpdateProcessing drives every placed guest's tracker to now with the
// current allocation snapshot and returns the earliest next completion.
func (h *Host) UpdateProcessing(now float64) float64 {
	next := NoNextEvent
	allocated := 0.0
	for _, g := range h.Guests() {
		allocated += h.cpu.TotalAllocated(g.ID)
		next = min(next, g.Scheduler.UpdateProcessing(now, h.ShareOf(g)))
	}
	if total := h.cpu.Pool().TotalCapacity(); total > 0 {
		h.peakCPU = max(h.peakCPU, allocated/total)
	}
	return next
}

// ShareOf returns the allocation snapshot for g. The disk vector always has
// one entry per host disk.
func (h *Host) ShareOf(g *Guest) Share {
	disk := make([]float64, len(h.disks))
	copy(disk, h.disk.Allocated(g.ID))
	return Share{CPU: h.cpu.Allocated(g.ID), Disk: disk}
}

// NextGuestForPreempting returns the least important placed guest by the
// guest total order, or nil when the host is empty.
func (h *Host) NextGuestForPreempting() *Guest { return h.order.Last() }

// PreemptionCandidates returns the guests on h strictly less important than
// g, least important first.
func (h *Host) PreemptionCandidates(g *Guest) []*Guest {
	var out []*Guest
	items := h.order.Items()
	for i := len(items) - 1; i >= 0 && items[i].Priority > g.Priority; i-- {
		out = append(out, items[i])
	}
	return out
}

// CanHostWithout reports whether GuestCreate(g) would succeed once every
// guest in evicted were destroyed. Nothing is changed.
func (h *Host) CanHostWithout(g *Guest, evicted []*Guest) bool {
	ids := make([]GuestID, 0, len(evicted))
	ramUsed, bwUsed := h.ramUsed, h.bwUsed
	for _, e := range evicted {
		if !h.Holds(e) {
			continue
		}
		ids = append(ids, e.ID)
		ramUsed -= e.RAM
		bwUsed -= e.BW
	}
	if h.ram > 0 && ramUsed+g.RAM > h.ram {
		return false
	}
	if h.bw > 0 && bwUsed+g.BW > h.bw {
		return false
	}
	if !h.cpu.AdmitsWithout(g.RequestedMIPS, ids) {
		return false
	}
	return len(g.RequestedIOPS) == 0 || h.disk.AdmitsWithout(g.RequestedIOPS, ids)
}

// ReserveMigratingIn reserves capacity for a guest arriving by live
// migration. The guest receives no capacity here until
// CompleteMigrationIn.
func (h *Host) ReserveMigratingIn(g *Guest) bool {
	if h.Holds(g) || h.incoming[g.ID] != nil {
		return false
	}
	if !h.CanHost(g) {
		return false
	}
	h.cpu.SetMigratingIn(g.ID, true)
	h.disk.SetMigratingIn(g.ID, true)
	if !h.reserve(g) {
		h.cpu.SetMigratingIn(g.ID, false)
		h.disk.SetMigratingIn(g.ID, false)
		return false
	}
	h.incoming[g.ID] = g
	return true
}

// CancelMigratingIn drops a reservation made by ReserveMigratingIn.
func (h *Host) CancelMigratingIn(g *Guest) {
	if h.incoming[g.ID] == nil {
		return
	}
	delete(h.incoming, g.ID)
	h.release(g)
	h.cpu.SetMigratingIn(g.ID, false)
	h.disk.SetMigratingIn(g.ID, false)
}

// CompleteMigrationIn turns the reservation into a placement. The guest
// keeps executing; its achieved-runtime interval is not interrupted.
func (h *Host) CompleteMigrationIn(g *Guest) {
	if h.incoming[g.ID] == nil {
		return
	}
	delete(h.incoming, g.ID)
	h.cpu.SetMigratingIn(g.ID, false)
	h.disk.SetMigratingIn(g.ID, false)
	h.guests[g.ID] = g
	h.order.Add(g)
	g.host, g.placed = h.ID, true
	if mt, ok := g.Scheduler.(*MultiResourceTracker); ok {
		mt.Bind(h)
	}
}

// SetMigratingOut degrades g's allocation while it migrates away.
func (h *Host) SetMigratingOut(g *Guest, on bool) {
	if !h.Holds(g) {
		return
	}
	h.cpu.SetMigratingOut(g.ID, on)
	h.disk.SetMigratingOut(g.ID, on)
}

// ReleaseMigratingOut removes g after its migration completed elsewhere.
// Unlike GuestDestroy the guest keeps running.
func (h *Host) ReleaseMigratingOut(g *Guest) {
	if !h.Holds(g) {
		return
	}
	h.release(g)
	delete(h.guests, g.ID)
	h.order.Remove(g)
	g.placed = false
}

func (h *Host) fitsBudgets(g *Guest) bool {
	if h.ram > 0 && h.ramUsed+g.RAM > h.ram {
		return false
	}
	return h.bw <= 0 || h.bwUsed+g.BW <= h.bw
}

// reserve takes RAM, BW, CPU and disk capacity for g, or nothing.
func (h *Host) reserve(g *Guest) bool {
	if !h.fitsBudgets(g) {
		logrus.Debugf("Host %d: guest %d exceeds RAM/BW budget", h.ID, g.ID)
		return false
	}
	if !h.cpu.Allocate(g.ID, g.RequestedMIPS) {
		logrus.Debugf("Host %d: CPU allocation rejected for guest %d (%.1f requested, %.1f available)",
			h.ID, g.ID, floats.Sum(g.RequestedMIPS), h.cpu.Available())
		return false
	}
	if len(g.RequestedIOPS) > 0 && !h.disk.Allocate(g.ID, g.RequestedIOPS) {
		logrus.Debugf("Host %d: disk allocation rejected for guest %d", h.ID, g.ID)
		h.cpu.Deallocate(g.ID)
		return false
	}
	h.ramUsed += g.RAM
	h.bwUsed += g.BW
	return true
}

func (h *Host) release(g *Guest) {
	for _, s := range []*ShareScheduler{h.cpu, h.disk} {
		if dropped := s.Deallocate(g.ID); len(dropped) > 0 {
			logrus.Warnf("Host %d: guests %v lost their %s allocation on rebuild", h.ID, dropped, s.Mode())
		}
	}
	h.ramUsed -= g.RAM
	h.bwUsed -= g.BW
}
