package sim

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/cloudsim-go/cloudsim/sim/trace"
)

// migration tracks a live migration in flight.
type migration struct {
	from, to *Host
}

// PlacementPolicy places guests on hosts, preempting less important guests
// when a host is full, and re-admits pending guests when capacity frees up.
//
// Results are pulled: DrainAdmitted and DrainPreempted return the guests
// whose placement changed since the last drain, in the order it happened.
type PlacementPolicy struct {
	clock Clock
	hosts []*Host

	running *GuestSet
	pending *GuestSet

	admitted  []*Guest
	preempted []*Guest

	migrations map[GuestID]migration
	trace      *trace.SimulationTrace
}

// NewPlacementPolicy creates a policy over hosts. tr may be nil.
func NewPlacementPolicy(clock Clock, hosts []*Host, tr *trace.SimulationTrace) *PlacementPolicy {
	if clock == nil {
		panic("PlacementPolicy: clock must not be nil")
	}
	sorted := slices.Clone(hosts)
	slices.SortFunc(sorted, func(a, b *Host) int { return int(a.ID) - int(b.ID) })
	return &PlacementPolicy{
		clock:      clock,
		hosts:      sorted,
		running:    NewGuestSet(),
		pending:    NewGuestSet(),
		migrations: make(map[GuestID]migration),
		trace:      tr,
	}
}

// Hosts returns the hosts in ID order.
func (p *PlacementPolicy) Hosts() []*Host { return slices.Clone(p.hosts) }

// Running returns the running guests from most to least important.
func (p *PlacementPolicy) Running() []*Guest { return p.running.Items() }

// Pending returns the guests awaiting (re-)placement, most important first.
func (p *PlacementPolicy) Pending() []*Guest { return p.pending.Items() }

// IsPending reports whether g is waiting for a host.
func (p *PlacementPolicy) IsPending(g *Guest) bool { return p.pending.Contains(g) }

// SelectHost returns the host with the most available CPU capacity, lowest
// ID on ties, or nil when there are no hosts.
func (p *PlacementPolicy) SelectHost(g *Guest) *Host {
	var best *Host
	for _, h := range p.hosts {
		if best == nil || h.CPUAvailable() > best.CPUAvailable() {
			best = h
		}
	}
	return best
}

// AllocateHostForGuest places g on the host chosen by SelectHost.
func (p *PlacementPolicy) AllocateHostForGuest(g *Guest) bool {
	return p.TryAllocate(g, p.SelectHost(g))
}

// TryAllocate places g on h. When h is full it evicts h's guests that are
// strictly less important than g, least important first, stopping as soon
// as g fits. Evictions happen only when they are known to make room; if no
// such set exists, g is added to the pending set and h is left untouched.
// Evicted guests are offered to the other hosts before they wait.
func (p *PlacementPolicy) TryAllocate(g *Guest, h *Host) bool {
	if _, placed := g.Host(); placed {
		logrus.Warnf("PlacementPolicy: guest %d is already placed", g.ID)
		return false
	}
	now := p.clock.Now()
	if h == nil {
		p.deferGuest(g, -1, "no host")
		return false
	}
	if h.GuestCreate(g) {
		p.markRunning(g, h, "placed")
		return true
	}
	victims := p.victimsFor(g, h)
	if victims == nil {
		p.deferGuest(g, int(h.ID), "insufficient capacity")
		logrus.Warnf("[t=%012.3f] guest %d (priority %d) deferred: host %d full, no preemptible guest set makes room",
			now, g.ID, g.Priority, h.ID)
		return false
	}
	for _, v := range victims {
		p.preempt(v, g, h)
	}
	if !h.GuestCreate(g) {
		logrus.Warnf("[t=%012.3f] guest %d deferred: host %d rejected it after %d evictions", now, g.ID, h.ID, len(victims))
		p.deferGuest(g, int(h.ID), "insufficient capacity")
		p.admitPending(h)
		return h.Holds(g)
	}
	p.markRunning(g, h, "placed")
	p.relocate(victims, h)
	return true
}

// victimsFor returns the shortest worst-first run of h's preemptible guests
// whose eviction lets g fit, or nil when evicting all of them is not enough.
func (p *PlacementPolicy) victimsFor(g *Guest, h *Host) []*Guest {
	candidates := h.PreemptionCandidates(g)
	for k := 1; k <= len(candidates); k++ {
		if h.CanHostWithout(g, candidates[:k]) {
			return candidates[:k]
		}
	}
	return nil
}

// relocate places evicted guests on other hosts with spare room, most
// available first, without preemption.
func (p *PlacementPolicy) relocate(victims []*Guest, from *Host) {
	for _, v := range victims {
		if v.State() != GuestPending {
			continue
		}
		var best *Host
		for _, h := range p.hosts {
			if h == from || !h.CanHost(v) {
				continue
			}
			if best == nil || h.CPUAvailable() > best.CPUAvailable() {
				best = h
			}
		}
		if best != nil && best.GuestCreate(v) {
			p.markRunning(v, best, "re-admitted")
		}
	}
}

// DeallocateHostForGuest removes a guest that reached its target runtime
// and admits pending guests that now fit on the freed host.
func (p *PlacementPolicy) DeallocateHostForGuest(g *Guest) {
	h := p.release(g)
	g.state = GuestFinished
	logrus.Infof("[t=%012.3f] guest %d finished after %.3f runtime", p.clock.Now(), g.ID, g.AchievedRuntime(p.clock.Now()))
	if h != nil {
		p.admitPending(h)
	}
}

// TerminateGuest removes g whether running or pending and fails its live
// work items.
func (p *PlacementPolicy) TerminateGuest(g *Guest) {
	h := p.release(g)
	g.Scheduler.FailAll(FailureTerminated)
	g.state = GuestTerminated
	logrus.Infof("[t=%012.3f] guest %d terminated", p.clock.Now(), g.ID)
	if h != nil {
		p.admitPending(h)
	}
}

// MigrateGuest starts a live migration of a running guest to dst. The
// destination reserves capacity but grants none until CompleteMigration;
// the source keeps the guest at a degraded share meanwhile.
func (p *PlacementPolicy) MigrateGuest(g *Guest, dst *Host) bool {
	src := p.hostOf(g)
	if src == nil || dst == nil || src == dst {
		return false
	}
	if _, ok := p.migrations[g.ID]; ok {
		return false
	}
	if !dst.ReserveMigratingIn(g) {
		logrus.Warnf("[t=%012.3f] migration of guest %d to host %d rejected", p.clock.Now(), g.ID, dst.ID)
		return false
	}
	src.SetMigratingOut(g, true)
	p.migrations[g.ID] = migration{from: src, to: dst}
	p.trace.RecordMigration(trace.MigrationRecord{
		GuestID: int(g.ID), FromHost: int(src.ID), ToHost: int(dst.ID), Clock: p.clock.Now(),
	})
	logrus.Infof("[t=%012.3f] guest %d migrating from host %d to host %d", p.clock.Now(), g.ID, src.ID, dst.ID)
	return true
}

// CompleteMigration moves g to its destination and admits pending guests on
// the source.
func (p *PlacementPolicy) CompleteMigration(g *Guest) bool {
	m, ok := p.migrations[g.ID]
	if !ok {
		return false
	}
	delete(p.migrations, g.ID)
	m.from.ReleaseMigratingOut(g)
	m.to.CompleteMigrationIn(g)
	p.trace.RecordMigration(trace.MigrationRecord{
		GuestID: int(g.ID), FromHost: int(m.from.ID), ToHost: int(m.to.ID), Clock: p.clock.Now(), Completed: true,
	})
	p.admitPending(m.from)
	return true
}

// Migrating reports whether g has a migration in flight.
func (p *PlacementPolicy) Migrating(g *Guest) bool {
	_, ok := p.migrations[g.ID]
	return ok
}

// DrainAdmitted returns and clears the guests placed since the last drain.
func (p *PlacementPolicy) DrainAdmitted() []*Guest {
	out := p.admitted
	p.admitted = nil
	return out
}

// DrainPreempted returns and clears the guests evicted since the last drain.
func (p *PlacementPolicy) DrainPreempted() []*Guest {
	out := p.preempted
	p.preempted = nil
	return out
}

// admitPending places pending guests on h greedily, first fit in pending
// order, without preemption.
func (p *PlacementPolicy) admitPending(h *Host) {
	for _, c := range p.pending.Items() {
		if c.State() != GuestPending || !h.CanHost(c) {
			continue
		}
		if h.GuestCreate(c) {
			p.markRunning(c, h, "re-admitted")
		}
	}
}

func (p *PlacementPolicy) preempt(victim, incoming *Guest, h *Host) {
	now := p.clock.Now()
	p.cancelMigration(victim)
	h.GuestDestroy(victim)
	victim.preempted++
	victim.state = GuestPending
	p.running.Remove(victim)
	p.pending.Add(victim)
	p.preempted = append(p.preempted, victim)
	p.trace.RecordPreemption(trace.PreemptionRecord{
		VictimID:         int(victim.ID),
		VictimPriority:   victim.Priority,
		IncomingID:       int(incoming.ID),
		IncomingPriority: incoming.Priority,
		HostID:           int(h.ID),
		Clock:            now,
		AchievedRuntime:  victim.AchievedRuntime(now),
	})
	logrus.Warnf("[t=%012.3f] host %d: preempted guest %d (priority %d) for guest %d (priority %d)",
		now, h.ID, victim.ID, victim.Priority, incoming.ID, incoming.Priority)
}

func (p *PlacementPolicy) markRunning(g *Guest, h *Host, reason string) {
	p.pending.Remove(g)
	p.running.Add(g)
	p.admitted = append(p.admitted, g)
	p.trace.RecordPlacement(trace.PlacementRecord{
		GuestID: int(g.ID), HostID: int(h.ID), Clock: p.clock.Now(), Placed: true, Reason: reason,
	})
	logrus.Infof("[t=%012.3f] guest %d %s on host %d", p.clock.Now(), g.ID, reason, h.ID)
}

func (p *PlacementPolicy) deferGuest(g *Guest, hostID int, reason string) {
	g.state = GuestPending
	p.pending.Add(g)
	p.trace.RecordPlacement(trace.PlacementRecord{
		GuestID: int(g.ID), HostID: hostID, Clock: p.clock.Now(), Reason: reason,
	})
}

// release takes g off its host and out of both sets. It returns the host
// that was freed, if any.
func (p *PlacementPolicy) release(g *Guest) *Host {
	p.cancelMigration(g)
	p.pending.Remove(g)
	p.running.Remove(g)
	h := p.hostOf(g)
	if h != nil {
		h.GuestDestroy(g)
	}
	return h
}

func (p *PlacementPolicy) cancelMigration(g *Guest) {
	m, ok := p.migrations[g.ID]
	if !ok {
		return
	}
	delete(p.migrations, g.ID)
	m.to.CancelMigratingIn(g)
	m.from.SetMigratingOut(g, false)
}

func (p *PlacementPolicy) hostOf(g *Guest) *Host {
	id, ok := g.Host()
	if !ok {
		return nil
	}
	for _, h := range p.hosts {
		if h.ID == id {
			return h
		}
	}
	panic(fmt.Sprintf("PlacementPolicy: guest %d placed on unknown host %d", g.ID, id))
}
