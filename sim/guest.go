package sim

import (
	"cmp"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// GuestID identifies a guest (VM or container) within one Registry.
type GuestID int

// HostID identifies a host within one Registry.
type HostID int

// GuestState is the lifecycle state of a guest.
type GuestState string

const (
	GuestPending    GuestState = "pending"
	GuestRunning    GuestState = "running"
	GuestFinished   GuestState = "finished"
	GuestTerminated GuestState = "terminated"
)

// GuestKey is the snapshotted ordering key of a guest: priority, then
// submission time, then identity. It is computed once at construction so a
// guest never moves inside an ordered set.
type GuestKey struct {
	Priority       int
	SubmissionTime float64
	ID             GuestID
}

// CompareGuestKeys orders keys from most to least important.
// Lower priority values are more important.
func CompareGuestKeys(a, b GuestKey) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SubmissionTime, b.SubmissionTime); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// GuestSpec describes a guest before it is registered.
type GuestSpec struct {
	Name           string
	Priority       int
	SubmissionTime float64
	TargetRuntime  float64   // <= 0 means "until its work items are done"
	MIPS           []float64 // requested capacity per vPE
	IOPS           []float64 // requested I/O capacity per host disk (optional)
	RAM            int64     // bytes; also the work-item memory budget
	BW             int64     // bytes per unit time
}

// Guest is a virtual machine or container consuming host capacity.
// Hosts and guests refer to each other by ID only.
type Guest struct {
	ID             GuestID
	Name           string
	Priority       int
	SubmissionTime float64
	TargetRuntime  float64
	RequestedMIPS  []float64
	RequestedIOPS  []float64
	RAM            int64
	BW             int64

	// Scheduler runs the guest's work items.
	Scheduler WorkScheduler

	key    GuestKey
	state  GuestState
	host   HostID
	placed bool

	achieved   float64
	execSince  float64
	executing  bool
	preempted  int
	placements int
}

func newGuest(id GuestID, spec GuestSpec, sched WorkScheduler) *Guest {
	if len(spec.MIPS) == 0 {
		panic(fmt.Sprintf("Guest %d: at least one vPE must be requested", id))
	}
	if sched == nil {
		panic(fmt.Sprintf("Guest %d: work scheduler must not be nil", id))
	}
	return &Guest{
		ID:             id,
		Name:           spec.Name,
		Priority:       spec.Priority,
		SubmissionTime: spec.SubmissionTime,
		TargetRuntime:  spec.TargetRuntime,
		RequestedMIPS:  append([]float64(nil), spec.MIPS...),
		RequestedIOPS:  append([]float64(nil), spec.IOPS...),
		RAM:            spec.RAM,
		BW:             spec.BW,
		Scheduler:      sched,
		key:            GuestKey{Priority: spec.Priority, SubmissionTime: spec.SubmissionTime, ID: id},
		state:          GuestPending,
	}
}

// Key returns the ordering key snapshotted at construction.
func (g *Guest) Key() GuestKey { return g.key }

// State returns the lifecycle state.
func (g *Guest) State() GuestState { return g.state }

// Host returns the current host, if placed.
func (g *Guest) Host() (HostID, bool) { return g.host, g.placed }

// TotalRequestedMIPS sums the vPE requests.
func (g *Guest) TotalRequestedMIPS() float64 { return floats.Sum(g.RequestedMIPS) }

// AchievedRuntime returns the time the guest has spent holding an
// allocation, including the interval still open at now.
func (g *Guest) AchievedRuntime(now float64) float64 {
	if g.executing && now > g.execSince {
		return g.achieved + (now - g.execSince)
	}
	return g.achieved
}

// RemainingRuntime is the runtime still owed before the guest is done.
// Guests without a target runtime report 0.
func (g *Guest) RemainingRuntime(now float64) float64 {
	if g.TargetRuntime <= 0 {
		return 0
	}
	return max(0, g.TargetRuntime-g.AchievedRuntime(now))
}

// Preemptions counts how often the guest was evicted.
func (g *Guest) Preemptions() int { return g.preempted }

// Placements counts how often the guest was placed on a host. A live
// migration does not count as a new placement.
func (g *Guest) Placements() int { return g.placements }

// Executing reports whether the achieved-runtime marker is open.
func (g *Guest) Executing() bool { return g.executing }

func (g *Guest) startExec(now float64) {
	if g.executing {
		return
	}
	g.executing = true
	g.execSince = now
}

func (g *Guest) stopExec(now float64) {
	if !g.executing {
		return
	}
	if now > g.execSince {
		g.achieved += now - g.execSince
	}
	g.executing = false
}

func (g *Guest) String() string {
	return fmt.Sprintf("Guest(ID: %d, Name: %q, Priority: %d, State: %s)", g.ID, g.Name, g.Priority, g.state)
}
