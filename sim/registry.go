package sim

import (
	"fmt"
	"slices"
)

// TrackerKind selects which WorkScheduler a new guest runs its items on.
type TrackerKind string

const (
	// TrackerCPU is the time-shared, CPU-only ProgressTracker.
	TrackerCPU TrackerKind = "cpu"
	// TrackerMulti is the CPU + disk I/O MultiResourceTracker.
	TrackerMulti TrackerKind = "multi"
)

// validTrackerKinds maps accepted tracker names.
var validTrackerKinds = map[TrackerKind]bool{
	TrackerCPU:   true,
	TrackerMulti: true,
	"":           true, // empty defaults to cpu
}

// IsValidTrackerKind returns true if name is a recognized tracker kind.
func IsValidTrackerKind(name string) bool { return validTrackerKinds[TrackerKind(name)] }

// Registry is the arena of one simulation: it hands out identities from
// per-kind counters and owns every host, guest, work item and data item.
// Two registries never share IDs or state.
type Registry struct {
	clock Clock

	hosts  []*Host
	guests []*Guest
	items  []*WorkItem
	data   []*DataItem
}

// NewRegistry creates an empty registry whose entities read time from clock.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		panic("Registry: clock must not be nil")
	}
	return &Registry{clock: clock}
}

// Clock returns the clock entities were created with.
func (r *Registry) Clock() Clock { return r.clock }

// NewHost registers a host.
func (r *Registry) NewHost(spec HostSpec) *Host {
	h := newHost(HostID(len(r.hosts)), spec, r.clock)
	r.hosts = append(r.hosts, h)
	return h
}

// NewGuest registers a guest with a work scheduler of the given kind.
// A multi-resource guest's memory budget is its RAM.
func (r *Registry) NewGuest(spec GuestSpec, kind TrackerKind) *Guest {
	var sched WorkScheduler
	switch kind {
	case TrackerCPU, "":
		sched = NewProgressTracker(r.clock)
	case TrackerMulti:
		sched = NewMultiResourceTracker(r.clock, spec.RAM)
	default:
		panic(fmt.Sprintf("Registry: unknown tracker kind %q", kind))
	}
	g := newGuest(GuestID(len(r.guests)), spec, sched)
	r.guests = append(r.guests, g)
	return g
}

// NewWorkItem registers a work item owned by g. It is not submitted.
func (r *Registry) NewWorkItem(g *Guest, spec WorkItemSpec) *WorkItem {
	if spec.Data != nil && int(*spec.Data) >= len(r.data) {
		panic(fmt.Sprintf("Registry: work item references unknown data item %d", *spec.Data))
	}
	w := newWorkItem(WorkItemID(len(r.items)), g.ID, spec)
	r.items = append(r.items, w)
	return w
}

// NewDataItem registers a data item. Store it on disks with Host.StoreData.
func (r *Registry) NewDataItem(name string, size int64) *DataItem {
	d := &DataItem{ID: DataItemID(len(r.data)), Name: name, Size: size}
	r.data = append(r.data, d)
	return d
}

// Host returns the host with id, or nil.
func (r *Registry) Host(id HostID) *Host {
	if int(id) < 0 || int(id) >= len(r.hosts) {
		return nil
	}
	return r.hosts[id]
}

// Guest returns the guest with id, or nil.
func (r *Registry) Guest(id GuestID) *Guest {
	if int(id) < 0 || int(id) >= len(r.guests) {
		return nil
	}
	return r.guests[id]
}

// WorkItem returns the work item with id, or nil.
func (r *Registry) WorkItem(id WorkItemID) *WorkItem {
	if int(id) < 0 || int(id) >= len(r.items) {
		return nil
	}
	return r.items[id]
}

// DataItem returns the data item with id, or nil.
func (r *Registry) DataItem(id DataItemID) *DataItem {
	if int(id) < 0 || int(id) >= len(r.data) {
		return nil
	}
	return r.data[id]
}

// DataItemByName finds a data item by name.
func (r *Registry) DataItemByName(name string) (*DataItem, bool) {
	for _, d := range r.data {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// GuestByName finds the first guest with the given name.
func (r *Registry) GuestByName(name string) (*Guest, bool) {
	for _, g := range r.guests {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Hosts returns every host in ID order.
func (r *Registry) Hosts() []*Host { return slices.Clone(r.hosts) }

// Guests returns every guest in ID order.
func (r *Registry) Guests() []*Guest { return slices.Clone(r.guests) }

// WorkItems returns every work item in ID order.
func (r *Registry) WorkItems() []*WorkItem { return slices.Clone(r.items) }
