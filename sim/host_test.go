package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *ManualClock) {
	clock := NewManualClock()
	return NewRegistry(clock), clock
}

func TestHost_GuestCreate_ReservesEveryDimension(t *testing.T) {
	// GIVEN a host with 2x100 MIPS, one disk, 1 KiB RAM and 100 BW
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 2, PEMIPS: 100, Disks: []float64{100}, RAM: 1024, BW: 100})
	g := reg.NewGuest(GuestSpec{MIPS: []float64{100}, IOPS: []float64{40}, RAM: 512, BW: 10}, TrackerMulti)

	// WHEN the guest is created
	require.True(t, h.GuestCreate(g))

	// THEN it is placed and every budget is charged
	id, placed := g.Host()
	assert.True(t, placed)
	assert.Equal(t, h.ID, id)
	assert.Equal(t, GuestRunning, g.State())
	assert.True(t, g.Executing())
	assert.Equal(t, 100.0, h.CPUAvailable())
	assert.Equal(t, int64(512), h.RAMAvailable())
	assert.Equal(t, []float64{40}, h.DiskScheduler().Allocated(g.ID))
	assert.True(t, g.Scheduler.(*MultiResourceTracker).Bound())
	assert.Equal(t, []*Guest{g}, h.Guests())

	assert.False(t, h.GuestCreate(g), "a placed guest cannot be created twice")
}

func TestHost_GuestCreate_AllOrNothing(t *testing.T) {
	// GIVEN a strict host whose only disk is mostly taken
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 2, PEMIPS: 100, Disks: []float64{100}})
	first := reg.NewGuest(GuestSpec{MIPS: []float64{50}, IOPS: []float64{80}}, TrackerCPU)
	second := reg.NewGuest(GuestSpec{MIPS: []float64{50}, IOPS: []float64{40}}, TrackerCPU)
	require.True(t, h.GuestCreate(first))

	// WHEN the second guest's CPU fits but its disk request does not
	ok := h.GuestCreate(second)

	// THEN nothing of it is kept
	assert.False(t, ok)
	assert.Equal(t, 150.0, h.CPUAvailable())
	assert.False(t, h.CPU().Holds(second.ID))
	_, placed := second.Host()
	assert.False(t, placed)
}

func TestHost_GuestCreate_RAMBudget(t *testing.T) {
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 100, RAM: 1024})
	g := reg.NewGuest(GuestSpec{MIPS: []float64{10}, RAM: 2048}, TrackerCPU)

	assert.False(t, h.GuestCreate(g))
	assert.False(t, h.CanHost(g))
	assert.Equal(t, 100.0, h.CPUAvailable())
}

func TestHost_UnlimitedBudgets(t *testing.T) {
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 100})
	g := reg.NewGuest(GuestSpec{MIPS: []float64{10}, RAM: 1 << 40, BW: 1 << 30}, TrackerCPU)

	assert.True(t, h.GuestCreate(g))
	assert.Equal(t, int64(-1), h.RAMAvailable())
}

func TestHost_GuestDestroy_StopsRuntimeAndFreezesWork(t *testing.T) {
	// GIVEN a guest running one item since t=0
	reg, clock := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 100})
	g := reg.NewGuest(GuestSpec{MIPS: []float64{100}}, TrackerCPU)
	item := reg.NewWorkItem(g, WorkItemSpec{Length: 1000})
	require.True(t, h.GuestCreate(g))
	g.Scheduler.Submit(item, 0)
	h.UpdateProcessing(0)

	// WHEN it is destroyed at t=4
	h.UpdateProcessing(clock.Advance(4))
	h.GuestDestroy(g)

	// THEN runtime stops accruing and its capacity returns
	assert.Equal(t, 4.0, g.AchievedRuntime(10))
	assert.False(t, g.Executing())
	assert.Equal(t, 100.0, h.CPUAvailable())
	assert.Equal(t, 0, h.NumGuests())
	assert.Equal(t, ItemWaiting, item.Status())
	assert.Equal(t, 600.0, item.RemainingCPU())

	h.GuestDestroy(g) // no-op
}

func TestHost_UpdateProcessing_EarliestAcrossGuests(t *testing.T) {
	// GIVEN two guests with items finishing at 10 and 4
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 2, PEMIPS: 100})
	a := reg.NewGuest(GuestSpec{MIPS: []float64{100}}, TrackerCPU)
	b := reg.NewGuest(GuestSpec{MIPS: []float64{50}}, TrackerCPU)
	require.True(t, h.GuestCreate(a))
	require.True(t, h.GuestCreate(b))
	a.Scheduler.Submit(reg.NewWorkItem(a, WorkItemSpec{Length: 1000}), 0)
	b.Scheduler.Submit(reg.NewWorkItem(b, WorkItemSpec{Length: 200}), 0)

	// WHEN the host ticks
	next := h.UpdateProcessing(0)

	// THEN the earliest completion wins and utilization is recorded
	assert.Equal(t, 4.0, next)
	assert.InDelta(t, 0.75, h.PeakCPUUtilization(), 1e-9)
}

func TestHost_ShareOf_PadsDiskVector(t *testing.T) {
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 100, Disks: []float64{100, 100}})
	g := reg.NewGuest(GuestSpec{MIPS: []float64{30}, IOPS: []float64{20}}, TrackerMulti)
	require.True(t, h.GuestCreate(g))

	share := h.ShareOf(g)

	assert.Equal(t, []float64{30}, share.CPU)
	assert.Equal(t, []float64{20, 0}, share.Disk)
}

func TestHost_NextGuestForPreempting_LeastImportant(t *testing.T) {
	// GIVEN guests of priority 3, 1 and 2
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 300})
	var guests []*Guest
	for _, p := range []int{3, 1, 2} {
		g := reg.NewGuest(GuestSpec{Priority: p, MIPS: []float64{10}}, TrackerCPU)
		require.True(t, h.GuestCreate(g))
		guests = append(guests, g)
	}

	assert.Equal(t, guests[0], h.NextGuestForPreempting())

	h.GuestDestroy(guests[0])
	assert.Equal(t, guests[2], h.NextGuestForPreempting())
}

func TestHost_PreemptionCandidates_StrictlyLowerWorstFirst(t *testing.T) {
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 300})
	var guests []*Guest
	for _, p := range []int{3, 1, 2, 3} {
		g := reg.NewGuest(GuestSpec{Priority: p, MIPS: []float64{10}}, TrackerCPU)
		require.True(t, h.GuestCreate(g))
		guests = append(guests, g)
	}
	incoming := reg.NewGuest(GuestSpec{Priority: 2, MIPS: []float64{10}}, TrackerCPU)

	assert.Equal(t, []*Guest{guests[3], guests[0]}, h.PreemptionCandidates(incoming))
}

func TestHost_CanHostWithout_ChecksEveryDimension(t *testing.T) {
	// GIVEN a strict host with 100 MIPS and 1 KiB RAM, split between two guests
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 100, RAM: 1024})
	big := reg.NewGuest(GuestSpec{MIPS: []float64{60}, RAM: 256}, TrackerCPU)
	small := reg.NewGuest(GuestSpec{MIPS: []float64{30}, RAM: 768}, TrackerCPU)
	require.True(t, h.GuestCreate(big))
	require.True(t, h.GuestCreate(small))

	// THEN only evictions freeing both CPU and RAM make room
	g := reg.NewGuest(GuestSpec{MIPS: []float64{50}, RAM: 512}, TrackerCPU)
	assert.False(t, h.CanHostWithout(g, nil))
	assert.False(t, h.CanHostWithout(g, []*Guest{big}), "CPU frees but RAM does not")
	assert.False(t, h.CanHostWithout(g, []*Guest{small}), "RAM frees but CPU does not")
	assert.True(t, h.CanHostWithout(g, []*Guest{big, small}))

	// AND nothing was released by asking
	assert.True(t, h.Holds(big))
	assert.True(t, h.Holds(small))
	assert.Equal(t, 10.0, h.CPUAvailable())
}

func TestHost_StoreData_ResolvesAffinity(t *testing.T) {
	reg, _ := newTestRegistry()
	h := reg.NewHost(HostSpec{PEs: 1, PEMIPS: 100, Disks: []float64{100, 100}})
	d := reg.NewDataItem("set", 10)
	h.StoreData(1, d.ID)
	g := reg.NewGuest(GuestSpec{MIPS: []float64{10}, IOPS: []float64{0, 50}}, TrackerMulti)
	item := reg.NewWorkItem(g, WorkItemSpec{IOLength: 100, Data: &d.ID})
	require.True(t, h.GuestCreate(g))

	g.Scheduler.Submit(item, 0)
	next := h.UpdateProcessing(0)

	disk, ok := item.Disk()
	require.True(t, ok)
	assert.Equal(t, 1, disk)
	assert.Equal(t, 2.0, next)
	assert.Panics(t, func() { h.StoreData(5, d.ID) })
}

func TestNewHost_InvalidSpec_Panics(t *testing.T) {
	reg, _ := newTestRegistry()
	assert.PanicsWithValue(t, "Host 0: PEs must be > 0, got 0", func() {
		reg.NewHost(HostSpec{PEMIPS: 100})
	})
	assert.Panics(t, func() { reg.NewHost(HostSpec{PEs: 1}) })
}
