package datacenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsim-go/cloudsim/sim"
	"github.com/cloudsim-go/cloudsim/sim/internal/testutil"
	"github.com/cloudsim-go/cloudsim/sim/trace"
)

// newTestDatacenter builds a datacenter with strict single-PE hosts of the
// given capacities.
func newTestDatacenter(cfg Config, capacities ...float64) *Datacenter {
	dc := NewDatacenter(cfg)
	for _, c := range capacities {
		dc.Registry().NewHost(sim.HostSpec{PEs: 1, PEMIPS: c})
	}
	return dc
}

func (d *Datacenter) testGuest(name string, priority int, at, runtime float64, mips ...float64) *sim.Guest {
	g := d.Registry().NewGuest(sim.GuestSpec{
		Name: name, Priority: priority, SubmissionTime: at, TargetRuntime: runtime, MIPS: mips,
	}, sim.TrackerCPU)
	d.SubmitGuest(g, at)
	return g
}

func TestDatacenter_GuestRunsForTargetRuntime(t *testing.T) {
	// GIVEN one guest with a target runtime of 10
	dc := newTestDatacenter(Config{}, 1000)
	g := dc.testGuest("vm", 1, 0, 10, 1000)

	// WHEN the simulation runs
	dc.Run()

	// THEN the guest is destroyed exactly at its target runtime
	m := dc.Metrics()
	assert.Equal(t, sim.GuestFinished, g.State())
	testutil.AssertFloat64Equal(t, "achieved runtime", 10, g.AchievedRuntime(dc.Now()), 1e-9)
	assert.Equal(t, 10.0, m.SimEndTime)
	assert.Equal(t, 1, m.GuestsSubmitted)
	assert.Equal(t, 1, m.GuestsFinished)
	assert.Equal(t, 1, m.Placements)
	assert.Equal(t, 0, dc.Registry().Host(0).NumGuests())
}

func TestDatacenter_WorkItemsDriveGuestWithoutTargetRuntime(t *testing.T) {
	// GIVEN a guest without a target runtime and one 10000 MI item on 1000 MIPS
	dc := newTestDatacenter(Config{}, 1000)
	g := dc.testGuest("vm", 1, 0, 0, 1000)
	item := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 10000})
	dc.SubmitWorkItem(item, 0, 0)

	// WHEN the simulation runs
	dc.Run()

	// THEN the item finishes at t=10 and the guest is released with it
	m := dc.Metrics()
	assert.Equal(t, sim.ItemFinished, item.Status())
	testutil.AssertFloat64Equal(t, "finish time", 10, item.FinishTime, 1e-9)
	assert.Equal(t, 1, m.ItemsFinished)
	testutil.AssertFloat64Equal(t, "mean turnaround", 10, m.Turnaround.Mean, 1e-9)
	assert.Equal(t, sim.GuestFinished, g.State())
	assert.Equal(t, 1, m.GuestsFinished)
	assert.Equal(t, 0, m.ItemsUnfinished)
}

func TestDatacenter_PreemptedGuestResumesAndCompletesRuntime(t *testing.T) {
	// GIVEN a low-priority guest needing 100 and a high-priority guest
	// needing 20 that arrives at t=10 on the same full host
	dc := newTestDatacenter(Config{Trace: trace.TraceConfig{Level: trace.TraceLevelDecisions}}, 1000)
	low := dc.testGuest("batch", 5, 0, 100, 1000)
	high := dc.testGuest("web", 1, 10, 20, 1000)

	// WHEN the simulation runs
	dc.Run()

	// THEN the high-priority guest evicts the low one, runs 10..30, and the
	// low one is re-admitted and finishes its remaining 90 at t=120
	m := dc.Metrics()
	assert.Equal(t, 1, m.Preemptions)
	assert.Equal(t, 3, m.Placements)
	assert.Equal(t, 2, m.GuestsFinished)
	assert.Equal(t, sim.GuestFinished, high.State())
	assert.Equal(t, sim.GuestFinished, low.State())
	assert.Equal(t, 1, low.Preemptions())
	testutil.AssertFloat64Equal(t, "low runtime", 100, low.AchievedRuntime(dc.Now()), 1e-9)
	testutil.AssertFloat64Equal(t, "high runtime", 20, high.AchievedRuntime(dc.Now()), 1e-9)
	testutil.AssertFloat64Equal(t, "end time", 120, m.SimEndTime, 1e-9)

	require.Len(t, dc.Trace().Preemptions, 1)
	rec := dc.Trace().Preemptions[0]
	assert.Equal(t, int(low.ID), rec.VictimID)
	assert.Equal(t, int(high.ID), rec.IncomingID)
	assert.Equal(t, 10.0, rec.Clock)
	testutil.AssertFloat64Equal(t, "victim runtime at eviction", 10, rec.AchievedRuntime, 1e-9)
}

func TestDatacenter_EqualPriorityWaitsAndNeverFittingStaysPending(t *testing.T) {
	// GIVEN a running guest, an equal-priority guest that must wait, and a
	// guest with more vPEs than the host has PEs
	dc := newTestDatacenter(Config{}, 1000)
	first := dc.testGuest("first", 1, 0, 10, 1000)
	second := dc.testGuest("second", 1, 1, 5, 1000)
	tooWide := dc.testGuest("wide", 9, 2, 5, 500, 500)

	// WHEN the simulation runs
	dc.Run()

	// THEN the equal-priority guest is not preempted for, runs once the first
	// finishes, and the wide guest is still pending at the end
	m := dc.Metrics()
	assert.Equal(t, 0, m.Preemptions)
	assert.Equal(t, sim.GuestFinished, first.State())
	assert.Equal(t, sim.GuestFinished, second.State())
	assert.Equal(t, sim.GuestPending, tooWide.State())
	assert.Equal(t, 1, m.GuestsPending)
	testutil.AssertFloat64Equal(t, "end time", 15, m.SimEndTime, 1e-9)
}

func TestDatacenter_HorizonCutsRun(t *testing.T) {
	// GIVEN a guest needing 100 and a horizon at 50
	dc := newTestDatacenter(Config{Horizon: 50}, 1000)
	g := dc.testGuest("vm", 1, 0, 100, 1000)

	// WHEN the simulation runs
	dc.Run()

	// THEN the run stops at the horizon with the guest still running
	m := dc.Metrics()
	assert.Equal(t, 50.0, m.SimEndTime)
	assert.Equal(t, sim.GuestRunning, g.State())
	testutil.AssertFloat64Equal(t, "runtime", 50, g.AchievedRuntime(dc.Now()), 1e-9)
	require.Len(t, m.Guests, 1)
	assert.Equal(t, 0, m.Guests[0].HostID)
}

func TestDatacenter_PauseResumeShiftsFinish(t *testing.T) {
	// GIVEN a 10000 MI item paused from t=2 to t=5
	dc := newTestDatacenter(Config{}, 1000)
	g := dc.testGuest("vm", 1, 0, 0, 1000)
	item := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 10000})
	dc.SubmitWorkItem(item, 0, 0)
	dc.ControlWorkItem(item, WorkPause, 2)
	dc.ControlWorkItem(item, WorkResume, 5)

	// WHEN the simulation runs
	dc.Run()

	// THEN the item finishes three time units late
	assert.Equal(t, sim.ItemFinished, item.Status())
	testutil.AssertFloat64Equal(t, "finish time", 13, item.FinishTime, 1e-9)
}

func TestDatacenter_CancelReleasesGuest(t *testing.T) {
	// GIVEN a guest whose only item is canceled at t=3
	dc := newTestDatacenter(Config{}, 1000)
	g := dc.testGuest("vm", 1, 0, 0, 1000)
	item := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 10000})
	dc.SubmitWorkItem(item, 0, 0)
	dc.ControlWorkItem(item, WorkCancel, 3)

	// WHEN the simulation runs
	dc.Run()

	// THEN the guest has nothing left and is released at t=3
	m := dc.Metrics()
	assert.Equal(t, sim.ItemCanceled, item.Status())
	assert.Equal(t, 1, m.ItemsCanceled)
	assert.Equal(t, 0, m.ItemsFinished)
	assert.Equal(t, sim.GuestFinished, g.State())
	assert.Equal(t, 3.0, m.SimEndTime)
}

func TestDatacenter_OutOfMemoryTerminatesGuest(t *testing.T) {
	// GIVEN a multi-resource guest with 100 bytes of memory, an item holding
	// 80 still doing I/O, a second item needing 50, and a late third item
	dc := NewDatacenter(Config{Trace: trace.TraceConfig{Level: trace.TraceLevelDecisions}})
	dc.Registry().NewHost(sim.HostSpec{PEs: 1, PEMIPS: 1000, Disks: []float64{100}})
	g := dc.Registry().NewGuest(sim.GuestSpec{MIPS: []float64{1000}, IOPS: []float64{100}, RAM: 100}, sim.TrackerMulti)
	dc.SubmitGuest(g, 0)
	first := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 1000, IOLength: 1000, Memory: 80})
	second := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 1000, Memory: 50})
	late := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 1000})
	dc.SubmitWorkItem(first, 0, 0)
	dc.SubmitWorkItem(second, 1, 0)
	dc.SubmitWorkItem(late, 2, 0)

	// WHEN the simulation runs
	dc.Run()

	// THEN both admitted and incoming items fail, the guest is terminated and
	// the late submission is dropped
	m := dc.Metrics()
	assert.ErrorIs(t, first.Err(), sim.ErrOutOfMemory)
	assert.ErrorIs(t, second.Err(), sim.ErrOutOfMemory)
	assert.Equal(t, 2, m.ItemsFailed[sim.FailureOutOfMemory])
	assert.Equal(t, 2, m.TotalFailed())
	assert.Equal(t, sim.GuestTerminated, g.State())
	assert.Equal(t, 1, m.GuestsTerminated)
	assert.Equal(t, 1, m.DroppedSubmissions)
	assert.Equal(t, sim.ItemWaiting, late.Status())
	assert.Len(t, dc.Trace().Failures, 2)
}

func TestDatacenter_MigrationDegradesThenContinues(t *testing.T) {
	// GIVEN a guest with a 10000 MI item on host 0 and a migration to host 1
	// running from t=2 to t=4
	dc := newTestDatacenter(Config{Trace: trace.TraceConfig{Level: trace.TraceLevelDecisions}}, 1000, 1000)
	g := dc.testGuest("vm", 1, 0, 0, 1000)
	item := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: 10000})
	dc.SubmitWorkItem(item, 0, 0)
	dc.ScheduleMigration(g, dc.Registry().Host(1), 2, 2)

	// WHEN the simulation runs
	dc.Run()

	// THEN the item runs at 90% during the move: 2000 + 1800 by t=4, the
	// remaining 6200 at full speed on host 1
	m := dc.Metrics()
	assert.Equal(t, 1, m.MigrationsCompleted)
	assert.Equal(t, sim.ItemFinished, item.Status())
	testutil.AssertFloat64Equal(t, "finish time", 10.2, item.FinishTime, 1e-9)
	testutil.AssertFloat64Equal(t, "guest runtime", 10.2, g.AchievedRuntime(dc.Now()), 1e-9)
	require.Len(t, dc.Trace().Migrations, 2)
	assert.Equal(t, 1, dc.Trace().Migrations[1].ToHost)
	assert.True(t, dc.Trace().Migrations[1].Completed)
}

func TestDatacenter_MigrationRejectedWhenDestinationFull(t *testing.T) {
	// GIVEN two full hosts
	dc := newTestDatacenter(Config{}, 1000, 1000)
	a := dc.testGuest("a", 1, 0, 10, 1000)
	dc.testGuest("b", 1, 0, 10, 1000)
	dc.ScheduleMigration(a, dc.Registry().Host(1), 1, 1)

	// WHEN the simulation runs
	dc.Run()

	// THEN the migration is rejected and nothing else changes
	m := dc.Metrics()
	assert.Equal(t, 1, m.MigrationsRejected)
	assert.Equal(t, 0, m.MigrationsCompleted)
	assert.Equal(t, 2, m.GuestsFinished)
	assert.Equal(t, 10.0, m.SimEndTime)
}

func TestDatacenter_Determinism(t *testing.T) {
	build := func() *Datacenter {
		dc := newTestDatacenter(Config{}, 1000, 500)
		for i := 0; i < 6; i++ {
			g := dc.testGuest("vm", i%3, float64(i), float64(5+i), 400)
			item := dc.Registry().NewWorkItem(g, sim.WorkItemSpec{Length: float64(1000 * (i + 1))})
			dc.SubmitWorkItem(item, float64(i), 0)
		}
		return dc
	}
	a, b := build(), build()
	a.Run()
	b.Run()
	assert.Equal(t, a.Metrics(), b.Metrics())
}

func TestDatacenter_RunTwice_Panics(t *testing.T) {
	dc := newTestDatacenter(Config{}, 1000)
	dc.Run()
	assert.Panics(t, func() { dc.Run() })
}

func TestDatacenter_MetricsBeforeRun_Panics(t *testing.T) {
	dc := newTestDatacenter(Config{}, 1000)
	assert.Panics(t, func() { dc.Metrics() })
}

func TestDatacenter_ScheduleInPast_Panics(t *testing.T) {
	dc := newTestDatacenter(Config{}, 1000)
	g := dc.testGuest("vm", 1, 5, 10, 1000)
	dc.Run()
	assert.Panics(t, func() { dc.SubmitGuest(g, 1) })
}

func TestDatacenter_ImplementsClock(t *testing.T) {
	var _ sim.Clock = NewDatacenter(Config{})
	dc := NewDatacenter(Config{MinTimeBetweenEvents: 0.5})
	assert.Equal(t, 0.5, dc.MinTimeBetweenEvents())
	assert.Equal(t, sim.DefaultMinTimeBetweenEvents, NewDatacenter(Config{}).MinTimeBetweenEvents())
}
