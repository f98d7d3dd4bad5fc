package datacenter

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cloudsim-go/cloudsim/sim"
	"github.com/cloudsim-go/cloudsim/sim/trace"
)

// runtimeEpsilon is the remaining runtime below which a guest counts as done.
const runtimeEpsilon = 1e-9

// Config holds the event-kernel settings of one run.
type Config struct {
	Horizon              float64 // <= 0 runs until no event is left
	MinTimeBetweenEvents float64 // <= 0 uses sim.DefaultMinTimeBetweenEvents
	Trace                trace.TraceConfig
}

// Datacenter is the event kernel of one simulation. It is the clock every
// core component reads, owns the registry, and drives hosts and the placement
// policy through their public operations only.
type Datacenter struct {
	cfg     Config
	horizon float64
	gap     float64

	now    float64
	events *EventHeap
	reg    *sim.Registry
	policy *sim.PlacementPolicy
	trace  *trace.SimulationTrace

	metrics *Metrics

	// pendingUpdate is the time of the earliest ProcessingUpdateEvent in the
	// heap, or +Inf.
	pendingUpdate float64
	// awaiting counts scheduled submissions per guest not yet executed.
	awaiting map[sim.GuestID]int

	hasRun bool
}

// NewDatacenter creates an empty datacenter. Register hosts and guests
// through Registry before Run.
func NewDatacenter(cfg Config) *Datacenter {
	if cfg.Trace.Level != "" && !trace.IsValidTraceLevel(string(cfg.Trace.Level)) {
		panic(fmt.Sprintf("Datacenter: unknown trace level %q", cfg.Trace.Level))
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = math.Inf(1)
	}
	gap := cfg.MinTimeBetweenEvents
	if gap <= 0 {
		gap = sim.DefaultMinTimeBetweenEvents
	}
	dc := &Datacenter{
		cfg:           cfg,
		horizon:       horizon,
		gap:           gap,
		events:        NewEventHeap(),
		metrics:       NewMetrics(),
		pendingUpdate: sim.NoNextEvent,
		awaiting:      make(map[sim.GuestID]int),
	}
	if cfg.Trace.Level == trace.TraceLevelDecisions {
		dc.trace = trace.NewSimulationTrace(cfg.Trace)
	}
	dc.reg = sim.NewRegistry(dc)
	return dc
}

// Now implements sim.Clock.
func (d *Datacenter) Now() float64 { return d.now }

// MinTimeBetweenEvents implements sim.Clock.
func (d *Datacenter) MinTimeBetweenEvents() float64 { return d.gap }

// Registry returns the arena hosts, guests and items are created in.
func (d *Datacenter) Registry() *sim.Registry { return d.reg }

// Policy returns the placement policy. It exists once Run has started.
func (d *Datacenter) Policy() *sim.PlacementPolicy { return d.policy }

// Trace returns the decision trace, or nil when tracing is off.
func (d *Datacenter) Trace() *trace.SimulationTrace { return d.trace }

// Metrics returns the collected metrics. Panics if called before Run.
func (d *Datacenter) Metrics() *Metrics {
	if !d.hasRun {
		panic("Datacenter.Metrics() called before Run()")
	}
	return d.metrics
}

// ScheduleEvent queues ev at its own timestamp. Events in the past are a
// programming error.
func (d *Datacenter) ScheduleEvent(ev Event) {
	if ev.Timestamp() < d.now {
		panic(fmt.Sprintf("Datacenter: event %s at %f scheduled before now (%f)", ev.Type(), ev.Timestamp(), d.now))
	}
	d.events.Schedule(ev)
}

// SubmitGuest schedules g to arrive at time at.
func (d *Datacenter) SubmitGuest(g *sim.Guest, at float64) {
	d.ScheduleEvent(NewGuestArrivalEvent(at, g))
}

// SubmitWorkItem schedules item to be handed to its guest at time at.
func (d *Datacenter) SubmitWorkItem(item *sim.WorkItem, at, fileTransferDelay float64) {
	d.awaiting[item.Guest]++
	d.ScheduleEvent(NewWorkSubmitEvent(at, item, fileTransferDelay))
}

// ControlWorkItem schedules a pause, resume or cancel of item at time at.
func (d *Datacenter) ControlWorkItem(item *sim.WorkItem, action WorkAction, at float64) {
	if !IsValidWorkAction(string(action)) {
		panic(fmt.Sprintf("Datacenter: unknown work action %q", action))
	}
	d.ScheduleEvent(NewWorkControlEvent(at, item, action))
}

// ScheduleMigration moves g to host to, starting at time at and completing
// duration later.
func (d *Datacenter) ScheduleMigration(g *sim.Guest, to *sim.Host, at, duration float64) {
	if duration < 0 {
		panic(fmt.Sprintf("Datacenter: migration duration must be >= 0, got %f", duration))
	}
	d.ScheduleEvent(NewMigrationStartEvent(at, g, to, duration))
}

// Run processes events in order until the heap is empty or the next event
// lies beyond the horizon. Panics if called more than once.
func (d *Datacenter) Run() {
	if d.hasRun {
		panic("Datacenter.Run() called more than once")
	}
	d.hasRun = true
	d.policy = sim.NewPlacementPolicy(d, d.reg.Hosts(), d.trace)

	for {
		next := d.peekLive()
		if next == nil {
			break
		}
		if next.Timestamp() > d.horizon {
			// Close the books at the horizon so runtimes and progress
			// cover the whole window.
			d.advance(d.horizon)
			d.settle()
			break
		}
		ev := d.events.PopNext()
		d.advance(ev.Timestamp())
		ev.Execute(d)
		d.settle()
	}
	d.metrics.finalize(d.now, d.reg)
	logrus.Infof("[t=%012.3f] simulation ended: %d guests finished, %d work items finished",
		d.now, d.metrics.GuestsFinished, d.metrics.ItemsFinished)
}

// peekLive discards superseded events from the head of the heap and returns
// the next one that still has an effect, or nil.
func (d *Datacenter) peekLive() Event {
	for d.events.Len() > 0 {
		ev := d.events.Peek()
		if !d.stale(ev) {
			return ev
		}
		d.events.PopNext()
		logrus.Debugf("[t=%012.3f] dropping stale %s event at %.3f", d.now, ev.Type(), ev.Timestamp())
	}
	return nil
}

// stale reports whether ev was superseded: a processing update replaced by
// an earlier one, or a runtime check from a placement the guest has since
// lost.
func (d *Datacenter) stale(ev Event) bool {
	switch e := ev.(type) {
	case *ProcessingUpdateEvent:
		return e.Timestamp() != d.pendingUpdate
	case *RuntimeCheckEvent:
		return e.Guest.State() != sim.GuestRunning || e.Guest.Placements() != e.Epoch
	}
	return false
}

// advance moves the clock to t and lets every host consume the interval.
func (d *Datacenter) advance(t float64) {
	if t < d.now {
		panic(fmt.Sprintf("Datacenter: time went backwards from %f to %f", d.now, t))
	}
	d.now = t
	for _, h := range d.policy.Hosts() {
		h.UpdateProcessing(t)
	}
}

// settle brings the datacenter to a consistent state after an event: shares
// are refreshed, placement results drained, terminal work items collected and
// guests that are done released. Releasing a guest can admit others, so this
// repeats until nothing changes. It ends by scheduling the next completion.
func (d *Datacenter) settle() {
	for {
		next := d.refresh()
		d.drainPlacements()
		if !d.drainWork() {
			d.scheduleUpdate(next)
			return
		}
	}
}

// refresh hands every guest its current share without advancing time and
// returns the earliest predicted completion.
func (d *Datacenter) refresh() float64 {
	next := sim.NoNextEvent
	for _, h := range d.policy.Hosts() {
		next = min(next, h.UpdateProcessing(d.now))
	}
	return next
}

func (d *Datacenter) drainPlacements() {
	for _, g := range d.policy.DrainAdmitted() {
		d.metrics.Placements++
		if g.TargetRuntime > 0 {
			delay := max(g.RemainingRuntime(d.now), d.gap)
			d.ScheduleEvent(NewRuntimeCheckEvent(d.now+delay, g, g.Placements()))
		}
	}
	d.metrics.Preemptions += len(d.policy.DrainPreempted())
}

// drainWork collects terminal work items and releases guests that can no
// longer make progress. It reports whether any guest was released.
func (d *Datacenter) drainWork() bool {
	released := false
	for _, g := range d.reg.Guests() {
		for _, w := range g.Scheduler.DrainFinished() {
			d.metrics.recordFinished(w)
			logrus.Debugf("[t=%012.3f] work item %d of guest %d finished (turnaround %.3f)",
				d.now, w.ID, g.ID, w.Turnaround())
		}
		for _, w := range g.Scheduler.DrainFailed() {
			d.metrics.recordFailed(w)
			d.trace.RecordFailure(trace.FailureRecord{
				WorkItemID: int(w.ID), GuestID: int(g.ID), Clock: d.now, Reason: string(w.Reason()),
			})
		}
		if d.done(g) {
			continue
		}
		if mt, ok := g.Scheduler.(*sim.MultiResourceTracker); ok && mt.Unavailable() {
			d.policy.TerminateGuest(g)
			d.metrics.GuestsTerminated++
			released = true
			continue
		}
		if d.workComplete(g) {
			d.policy.DeallocateHostForGuest(g)
			d.metrics.GuestsFinished++
			released = true
		}
	}
	return released
}

// workComplete reports whether a guest without a target runtime has run
// every work item it will ever get to a terminal state.
func (d *Datacenter) workComplete(g *sim.Guest) bool {
	return g.TargetRuntime <= 0 &&
		g.State() == sim.GuestRunning &&
		g.Scheduler.Submitted() > 0 &&
		g.Scheduler.Live() == 0 &&
		d.awaiting[g.ID] == 0
}

func (d *Datacenter) done(g *sim.Guest) bool {
	return g.State() == sim.GuestFinished || g.State() == sim.GuestTerminated
}

// scheduleUpdate queues a processing update at next unless an earlier one
// is already queued.
func (d *Datacenter) scheduleUpdate(next float64) {
	if math.IsInf(next, 1) {
		return
	}
	next = max(next, d.now+d.gap)
	if d.pendingUpdate > d.now && d.pendingUpdate <= next {
		return
	}
	d.pendingUpdate = next
	d.ScheduleEvent(NewProcessingUpdateEvent(next))
}

func (d *Datacenter) handleGuestArrival(e *GuestArrivalEvent) {
	g := e.Guest
	if g.State() != sim.GuestPending || d.policy.IsPending(g) {
		logrus.Warnf("[t=%012.3f] guest %d arrived twice, ignoring", d.now, g.ID)
		return
	}
	d.metrics.GuestsSubmitted++
	d.policy.AllocateHostForGuest(g)
}

func (d *Datacenter) handleRuntimeCheck(e *RuntimeCheckEvent) {
	g := e.Guest
	remaining := g.RemainingRuntime(d.now)
	if remaining > runtimeEpsilon {
		d.ScheduleEvent(NewRuntimeCheckEvent(d.now+max(remaining, d.gap), g, e.Epoch))
		return
	}
	d.policy.DeallocateHostForGuest(g)
	d.metrics.GuestsFinished++
}

func (d *Datacenter) handleWorkSubmit(e *WorkSubmitEvent) {
	w := e.Item
	if d.awaiting[w.Guest]--; d.awaiting[w.Guest] <= 0 {
		delete(d.awaiting, w.Guest)
	}
	g := d.reg.Guest(w.Guest)
	if g == nil || d.done(g) {
		d.metrics.DroppedSubmissions++
		logrus.Warnf("[t=%012.3f] work item %d dropped: guest %d no longer accepts work", d.now, w.ID, w.Guest)
		return
	}
	d.metrics.ItemsSubmitted++
	g.Scheduler.Submit(w, e.FileTransferDelay)
}

func (d *Datacenter) handleWorkControl(e *WorkControlEvent) {
	g := d.reg.Guest(e.Item.Guest)
	if g == nil {
		return
	}
	var ok bool
	switch e.Action {
	case WorkPause:
		ok = g.Scheduler.Pause(e.Item.ID)
	case WorkResume:
		_, ok = g.Scheduler.Resume(e.Item.ID)
	case WorkCancel:
		if _, ok = g.Scheduler.Cancel(e.Item.ID); ok {
			d.metrics.ItemsCanceled++
		}
	}
	if !ok {
		logrus.Warnf("[t=%012.3f] %s of work item %d ignored in status %s", d.now, e.Action, e.Item.ID, e.Item.Status())
	}
}

func (d *Datacenter) handleMigrationStart(e *MigrationStartEvent) {
	if !d.policy.MigrateGuest(e.Guest, e.To) {
		d.metrics.MigrationsRejected++
		return
	}
	d.ScheduleEvent(NewMigrationCompleteEvent(d.now+e.Duration, e.Guest))
}

func (d *Datacenter) handleMigrationComplete(e *MigrationCompleteEvent) {
	if d.policy.CompleteMigration(e.Guest) {
		d.metrics.MigrationsCompleted++
	}
}

func (d *Datacenter) handleProcessingUpdate(*ProcessingUpdateEvent) {
	d.pendingUpdate = sim.NoNextEvent
}
