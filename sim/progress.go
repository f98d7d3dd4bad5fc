package sim

import (
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Share is the allocation snapshot a host hands to a guest's work scheduler
// on every tick.
type Share struct {
	CPU  []float64 // allocated MIPS per vPE
	Disk []float64 // allocated I/O capacity per host disk, by disk index
}

// WorkScheduler runs a guest's work items on whatever share its host grants.
// ProgressTracker and MultiResourceTracker are the two implementations.
type WorkScheduler interface {
	// Submit admits a work item and returns its estimated finish time.
	Submit(item *WorkItem, fileTransferDelay float64) float64
	// UpdateProcessing advances every running item to now and returns the
	// earliest time one of them will complete, or NoNextEvent.
	UpdateProcessing(now float64, share Share) float64
	Pause(id WorkItemID) bool
	Resume(id WorkItemID) (float64, bool)
	Cancel(id WorkItemID) (*WorkItem, bool)
	Fail(id WorkItemID, reason FailureReason) bool
	FailAll(reason FailureReason)
	// Suspend freezes running items while the guest holds no allocation.
	Suspend()
	// Restore resumes frozen items once the guest is placed again.
	Restore(now float64)
	Item(id WorkItemID) (*WorkItem, bool)
	DrainFinished() []*WorkItem
	DrainFailed() []*WorkItem
	// Live counts items that have not reached a terminal state.
	Live() int
	// Submitted counts every item ever submitted.
	Submitted() int
}

// itemHooks lets a wrapping tracker observe items entering and leaving the
// exec list, and reaching a terminal state, without overriding every list
// operation.
type itemHooks interface {
	enterExec(w *WorkItem)
	leaveExec(w *WorkItem)
	terminal(w *WorkItem)
}

// ProgressTracker is the time-shared, CPU-only work scheduler.
//
// Every EXEC item runs concurrently. The guest's CPU share is divided per PE:
// capacity = sum(share) / max(PEs in use, non-zero vPE shares), and an item
// progresses at capacity * item.PEs. I/O length is ignored.
type ProgressTracker struct {
	clock     Clock
	prevTime  float64
	share     []float64
	suspended bool
	needsIO   bool
	hooks     itemHooks

	exec    []*WorkItem
	paused  []*WorkItem
	waiting []*WorkItem

	finished []*WorkItem
	failed   []*WorkItem

	pendingDelay map[WorkItemID]float64
	submitted    int
}

// NewProgressTracker creates a tracker that starts suspended: items submitted
// before the guest is placed wait until Restore.
func NewProgressTracker(clock Clock) *ProgressTracker {
	if clock == nil {
		panic("ProgressTracker: clock must not be nil")
	}
	return &ProgressTracker{
		clock:        clock,
		suspended:    true,
		pendingDelay: make(map[WorkItemID]float64),
	}
}

// Submit admits an item. The file transfer delay is converted into extra
// length at the rate the item will run, so it finishes delay later.
func (t *ProgressTracker) Submit(item *WorkItem, fileTransferDelay float64) float64 {
	now := t.clock.Now()
	t.submitted++
	item.SubmitTime = now
	if fileTransferDelay > 0 {
		t.pendingDelay[item.ID] = fileTransferDelay
	}
	if t.suspended {
		item.status = ItemWaiting
		t.waiting = append(t.waiting, item)
		return NoNextEvent
	}
	t.startExec(item, now)
	t.applyTransferDelays()
	return t.estimate(item, now)
}

// UpdateProcessing consumes share*Δt from every EXEC item.
func (t *ProgressTracker) UpdateProcessing(now float64, share Share) float64 {
	t.share = slices.Clone(share.CPU)
	dt := t.elapsed(now)
	t.applyTransferDelays()
	capacity := t.cpuCapacity()
	for _, w := range t.exec {
		w.consumeCPU(capacity * float64(w.PEs) * dt)
	}
	t.collectFinished(now)
	t.advanceTo(now)
	return t.nextEvent(now)
}

// Pause moves an EXEC or WAITING item to PAUSED. Its counters freeze.
func (t *ProgressTracker) Pause(id WorkItemID) bool {
	if w := t.takeFrom(&t.exec, id); w != nil {
		t.leaveExec(w)
		w.status = ItemPaused
		t.paused = append(t.paused, w)
		return true
	}
	if w := t.takeFrom(&t.waiting, id); w != nil {
		w.status = ItemPaused
		t.paused = append(t.paused, w)
		return true
	}
	return false
}

// Resume returns a PAUSED item to execution and reports its estimated finish
// time from the current share. Remaining length is not touched.
func (t *ProgressTracker) Resume(id WorkItemID) (float64, bool) {
	w := t.takeFrom(&t.paused, id)
	if w == nil {
		return 0, false
	}
	now := t.clock.Now()
	if t.suspended {
		w.status = ItemWaiting
		t.waiting = append(t.waiting, w)
		return NoNextEvent, true
	}
	t.startExec(w, now)
	return t.estimate(w, now), true
}

// Cancel removes a live item and marks it CANCELED.
func (t *ProgressTracker) Cancel(id WorkItemID) (*WorkItem, bool) {
	w := t.takeLive(id)
	if w == nil {
		return nil, false
	}
	w.status = ItemCanceled
	w.FinishTime = t.clock.Now()
	delete(t.pendingDelay, id)
	t.reachTerminal(w)
	return w, true
}

// Fail marks a live item FAILED and queues it for the failed drain.
func (t *ProgressTracker) Fail(id WorkItemID, reason FailureReason) bool {
	w := t.takeLive(id)
	if w == nil {
		return false
	}
	t.markFailed(w, reason)
	return true
}

// FailAll fails every live item with the same reason.
func (t *ProgressTracker) FailAll(reason FailureReason) {
	for _, list := range []*[]*WorkItem{&t.exec, &t.paused, &t.waiting} {
		items := *list
		*list = nil
		for _, w := range items {
			if w.status == ItemExec {
				t.leaveExec(w)
			}
			t.markFailed(w, reason)
		}
	}
}

// Suspend moves EXEC items back to WAITING; nothing advances until Restore.
func (t *ProgressTracker) Suspend() {
	if t.suspended {
		return
	}
	t.suspended = true
	for _, w := range t.exec {
		t.leaveExec(w)
		w.status = ItemWaiting
	}
	t.waiting = append(t.waiting, t.exec...)
	t.exec = nil
	t.share = nil
}

// Restore rebases the tracker to now and restarts WAITING items.
func (t *ProgressTracker) Restore(now float64) {
	t.suspended = false
	t.prevTime = now
	waiting := t.waiting
	t.waiting = nil
	for _, w := range waiting {
		t.startExec(w, now)
	}
}

// Item looks up a live item.
func (t *ProgressTracker) Item(id WorkItemID) (*WorkItem, bool) {
	for _, list := range [][]*WorkItem{t.exec, t.paused, t.waiting} {
		for _, w := range list {
			if w.ID == id {
				return w, true
			}
		}
	}
	return nil, false
}

// DrainFinished returns and clears the FIFO of finished items.
func (t *ProgressTracker) DrainFinished() []*WorkItem {
	out := t.finished
	t.finished = nil
	return out
}

// DrainFailed returns and clears the FIFO of failed items.
func (t *ProgressTracker) DrainFailed() []*WorkItem {
	out := t.failed
	t.failed = nil
	return out
}

func (t *ProgressTracker) Live() int      { return len(t.exec) + len(t.paused) + len(t.waiting) }
func (t *ProgressTracker) Submitted() int { return t.submitted }

// Running returns the EXEC items in admission order.
func (t *ProgressTracker) Running() []*WorkItem { return slices.Clone(t.exec) }

// Suspended reports whether the guest currently holds no allocation.
func (t *ProgressTracker) Suspended() bool { return t.suspended }

// cpuCapacity is the per-PE capacity granted to each EXEC item.
func (t *ProgressTracker) cpuCapacity() float64 {
	total := floats.Sum(t.share)
	cpus := 0
	for _, m := range t.share {
		if m > 0 {
			cpus++
		}
	}
	pesInUse := 0
	for _, w := range t.exec {
		pesInUse += w.PEs
	}
	div := max(pesInUse, cpus)
	if div == 0 {
		return 0
	}
	return total / float64(div)
}

func (t *ProgressTracker) elapsed(now float64) float64 {
	if now <= t.prevTime {
		return 0
	}
	return now - t.prevTime
}

func (t *ProgressTracker) advanceTo(now float64) {
	if now > t.prevTime {
		t.prevTime = now
	}
}

// applyTransferDelays converts pending transfer delays into length once the
// item has a non-zero rate to convert at.
func (t *ProgressTracker) applyTransferDelays() {
	if len(t.pendingDelay) == 0 {
		return
	}
	capacity := t.cpuCapacity()
	if capacity <= 0 {
		return
	}
	for _, w := range t.exec {
		if d, ok := t.pendingDelay[w.ID]; ok {
			w.remainingCPU += capacity * float64(w.PEs) * d
			delete(t.pendingDelay, w.ID)
		}
	}
}

func (t *ProgressTracker) startExec(w *WorkItem, now float64) {
	w.status = ItemExec
	if !w.started {
		w.started = true
		w.ExecStartTime = now
	}
	t.exec = append(t.exec, w)
	if t.hooks != nil {
		t.hooks.enterExec(w)
	}
}

func (t *ProgressTracker) leaveExec(w *WorkItem) {
	if t.hooks != nil {
		t.hooks.leaveExec(w)
	}
}

func (t *ProgressTracker) reachTerminal(w *WorkItem) {
	if t.hooks != nil {
		t.hooks.terminal(w)
	}
}

func (t *ProgressTracker) isDone(w *WorkItem) bool {
	if t.needsIO {
		return w.done()
	}
	return w.remainingCPU == 0
}

// collectFinished moves completed EXEC items to the finished FIFO.
func (t *ProgressTracker) collectFinished(now float64) {
	kept := t.exec[:0]
	for _, w := range t.exec {
		if !t.isDone(w) {
			kept = append(kept, w)
			continue
		}
		t.leaveExec(w)
		w.status = ItemFinished
		w.FinishTime = now
		t.reachTerminal(w)
		t.finished = append(t.finished, w)
		logrus.Debugf("[t=%012.3f] work item %d of guest %d finished", now, w.ID, w.Guest)
	}
	clear(t.exec[len(kept):])
	t.exec = kept
}

func (t *ProgressTracker) markFailed(w *WorkItem, reason FailureReason) {
	w.status = ItemFailed
	w.reason = reason
	w.FinishTime = t.clock.Now()
	delete(t.pendingDelay, w.ID)
	t.reachTerminal(w)
	t.failed = append(t.failed, w)
	logrus.Debugf("[t=%012.3f] work item %d of guest %d failed: %s", w.FinishTime, w.ID, w.Guest, reason)
}

// estimate predicts when a single EXEC item finishes on CPU.
func (t *ProgressTracker) estimate(w *WorkItem, now float64) float64 {
	rate := t.cpuCapacity() * float64(w.PEs)
	if rate <= 0 || w.remainingCPU == 0 {
		return NoNextEvent
	}
	return now + clampDelay(w.remainingCPU/rate, t.clock.MinTimeBetweenEvents())
}

func (t *ProgressTracker) nextEvent(now float64) float64 {
	next := NoNextEvent
	for _, w := range t.exec {
		next = min(next, t.estimate(w, now))
	}
	return next
}

// takeFrom removes the item with id from list and returns it, or nil.
func (t *ProgressTracker) takeFrom(list *[]*WorkItem, id WorkItemID) *WorkItem {
	for i, w := range *list {
		if w.ID == id {
			*list = slices.Delete(*list, i, i+1)
			return w
		}
	}
	return nil
}

// takeLive removes a live item from whichever list holds it.
func (t *ProgressTracker) takeLive(id WorkItemID) *WorkItem {
	if w := t.takeFrom(&t.exec, id); w != nil {
		t.leaveExec(w)
		return w
	}
	if w := t.takeFrom(&t.paused, id); w != nil {
		return w
	}
	return t.takeFrom(&t.waiting, id)
}
