package sim

import (
	"slices"

	"github.com/sirupsen/logrus"
)

// MultiResourceTracker is a ProgressTracker for work items that consume CPU
// and disk I/O. An item's I/O runs on a single disk of the guest's host and
// shares that disk's allocation with the guest's other active items on it.
// An item finishes only when both counters reach zero.
type MultiResourceTracker struct {
	*ProgressTracker

	view      DiskView
	diskShare []float64

	// users counts active items per disk index; active means EXEC with
	// remaining I/O. counted remembers which disk an item was counted on.
	users   map[int]int
	counted map[WorkItemID]int

	budget      int64
	held        map[WorkItemID]int64
	memUsed     int64
	unavailable bool
}

// NewMultiResourceTracker creates an unbound tracker with the given memory
// budget in bytes; 0 means unlimited.
func NewMultiResourceTracker(clock Clock, memoryBudget int64) *MultiResourceTracker {
	if memoryBudget < 0 {
		panic("MultiResourceTracker: memory budget must be >= 0")
	}
	t := &MultiResourceTracker{
		ProgressTracker: NewProgressTracker(clock),
		users:           make(map[int]int),
		counted:         make(map[WorkItemID]int),
		budget:          memoryBudget,
		held:            make(map[WorkItemID]int64),
	}
	t.needsIO = true
	t.hooks = t
	return t
}

// Bind attaches the tracker to a host's disks and re-resolves the disk of
// every live item. Passing nil unbinds. Items whose data is no longer
// reachable fail with FailureDataUnreachable.
func (t *MultiResourceTracker) Bind(view DiskView) {
	t.view = view
	t.diskShare = nil
	if view == nil {
		return
	}
	for _, list := range []*[]*WorkItem{&t.exec, &t.paused, &t.waiting} {
		items := slices.Clone(*list)
		for _, w := range items {
			running := w.status == ItemExec
			if running {
				t.leaveExec(w)
			}
			w.disk = -1
			if t.resolveDisk(w) {
				if running {
					t.enterExec(w)
				}
				continue
			}
			t.takeFrom(list, w.ID)
			t.markFailed(w, FailureDataUnreachable)
		}
	}
}

// Bound reports whether the tracker sees a host's disks.
func (t *MultiResourceTracker) Bound() bool { return t.view != nil }

// Unavailable reports whether an out-of-memory cascade disabled the guest.
func (t *MultiResourceTracker) Unavailable() bool { return t.unavailable }

// MemoryInUse is the memory held by live items.
func (t *MultiResourceTracker) MemoryInUse() int64 { return t.memUsed }

// DiskUsers returns the number of active items on disk index d.
func (t *MultiResourceTracker) DiskUsers(d int) int { return t.users[d] }

// Submit runs the admission checks before handing the item to the CPU
// tracker: the guest must still be available, the item's data must be on a
// reachable disk and the memory budget must hold. Exceeding the budget fails
// every item of the guest and disables it for good.
func (t *MultiResourceTracker) Submit(item *WorkItem, fileTransferDelay float64) float64 {
	if t.unavailable {
		t.reject(item, FailureGuestUnavailable)
		return NoNextEvent
	}
	if !t.resolveDisk(item) {
		t.reject(item, FailureDataUnreachable)
		return NoNextEvent
	}
	if t.budget > 0 && t.memUsed+item.Memory > t.budget {
		logrus.Warnf("[t=%012.3f] guest %d out of memory: %d + %d > %d bytes, failing all work items",
			t.clock.Now(), item.Guest, t.memUsed, item.Memory, t.budget)
		t.FailAll(FailureOutOfMemory)
		t.reject(item, FailureOutOfMemory)
		t.unavailable = true
		return NoNextEvent
	}
	t.held[item.ID] = item.Memory
	t.memUsed += item.Memory
	t.ProgressTracker.Submit(item, fileTransferDelay)
	if item.status != ItemExec {
		return NoNextEvent
	}
	return t.itemEstimate(item, t.clock.Now())
}

// Resume returns a PAUSED item to execution; the estimate covers both
// dimensions.
func (t *MultiResourceTracker) Resume(id WorkItemID) (float64, bool) {
	if _, ok := t.ProgressTracker.Resume(id); !ok {
		return 0, false
	}
	w, _ := t.Item(id)
	if w.status != ItemExec {
		return NoNextEvent, true
	}
	return t.itemEstimate(w, t.clock.Now()), true
}

// UpdateProcessing advances CPU with the CPU share and I/O with each disk's
// share divided among its active users.
func (t *MultiResourceTracker) UpdateProcessing(now float64, share Share) float64 {
	t.share = slices.Clone(share.CPU)
	t.diskShare = slices.Clone(share.Disk)
	dt := t.elapsed(now)
	t.applyTransferDelays()

	capacity := t.cpuCapacity()
	rates := make([]float64, len(t.exec))
	for i, w := range t.exec {
		rates[i] = t.ioRate(w)
	}
	for i, w := range t.exec {
		w.consumeCPU(capacity * float64(w.PEs) * dt)
		w.consumeIO(rates[i] * dt)
	}
	for _, w := range t.exec {
		if w.remainingIO == 0 {
			t.leaveExec(w)
		}
	}
	t.collectFinished(now)
	t.advanceTo(now)

	next := NoNextEvent
	for _, w := range t.exec {
		next = min(next, t.itemEstimate(w, now))
	}
	return next
}

// ioRate is the I/O capacity one active item receives on its disk.
func (t *MultiResourceTracker) ioRate(w *WorkItem) float64 {
	d, ok := t.counted[w.ID]
	if !ok || d >= len(t.diskShare) {
		return 0
	}
	n := t.users[d]
	if n == 0 {
		return 0
	}
	return t.diskShare[d] / float64(n)
}

// itemEstimate is the earlier of the CPU and I/O finish estimates.
func (t *MultiResourceTracker) itemEstimate(w *WorkItem, now float64) float64 {
	next := t.estimate(w, now)
	if rate := t.ioRate(w); rate > 0 && w.remainingIO > 0 {
		next = min(next, now+clampDelay(w.remainingIO/rate, t.clock.MinTimeBetweenEvents()))
	}
	return next
}

// resolveDisk picks the disk an item's I/O competes on. The first disk
// holding its data item wins; an item with I/O but no data item takes the
// least-used disk. Resolution is deferred while unbound.
func (t *MultiResourceTracker) resolveDisk(w *WorkItem) bool {
	if w.Data == nil && w.IOLength == 0 {
		return true
	}
	if t.view == nil {
		return true
	}
	disks := t.view.Disks()
	if w.Data != nil {
		for _, d := range disks {
			if d.Holds(*w.Data) {
				w.disk = d.Index
				return true
			}
		}
		return false
	}
	if len(disks) == 0 {
		return false
	}
	best := disks[0].Index
	for _, d := range disks[1:] {
		if t.users[d.Index] < t.users[best] {
			best = d.Index
		}
	}
	w.disk = best
	return true
}

// reject fails an item that was never admitted.
func (t *MultiResourceTracker) reject(w *WorkItem, reason FailureReason) {
	t.submitted++
	w.SubmitTime = t.clock.Now()
	t.markFailed(w, reason)
}

func (t *MultiResourceTracker) enterExec(w *WorkItem) {
	if w.remainingIO == 0 || w.disk < 0 {
		return
	}
	if _, ok := t.counted[w.ID]; ok {
		return
	}
	t.counted[w.ID] = w.disk
	t.users[w.disk]++
}

func (t *MultiResourceTracker) leaveExec(w *WorkItem) {
	d, ok := t.counted[w.ID]
	if !ok {
		return
	}
	delete(t.counted, w.ID)
	if t.users[d]--; t.users[d] == 0 {
		delete(t.users, d)
	}
}

func (t *MultiResourceTracker) terminal(w *WorkItem) {
	if m, ok := t.held[w.ID]; ok {
		t.memUsed -= m
		delete(t.held, w.ID)
	}
}
