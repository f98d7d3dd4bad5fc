// Defines the WorkItem (cloudlet) that runs on behalf of a guest, and the
// data items and disks that give it I/O affinity.

package sim

import "fmt"

// WorkItemID identifies a work item within one Registry.
type WorkItemID int

// DataItemID identifies a data item within one Registry.
type DataItemID int

// WorkItemStatus is the lifecycle state of a work item.
type WorkItemStatus string

const (
	ItemWaiting  WorkItemStatus = "waiting"
	ItemExec     WorkItemStatus = "exec"
	ItemPaused   WorkItemStatus = "paused"
	ItemFinished WorkItemStatus = "finished"
	ItemFailed   WorkItemStatus = "failed"
	ItemCanceled WorkItemStatus = "canceled"
)

// Terminal reports whether the status can no longer change.
func (s WorkItemStatus) Terminal() bool {
	return s == ItemFinished || s == ItemFailed || s == ItemCanceled
}

// lengthEpsilon is the remaining length below which a counter counts as done.
const lengthEpsilon = 1e-6

// WorkItemSpec describes a work item before it is registered.
type WorkItemSpec struct {
	Length   float64     // CPU length in MI
	IOLength float64     // I/O length in I/O units; 0 for pure-CPU items
	PEs      int         // PEs the item runs on; defaults to 1
	Data     *DataItemID // I/O affinity
	Memory   int64       // bytes
}

// WorkItem is a unit of work with CPU and optional I/O length.
type WorkItem struct {
	ID       WorkItemID
	Guest    GuestID
	Length   float64
	IOLength float64
	PEs      int
	Data     *DataItemID
	Memory   int64

	status       WorkItemStatus
	remainingCPU float64
	remainingIO  float64
	disk         int // index into the bound host's disks; -1 when none
	reason       FailureReason

	SubmitTime    float64
	ExecStartTime float64
	FinishTime    float64
	started       bool
}

func newWorkItem(id WorkItemID, guest GuestID, spec WorkItemSpec) *WorkItem {
	if spec.Length < 0 || spec.IOLength < 0 {
		panic(fmt.Sprintf("WorkItem %d: lengths must be >= 0, got cpu=%f io=%f", id, spec.Length, spec.IOLength))
	}
	pes := spec.PEs
	if pes <= 0 {
		pes = 1
	}
	return &WorkItem{
		ID:           id,
		Guest:        guest,
		Length:       spec.Length,
		IOLength:     spec.IOLength,
		PEs:          pes,
		Data:         spec.Data,
		Memory:       spec.Memory,
		status:       ItemWaiting,
		remainingCPU: spec.Length,
		remainingIO:  spec.IOLength,
		disk:         -1,
	}
}

// Status returns the lifecycle state.
func (w *WorkItem) Status() WorkItemStatus { return w.status }

// RemainingCPU returns the CPU length still to run.
func (w *WorkItem) RemainingCPU() float64 { return w.remainingCPU }

// RemainingIO returns the I/O length still to run.
func (w *WorkItem) RemainingIO() float64 { return w.remainingIO }

// Disk returns the host disk index the item's I/O competes on.
func (w *WorkItem) Disk() (int, bool) { return w.disk, w.disk >= 0 }

// Reason returns why the item failed, if it did.
func (w *WorkItem) Reason() FailureReason { return w.reason }

// Err returns the sentinel error behind a failure, or nil.
func (w *WorkItem) Err() error {
	if w.status != ItemFailed {
		return nil
	}
	return failureErrors[w.reason]
}

// Turnaround is the time from submission to finish, valid once terminal.
func (w *WorkItem) Turnaround() float64 { return w.FinishTime - w.SubmitTime }

// consumeCPU advances the CPU counter, never below zero.
func (w *WorkItem) consumeCPU(amount float64) {
	if amount <= 0 {
		return
	}
	w.remainingCPU = max(0, w.remainingCPU-amount)
	if w.remainingCPU < lengthEpsilon {
		w.remainingCPU = 0
	}
}

// consumeIO advances the I/O counter, never below zero.
func (w *WorkItem) consumeIO(amount float64) {
	if amount <= 0 {
		return
	}
	w.remainingIO = max(0, w.remainingIO-amount)
	if w.remainingIO < lengthEpsilon {
		w.remainingIO = 0
	}
}

func (w *WorkItem) done() bool {
	return w.remainingCPU == 0 && w.remainingIO == 0
}

func (w *WorkItem) String() string {
	return fmt.Sprintf("WorkItem(ID: %d, Guest: %d, Status: %s, RemainingCPU: %.3f, RemainingIO: %.3f)",
		w.ID, w.Guest, w.status, w.remainingCPU, w.remainingIO)
}

// DataItem is a named blob that lives on the disks explicitly told to hold it.
type DataItem struct {
	ID   DataItemID
	Name string
	Size int64
}

// Disk is one I/O unit of a host plus the data items stored on it.
type Disk struct {
	Index int
	IOPS  float64
	data  map[DataItemID]bool
}

// NewDisk returns an empty disk with the given I/O capacity.
func NewDisk(index int, iops float64) *Disk {
	return &Disk{Index: index, IOPS: iops, data: make(map[DataItemID]bool)}
}

// Store places a data item on the disk.
func (d *Disk) Store(id DataItemID) { d.data[id] = true }

// Holds reports whether the data item is on the disk.
func (d *Disk) Holds(id DataItemID) bool { return d.data[id] }

// DiskView is what a multi-resource tracker sees of its guest's host.
type DiskView interface {
	Disks() []*Disk
}
