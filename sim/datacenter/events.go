package datacenter

import "github.com/cloudsim-go/cloudsim/sim"

// EventType identifies the kind of a datacenter event.
type EventType string

const (
	EventTypeMigrationComplete EventType = "MigrationComplete"
	EventTypeRuntimeCheck      EventType = "RuntimeCheck"
	EventTypeGuestArrival      EventType = "GuestArrival"
	EventTypeMigrationStart    EventType = "MigrationStart"
	EventTypeWorkSubmit        EventType = "WorkSubmit"
	EventTypeWorkControl       EventType = "WorkControl"
	EventTypeProcessingUpdate  EventType = "ProcessingUpdate"
)

// EventTypePriority defines ordering for simultaneous events.
// Departures run before arrivals so freed capacity is visible to them.
var EventTypePriority = map[EventType]int{
	EventTypeMigrationComplete: 0,
	EventTypeRuntimeCheck:      1,
	EventTypeGuestArrival:      2,
	EventTypeMigrationStart:    3,
	EventTypeWorkSubmit:        4,
	EventTypeWorkControl:       5,
	EventTypeProcessingUpdate:  6,
}

// Event represents a simulation event at an absolute time.
type Event interface {
	Timestamp() float64
	Type() EventType
	Execute(dc *Datacenter)
}

// BaseEvent provides common event fields
type BaseEvent struct {
	timestamp float64
	eventType EventType
}

func newBaseEvent(timestamp float64, eventType EventType) BaseEvent {
	return BaseEvent{timestamp: timestamp, eventType: eventType}
}

func (e *BaseEvent) Timestamp() float64 { return e.timestamp }
func (e *BaseEvent) Type() EventType    { return e.eventType }

// GuestArrivalEvent submits a guest to the placement policy.
type GuestArrivalEvent struct {
	BaseEvent
	Guest *sim.Guest
}

func NewGuestArrivalEvent(timestamp float64, g *sim.Guest) *GuestArrivalEvent {
	return &GuestArrivalEvent{BaseEvent: newBaseEvent(timestamp, EventTypeGuestArrival), Guest: g}
}

func (e *GuestArrivalEvent) Execute(dc *Datacenter) { dc.handleGuestArrival(e) }

// RuntimeCheckEvent destroys a guest once it has run for its target runtime.
// Epoch is the guest's placement count when the check was scheduled; a check
// from an earlier placement is stale.
type RuntimeCheckEvent struct {
	BaseEvent
	Guest *sim.Guest
	Epoch int
}

func NewRuntimeCheckEvent(timestamp float64, g *sim.Guest, epoch int) *RuntimeCheckEvent {
	return &RuntimeCheckEvent{BaseEvent: newBaseEvent(timestamp, EventTypeRuntimeCheck), Guest: g, Epoch: epoch}
}

func (e *RuntimeCheckEvent) Execute(dc *Datacenter) { dc.handleRuntimeCheck(e) }

// WorkSubmitEvent hands a work item to its guest's work scheduler.
type WorkSubmitEvent struct {
	BaseEvent
	Item              *sim.WorkItem
	FileTransferDelay float64
}

func NewWorkSubmitEvent(timestamp float64, item *sim.WorkItem, fileTransferDelay float64) *WorkSubmitEvent {
	return &WorkSubmitEvent{
		BaseEvent:         newBaseEvent(timestamp, EventTypeWorkSubmit),
		Item:              item,
		FileTransferDelay: fileTransferDelay,
	}
}

func (e *WorkSubmitEvent) Execute(dc *Datacenter) { dc.handleWorkSubmit(e) }

// WorkAction is a control operation on a submitted work item.
type WorkAction string

const (
	WorkPause  WorkAction = "pause"
	WorkResume WorkAction = "resume"
	WorkCancel WorkAction = "cancel"
)

// validWorkActions maps accepted action names.
var validWorkActions = map[WorkAction]bool{
	WorkPause:  true,
	WorkResume: true,
	WorkCancel: true,
}

// IsValidWorkAction returns true if name is a recognized work action.
func IsValidWorkAction(name string) bool { return validWorkActions[WorkAction(name)] }

// WorkControlEvent pauses, resumes or cancels a work item.
type WorkControlEvent struct {
	BaseEvent
	Item   *sim.WorkItem
	Action WorkAction
}

func NewWorkControlEvent(timestamp float64, item *sim.WorkItem, action WorkAction) *WorkControlEvent {
	return &WorkControlEvent{BaseEvent: newBaseEvent(timestamp, EventTypeWorkControl), Item: item, Action: action}
}

func (e *WorkControlEvent) Execute(dc *Datacenter) { dc.handleWorkControl(e) }

// MigrationStartEvent starts a live migration that completes Duration later.
type MigrationStartEvent struct {
	BaseEvent
	Guest    *sim.Guest
	To       *sim.Host
	Duration float64
}

func NewMigrationStartEvent(timestamp float64, g *sim.Guest, to *sim.Host, duration float64) *MigrationStartEvent {
	return &MigrationStartEvent{
		BaseEvent: newBaseEvent(timestamp, EventTypeMigrationStart),
		Guest:     g,
		To:        to,
		Duration:  duration,
	}
}

func (e *MigrationStartEvent) Execute(dc *Datacenter) { dc.handleMigrationStart(e) }

// MigrationCompleteEvent moves a migrating guest onto its destination.
type MigrationCompleteEvent struct {
	BaseEvent
	Guest *sim.Guest
}

func NewMigrationCompleteEvent(timestamp float64, g *sim.Guest) *MigrationCompleteEvent {
	return &MigrationCompleteEvent{BaseEvent: newBaseEvent(timestamp, EventTypeMigrationComplete), Guest: g}
}

func (e *MigrationCompleteEvent) Execute(dc *Datacenter) { dc.handleMigrationComplete(e) }

// ProcessingUpdateEvent wakes the datacenter at a predicted work-item
// completion. The hosts are advanced by the event loop itself.
type ProcessingUpdateEvent struct {
	BaseEvent
}

func NewProcessingUpdateEvent(timestamp float64) *ProcessingUpdateEvent {
	return &ProcessingUpdateEvent{BaseEvent: newBaseEvent(timestamp, EventTypeProcessingUpdate)}
}

func (e *ProcessingUpdateEvent) Execute(dc *Datacenter) { dc.handleProcessingUpdate(e) }
