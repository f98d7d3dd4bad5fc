// Package trace provides decision-trace recording for placement and
// scheduling analysis. This package has no dependencies on sim/ or its
// subpackages; it stores pure data types keyed by integer identities.
package trace

// PlacementRecord captures one placement decision for a guest.
type PlacementRecord struct {
	GuestID int
	HostID  int // -1 when the guest was deferred without a host
	Clock   float64
	Placed  bool
	Reason  string
}

// PreemptionRecord captures one eviction made to fit an incoming guest.
type PreemptionRecord struct {
	VictimID         int
	VictimPriority   int
	IncomingID       int
	IncomingPriority int
	HostID           int
	Clock            float64
	AchievedRuntime  float64 // victim's accumulated runtime at eviction
}

// FailureRecord captures a work item reaching FAILED.
type FailureRecord struct {
	WorkItemID int
	GuestID    int
	Clock      float64
	Reason     string
}

// MigrationRecord captures the start or completion of a live migration.
type MigrationRecord struct {
	GuestID   int
	FromHost  int
	ToHost    int
	Clock     float64
	Completed bool
}
