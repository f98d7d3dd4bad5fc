package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures placements, preemptions, failures and migrations.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a simulation.
// A nil *SimulationTrace is valid and records nothing.
type SimulationTrace struct {
	Config      TraceConfig
	Placements  []PlacementRecord
	Preemptions []PreemptionRecord
	Failures    []FailureRecord
	Migrations  []MigrationRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Placements:  make([]PlacementRecord, 0),
		Preemptions: make([]PreemptionRecord, 0),
		Failures:    make([]FailureRecord, 0),
		Migrations:  make([]MigrationRecord, 0),
	}
}

func (st *SimulationTrace) enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordPlacement appends a placement decision record.
func (st *SimulationTrace) RecordPlacement(record PlacementRecord) {
	if st.enabled() {
		st.Placements = append(st.Placements, record)
	}
}

// RecordPreemption appends an eviction record.
func (st *SimulationTrace) RecordPreemption(record PreemptionRecord) {
	if st.enabled() {
		st.Preemptions = append(st.Preemptions, record)
	}
}

// RecordFailure appends a work-item failure record.
func (st *SimulationTrace) RecordFailure(record FailureRecord) {
	if st.enabled() {
		st.Failures = append(st.Failures, record)
	}
}

// RecordMigration appends a migration record.
func (st *SimulationTrace) RecordMigration(record MigrationRecord) {
	if st.enabled() {
		st.Migrations = append(st.Migrations, record)
	}
}
