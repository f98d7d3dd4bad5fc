package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalPlacements != 0 {
		t.Errorf("expected 0 total placements, got %d", summary.TotalPlacements)
	}
	if summary.PlacedCount != 0 || summary.DeferredCount != 0 {
		t.Error("expected 0 placed and deferred")
	}
	if summary.UniqueHosts != 0 {
		t.Errorf("expected 0 unique hosts, got %d", summary.UniqueHosts)
	}
	if summary.Preemptions != 0 || summary.MeanVictimRuntime != 0 {
		t.Error("expected no preemption statistics")
	}
	if len(summary.FailuresByReason) != 0 {
		t.Error("expected empty failure breakdown")
	}
}

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	assert.Equal(t, 0, summary.TotalPlacements)
	assert.NotNil(t, summary.HostDistribution)
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with mixed placement outcomes
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordPlacement(PlacementRecord{GuestID: 1, HostID: 0, Placed: true})
	st.RecordPlacement(PlacementRecord{GuestID: 2, HostID: -1, Placed: false})
	st.RecordPlacement(PlacementRecord{GuestID: 3, HostID: 1, Placed: true})
	st.RecordPlacement(PlacementRecord{GuestID: 4, HostID: 0, Placed: true})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	assert.Equal(t, 4, summary.TotalPlacements)
	assert.Equal(t, 3, summary.PlacedCount)
	assert.Equal(t, 1, summary.DeferredCount)
	assert.Equal(t, 2, summary.UniqueHosts)
	assert.Equal(t, 2, summary.HostDistribution[0])
	assert.Equal(t, 1, summary.HostDistribution[1])
}

func TestSummarize_Preemptions_PerHostAndMeanRuntime(t *testing.T) {
	// GIVEN evictions with known achieved runtimes
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordPreemption(PreemptionRecord{VictimID: 1, HostID: 0, AchievedRuntime: 10})
	st.RecordPreemption(PreemptionRecord{VictimID: 2, HostID: 0, AchievedRuntime: 30})
	st.RecordPreemption(PreemptionRecord{VictimID: 3, HostID: 2, AchievedRuntime: 20})

	// WHEN summarized
	summary := Summarize(st)

	// THEN mean runtime = (10 + 30 + 20) / 3 = 20
	assert.Equal(t, 3, summary.Preemptions)
	assert.InDelta(t, 20.0, summary.MeanVictimRuntime, 1e-9)
	assert.Equal(t, 2, summary.PreemptionsByHost[0])
	assert.Equal(t, 1, summary.PreemptionsByHost[2])
}

func TestSummarize_FailuresAndMigrations_Counted(t *testing.T) {
	// GIVEN failures and a migration that started and completed
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordFailure(FailureRecord{WorkItemID: 1, Reason: "out-of-memory"})
	st.RecordFailure(FailureRecord{WorkItemID: 2, Reason: "out-of-memory"})
	st.RecordFailure(FailureRecord{WorkItemID: 3, Reason: "data-unreachable"})
	st.RecordMigration(MigrationRecord{GuestID: 5, FromHost: 0, ToHost: 1})
	st.RecordMigration(MigrationRecord{GuestID: 5, FromHost: 0, ToHost: 1, Completed: true})

	// WHEN summarized
	summary := Summarize(st)

	// THEN failure reasons and migration phases are counted
	assert.Equal(t, 2, summary.FailuresByReason["out-of-memory"])
	assert.Equal(t, 1, summary.FailuresByReason["data-unreachable"])
	assert.Equal(t, 1, summary.MigrationsStarted)
	assert.Equal(t, 1, summary.MigrationsCompleted)
}
