package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalPlacements     int
	PlacedCount         int
	DeferredCount       int
	Preemptions         int
	MigrationsStarted   int
	MigrationsCompleted int
	UniqueHosts         int
	HostDistribution    map[int]int    // host ID → successful placements
	PreemptionsByHost   map[int]int    // host ID → evictions
	FailuresByReason    map[string]int // failure reason → work items
	MeanVictimRuntime   float64        // mean achieved runtime of evicted guests
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		HostDistribution:  make(map[int]int),
		PreemptionsByHost: make(map[int]int),
		FailuresByReason:  make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalPlacements = len(st.Placements)
	for _, p := range st.Placements {
		if p.Placed {
			summary.PlacedCount++
			summary.HostDistribution[p.HostID]++
		} else {
			summary.DeferredCount++
		}
	}
	summary.UniqueHosts = len(summary.HostDistribution)

	if len(st.Preemptions) > 0 {
		total := 0.0
		for _, p := range st.Preemptions {
			summary.PreemptionsByHost[p.HostID]++
			total += p.AchievedRuntime
		}
		summary.Preemptions = len(st.Preemptions)
		summary.MeanVictimRuntime = total / float64(len(st.Preemptions))
	}

	for _, f := range st.Failures {
		summary.FailuresByReason[f.Reason]++
	}

	for _, m := range st.Migrations {
		if m.Completed {
			summary.MigrationsCompleted++
		} else {
			summary.MigrationsStarted++
		}
	}

	return summary
}
