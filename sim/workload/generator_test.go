package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudsim-go/cloudsim/sim"
	"github.com/cloudsim-go/cloudsim/sim/datacenter"
)

func syntheticSpec() *SyntheticSpec {
	return &SyntheticSpec{
		Count:       50,
		ArrivalRate: 2,
		RuntimeMin:  5,
		RuntimeMax:  15,
		Priorities:  []int{1, 5},
		Weights:     []float64{1, 3},
		Template: GuestGroup{
			Name:     "job",
			SubmitAt: 100,
			MIPS:     []float64{250},
			WorkItems: []WorkItemGroup{{
				Length:   1000,
				SubmitAt: 101,
				Controls: []ControlSpec{{Action: "cancel", At: 110}},
			}},
		},
	}
}

func TestSyntheticSpec_Generate_Deterministic(t *testing.T) {
	// GIVEN the same spec and seed
	s := syntheticSpec()
	a := s.Generate(sim.NewPartitionedRNG(sim.NewSimulationKey(42)))
	b := s.Generate(sim.NewPartitionedRNG(sim.NewSimulationKey(42)))

	// THEN the generated guests are identical
	assert.Equal(t, a, b)

	// AND a different seed changes the arrivals
	c := s.Generate(sim.NewPartitionedRNG(sim.NewSimulationKey(43)))
	assert.NotEqual(t, a[0].SubmitAt, c[0].SubmitAt)
}

func TestSyntheticSpec_Generate_RespectsBounds(t *testing.T) {
	s := syntheticSpec()
	groups := s.Generate(sim.NewPartitionedRNG(sim.NewSimulationKey(1)))
	require.Len(t, groups, s.Count)

	prev := s.Template.SubmitAt
	for i, g := range groups {
		// arrivals are strictly after the template time and non-decreasing
		assert.Greater(t, g.SubmitAt, s.Template.SubmitAt)
		assert.GreaterOrEqual(t, g.SubmitAt, prev, "guest %d arrived out of order", i)
		prev = g.SubmitAt

		assert.GreaterOrEqual(t, g.Runtime, s.RuntimeMin)
		assert.LessOrEqual(t, g.Runtime, s.RuntimeMax)
		assert.Contains(t, s.Priorities, g.Priority)
		assert.Equal(t, 1, g.Count)

		// work items and controls keep their offset from the guest's arrival
		offset := g.SubmitAt - s.Template.SubmitAt
		require.Len(t, g.WorkItems, 1)
		assert.InDelta(t, 101+offset, g.WorkItems[0].SubmitAt, 1e-9)
		assert.InDelta(t, 110+offset, g.WorkItems[0].Controls[0].At, 1e-9)
	}
	assert.Equal(t, "job-0", groups[0].Name)

	// the template is left untouched
	assert.Equal(t, 101.0, s.Template.WorkItems[0].SubmitAt)
	assert.Equal(t, 110.0, s.Template.WorkItems[0].Controls[0].At)
}

func TestSyntheticSpec_Generate_WeightsBiasPriorities(t *testing.T) {
	// GIVEN weights of 1:3 over 2000 draws
	s := syntheticSpec()
	s.Count = 2000
	groups := s.Generate(sim.NewPartitionedRNG(sim.NewSimulationKey(9)))

	low := 0
	for _, g := range groups {
		if g.Priority == 5 {
			low++
		}
	}
	// THEN roughly three quarters draw the heavier priority
	assert.InDelta(t, 0.75, float64(low)/float64(len(groups)), 0.05)
}

func TestSyntheticSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *SyntheticSpec)
		wantErr string
	}{
		{"zero count", func(s *SyntheticSpec) { s.Count = 0 }, "count"},
		{"zero rate", func(s *SyntheticSpec) { s.ArrivalRate = 0 }, "arrival_rate"},
		{"inverted runtimes", func(s *SyntheticSpec) { s.RuntimeMax = 1 }, "runtime_max"},
		{"no priorities", func(s *SyntheticSpec) { s.Priorities = nil; s.Weights = nil }, "priority"},
		{"weight mismatch", func(s *SyntheticSpec) { s.Weights = []float64{1} }, "weights"},
		{"zero weights", func(s *SyntheticSpec) { s.Weights = []float64{0, 0} }, "all be zero"},
		{"bad template", func(s *SyntheticSpec) { s.Template.MIPS = nil }, "synthetic.template"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := syntheticSpec()
			tc.mutate(s)
			assert.ErrorContains(t, s.validate(nil), tc.wantErr)
		})
	}
	assert.NoError(t, syntheticSpec().validate(nil))
}

func TestScenario_Apply_Synthetic(t *testing.T) {
	// GIVEN a scenario with only synthetic guests
	s := &Scenario{
		Seed:      3,
		Hosts:     []HostGroup{{PEs: 4, MIPSPerPE: 1000}},
		Synthetic: syntheticSpec(),
	}
	s.Synthetic.Count = 10
	require.NoError(t, s.Validate())

	// WHEN applied and run
	dc := datacenter.NewDatacenter(s.Config())
	require.NoError(t, s.Apply(dc))
	dc.Run()

	// THEN every synthetic guest was submitted and finished its runtime
	m := dc.Metrics()
	assert.Equal(t, 10, m.GuestsSubmitted)
	assert.Equal(t, 10, m.GuestsFinished)
	assert.Equal(t, 10, m.ItemsSubmitted)
	_, ok := dc.Registry().GuestByName("job-9")
	assert.True(t, ok)
}
