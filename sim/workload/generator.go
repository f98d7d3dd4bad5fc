package workload

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cloudsim-go/cloudsim/sim"
)

// SyntheticSpec generates Count guests from a template: Poisson arrivals at
// ArrivalRate, runtimes uniform in [RuntimeMin, RuntimeMax] and priorities
// drawn from Priorities with the given Weights.
type SyntheticSpec struct {
	Count       int        `yaml:"count"`
	ArrivalRate float64    `yaml:"arrival_rate"`
	RuntimeMin  float64    `yaml:"runtime_min"`
	RuntimeMax  float64    `yaml:"runtime_max"`
	Priorities  []int      `yaml:"priorities"`
	Weights     []float64  `yaml:"weights,omitempty"` // default uniform
	Template    GuestGroup `yaml:"template"`
}

func (s *SyntheticSpec) validate(data map[string]bool) error {
	if s.Count <= 0 {
		return fmt.Errorf("synthetic: count must be positive, got %d", s.Count)
	}
	if err := validateFinitePositive("synthetic.arrival_rate", s.ArrivalRate); err != nil {
		return err
	}
	if err := validateNonNegative("synthetic.runtime_min", s.RuntimeMin); err != nil {
		return err
	}
	if err := validateNonNegative("synthetic.runtime_max", s.RuntimeMax); err != nil {
		return err
	}
	if s.RuntimeMax < s.RuntimeMin {
		return fmt.Errorf("synthetic: runtime_max %f < runtime_min %f", s.RuntimeMax, s.RuntimeMin)
	}
	if len(s.Priorities) == 0 {
		return fmt.Errorf("synthetic: at least one priority required")
	}
	if len(s.Weights) > 0 {
		if len(s.Weights) != len(s.Priorities) {
			return fmt.Errorf("synthetic: %d weights for %d priorities", len(s.Weights), len(s.Priorities))
		}
		total := 0.0
		for i, w := range s.Weights {
			if err := validateNonNegative(fmt.Sprintf("synthetic.weights[%d]", i), w); err != nil {
				return err
			}
			total += w
		}
		if total == 0 {
			return fmt.Errorf("synthetic: weights must not all be zero")
		}
	}
	return validateGuestGroup(&s.Template, "synthetic.template", data)
}

// Generate expands the spec into single-guest groups. Deterministic given
// the same spec and RNG key: arrivals and runtimes come from the workload
// stream, priorities from their own stream.
func (s *SyntheticSpec) Generate(rng *sim.PartitionedRNG) []GuestGroup {
	src := rng.ForSubsystem(sim.SubsystemWorkload)
	interArrival := distuv.Exponential{Rate: s.ArrivalRate, Src: src}
	runtime := distuv.Uniform{Min: s.RuntimeMin, Max: s.RuntimeMax, Src: src}

	weights := s.Weights
	if len(weights) == 0 {
		weights = make([]float64, len(s.Priorities))
		for i := range weights {
			weights[i] = 1
		}
	}
	priority := distuv.NewCategorical(weights, rng.ForSubsystem(sim.SubsystemPriority))

	name := s.Template.Name
	if name == "" {
		name = "synthetic"
	}
	groups := make([]GuestGroup, s.Count)
	at := s.Template.SubmitAt
	for i := range groups {
		at += interArrival.Rand()
		g := s.Template
		g.Name = fmt.Sprintf("%s-%d", name, i)
		g.Count = 1
		g.SubmitAt = at
		g.Runtime = runtime.Rand()
		g.Priority = s.Priorities[int(priority.Rand())]
		g.WorkItems = shiftWorkItems(s.Template.WorkItems, at-s.Template.SubmitAt)
		groups[i] = g
	}
	return groups
}

// shiftWorkItems copies the template's work items with their times moved by
// the guest's arrival offset.
func shiftWorkItems(items []WorkItemGroup, offset float64) []WorkItemGroup {
	out := make([]WorkItemGroup, len(items))
	for i, w := range items {
		w.SubmitAt += offset
		controls := make([]ControlSpec, len(w.Controls))
		for j, c := range w.Controls {
			controls[j] = ControlSpec{Action: c.Action, At: c.At + offset}
		}
		w.Controls = controls
		out[i] = w
	}
	return out
}
