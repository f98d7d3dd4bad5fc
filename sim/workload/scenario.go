package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/cloudsim-go/cloudsim/sim"
	"github.com/cloudsim-go/cloudsim/sim/datacenter"
)

// ByteSize is a byte count that YAML may spell as "4GiB", "512MiB" or a
// plain integer.
type ByteSize int64

// UnmarshalYAML parses human-readable sizes with binary multipliers.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", value.Line, s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML writes the size in its human-readable form.
func (b ByteSize) MarshalYAML() (any, error) {
	return units.BytesSize(float64(b)), nil
}

// Scenario is the top-level simulation input.
// Loaded from YAML via LoadScenario(path).
type Scenario struct {
	Seed                 int64           `yaml:"seed"`
	Horizon              float64         `yaml:"horizon,omitempty"` // 0 = run until idle
	MinTimeBetweenEvents float64         `yaml:"min_time_between_events,omitempty"`
	Scheduler            string          `yaml:"scheduler,omitempty"` // strict | oversubscribed
	Hosts                []HostGroup     `yaml:"hosts"`
	DataItems            []DataItemSpec  `yaml:"data_items,omitempty"`
	Guests               []GuestGroup    `yaml:"guests,omitempty"`
	Migrations           []MigrationSpec `yaml:"migrations,omitempty"`
	Synthetic            *SyntheticSpec  `yaml:"synthetic,omitempty"`
}

// HostGroup declares Count identical hosts.
type HostGroup struct {
	Name      string     `yaml:"name"`
	Count     int        `yaml:"count,omitempty"` // default 1
	PEs       int        `yaml:"pes"`
	MIPSPerPE float64    `yaml:"mips_per_pe"`
	RAM       ByteSize   `yaml:"ram,omitempty"` // 0 = unlimited
	BW        ByteSize   `yaml:"bw,omitempty"`  // 0 = unlimited
	Disks     []DiskSpec `yaml:"disks,omitempty"`
}

// DiskSpec is one disk of a host and the data items stored on it.
type DiskSpec struct {
	IOPS float64  `yaml:"iops"`
	Data []string `yaml:"data,omitempty"`
}

// DataItemSpec declares a named data item.
type DataItemSpec struct {
	Name string   `yaml:"name"`
	Size ByteSize `yaml:"size,omitempty"`
}

// GuestGroup declares Count identical guests and their work items.
type GuestGroup struct {
	Name      string          `yaml:"name"`
	Count     int             `yaml:"count,omitempty"` // default 1
	Priority  int             `yaml:"priority"`
	SubmitAt  float64         `yaml:"submit_at,omitempty"`
	Runtime   float64         `yaml:"runtime,omitempty"` // 0 = until work items are done
	MIPS      []float64       `yaml:"mips"`
	IOPS      []float64       `yaml:"iops,omitempty"`
	RAM       ByteSize        `yaml:"ram,omitempty"`
	BW        ByteSize        `yaml:"bw,omitempty"`
	Tracker   string          `yaml:"tracker,omitempty"` // cpu | multi
	WorkItems []WorkItemGroup `yaml:"work_items,omitempty"`
}

// WorkItemGroup declares Count identical work items for each guest of a group.
type WorkItemGroup struct {
	Count             int           `yaml:"count,omitempty"` // default 1
	Length            float64       `yaml:"length"`
	IOLength          float64       `yaml:"io_length,omitempty"`
	PEs               int           `yaml:"pes,omitempty"`
	Data              string        `yaml:"data,omitempty"`
	Memory            ByteSize      `yaml:"memory,omitempty"`
	SubmitAt          float64       `yaml:"submit_at,omitempty"`
	FileTransferDelay float64       `yaml:"file_transfer_delay,omitempty"`
	Controls          []ControlSpec `yaml:"controls,omitempty"`
}

// ControlSpec pauses, resumes or cancels the items of a group at a time.
type ControlSpec struct {
	Action string  `yaml:"action"`
	At     float64 `yaml:"at"`
}

// MigrationSpec moves a named guest to a named host.
type MigrationSpec struct {
	Guest    string  `yaml:"guest"`
	ToHost   string  `yaml:"to_host"`
	At       float64 `yaml:"at"`
	Duration float64 `yaml:"duration,omitempty"`
}

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &s, nil
}

// Validate checks that all fields in the scenario are valid.
func (s *Scenario) Validate() error {
	if _, err := sim.ParseShareMode(s.Scheduler); err != nil {
		return fmt.Errorf("scheduler: %w; valid: strict, oversubscribed", err)
	}
	if err := validateNonNegative("horizon", s.Horizon); err != nil {
		return err
	}
	if err := validateNonNegative("min_time_between_events", s.MinTimeBetweenEvents); err != nil {
		return err
	}
	if len(s.Hosts) == 0 {
		return fmt.Errorf("at least one host group required")
	}

	data := make(map[string]bool, len(s.DataItems))
	for i, d := range s.DataItems {
		if d.Name == "" {
			return fmt.Errorf("data_items[%d]: name required", i)
		}
		if data[d.Name] {
			return fmt.Errorf("data_items[%d]: duplicate name %q", i, d.Name)
		}
		data[d.Name] = true
	}
	hosts := make(map[string]bool)
	for i, h := range s.Hosts {
		if err := validateHostGroup(&h, i, data); err != nil {
			return err
		}
		for _, name := range expandNames(h.Name, "host", i, h.Count) {
			hosts[name] = true
		}
	}
	guests := make(map[string]bool)
	for i, g := range s.Guests {
		if err := validateGuestGroup(&g, fmt.Sprintf("guests[%d]", i), data); err != nil {
			return err
		}
		for _, name := range expandNames(g.Name, "guest", i, g.Count) {
			guests[name] = true
		}
	}
	if s.Synthetic != nil {
		if err := s.Synthetic.validate(data); err != nil {
			return err
		}
	}
	for i, m := range s.Migrations {
		prefix := fmt.Sprintf("migrations[%d]", i)
		if !guests[m.Guest] {
			return fmt.Errorf("%s: unknown guest %q", prefix, m.Guest)
		}
		if !hosts[m.ToHost] {
			return fmt.Errorf("%s: unknown host %q", prefix, m.ToHost)
		}
		if err := validateNonNegative(prefix+".at", m.At); err != nil {
			return err
		}
		if err := validateNonNegative(prefix+".duration", m.Duration); err != nil {
			return err
		}
	}
	return nil
}

func validateHostGroup(h *HostGroup, idx int, data map[string]bool) error {
	prefix := fmt.Sprintf("hosts[%d]", idx)
	if h.Count < 0 {
		return fmt.Errorf("%s: count must be non-negative, got %d", prefix, h.Count)
	}
	if h.PEs <= 0 {
		return fmt.Errorf("%s: pes must be positive, got %d", prefix, h.PEs)
	}
	if err := validateFinitePositive(prefix+".mips_per_pe", h.MIPSPerPE); err != nil {
		return err
	}
	for j, d := range h.Disks {
		if err := validateFinitePositive(fmt.Sprintf("%s.disks[%d].iops", prefix, j), d.IOPS); err != nil {
			return err
		}
		for _, name := range d.Data {
			if !data[name] {
				return fmt.Errorf("%s.disks[%d]: unknown data item %q", prefix, j, name)
			}
		}
	}
	return nil
}

func validateGuestGroup(g *GuestGroup, prefix string, data map[string]bool) error {
	if g.Count < 0 {
		return fmt.Errorf("%s: count must be non-negative, got %d", prefix, g.Count)
	}
	if len(g.MIPS) == 0 {
		return fmt.Errorf("%s: at least one vPE in mips required", prefix)
	}
	for j, m := range g.MIPS {
		if err := validateNonNegative(fmt.Sprintf("%s.mips[%d]", prefix, j), m); err != nil {
			return err
		}
	}
	for j, v := range g.IOPS {
		if err := validateNonNegative(fmt.Sprintf("%s.iops[%d]", prefix, j), v); err != nil {
			return err
		}
	}
	if err := validateNonNegative(prefix+".submit_at", g.SubmitAt); err != nil {
		return err
	}
	if err := validateNonNegative(prefix+".runtime", g.Runtime); err != nil {
		return err
	}
	if !sim.IsValidTrackerKind(g.Tracker) {
		return fmt.Errorf("%s: unknown tracker %q; valid: cpu, multi", prefix, g.Tracker)
	}
	if g.RAM < 0 || g.BW < 0 {
		return fmt.Errorf("%s: ram and bw must be non-negative", prefix)
	}
	for j, w := range g.WorkItems {
		wp := fmt.Sprintf("%s.work_items[%d]", prefix, j)
		if w.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative, got %d", wp, w.Count)
		}
		if err := validateNonNegative(wp+".length", w.Length); err != nil {
			return err
		}
		if err := validateNonNegative(wp+".io_length", w.IOLength); err != nil {
			return err
		}
		if err := validateNonNegative(wp+".file_transfer_delay", w.FileTransferDelay); err != nil {
			return err
		}
		if w.PEs < 0 {
			return fmt.Errorf("%s: pes must be non-negative, got %d", wp, w.PEs)
		}
		if w.Data != "" && !data[w.Data] {
			return fmt.Errorf("%s: unknown data item %q", wp, w.Data)
		}
		if (w.IOLength > 0 || w.Data != "") && g.Tracker != string(sim.TrackerMulti) {
			logrus.Warnf("%s: I/O is ignored by the %q tracker; use tracker: multi", wp, g.Tracker)
		}
		if w.IOLength > 0 && g.Tracker == string(sim.TrackerMulti) && (len(g.IOPS) == 0 || floats.Max(g.IOPS) == 0) {
			return fmt.Errorf("%s: io_length %g needs a disk share, but the guest requests no iops", wp, w.IOLength)
		}
		for k, c := range w.Controls {
			if !datacenter.IsValidWorkAction(c.Action) {
				return fmt.Errorf("%s.controls[%d]: unknown action %q; valid: pause, resume, cancel", wp, k, c.Action)
			}
			if c.At < w.SubmitAt {
				return fmt.Errorf("%s.controls[%d]: at %f precedes submit_at %f", wp, k, c.At, w.SubmitAt)
			}
		}
	}
	return nil
}

func validateNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}

// expandNames names the members of a group: the group name itself for a
// single member, name-i otherwise. Unnamed groups use kind-idx.
func expandNames(name, kind string, idx, count int) []string {
	if name == "" {
		name = fmt.Sprintf("%s-%d", kind, idx)
	}
	if count == 0 {
		count = 1
	}
	if count == 1 {
		return []string{name}
	}
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%d", name, i)
	}
	return names
}

// Config returns the datacenter settings the scenario asks for.
func (s *Scenario) Config() datacenter.Config {
	return datacenter.Config{Horizon: s.Horizon, MinTimeBetweenEvents: s.MinTimeBetweenEvents}
}

// Apply registers the scenario's hosts, data items, guests and work items in
// dc and schedules their arrivals, controls and migrations. The scenario
// must be valid.
func (s *Scenario) Apply(dc *datacenter.Datacenter) error {
	mode, err := sim.ParseShareMode(s.Scheduler)
	if err != nil {
		return err
	}
	reg := dc.Registry()

	data := make(map[string]sim.DataItemID, len(s.DataItems))
	for _, d := range s.DataItems {
		data[d.Name] = reg.NewDataItem(d.Name, int64(d.Size)).ID
	}

	hosts := make(map[string]*sim.Host)
	for i, hg := range s.Hosts {
		disks := make([]float64, len(hg.Disks))
		for j, d := range hg.Disks {
			disks[j] = d.IOPS
		}
		for _, name := range expandNames(hg.Name, "host", i, hg.Count) {
			h := reg.NewHost(sim.HostSpec{
				Name:   name,
				PEs:    hg.PEs,
				PEMIPS: hg.MIPSPerPE,
				Disks:  disks,
				RAM:    int64(hg.RAM),
				BW:     int64(hg.BW),
				Mode:   mode,
			})
			for j, d := range hg.Disks {
				for _, item := range d.Data {
					h.StoreData(j, data[item])
				}
			}
			hosts[name] = h
		}
	}

	groups := s.Guests
	if s.Synthetic != nil {
		groups = append(groups[:len(groups):len(groups)],
			s.Synthetic.Generate(sim.NewPartitionedRNG(sim.NewSimulationKey(s.Seed)))...)
	}
	guests := make(map[string]*sim.Guest)
	for i, gg := range groups {
		for _, name := range expandNames(gg.Name, "guest", i, gg.Count) {
			g := reg.NewGuest(sim.GuestSpec{
				Name:           name,
				Priority:       gg.Priority,
				SubmissionTime: gg.SubmitAt,
				TargetRuntime:  gg.Runtime,
				MIPS:           gg.MIPS,
				IOPS:           gg.IOPS,
				RAM:            int64(gg.RAM),
				BW:             int64(gg.BW),
			}, sim.TrackerKind(gg.Tracker))
			dc.SubmitGuest(g, gg.SubmitAt)
			guests[name] = g
			applyWorkItems(dc, g, gg.WorkItems, data)
		}
	}

	for _, m := range s.Migrations {
		g, h := guests[m.Guest], hosts[m.ToHost]
		if g == nil || h == nil {
			return fmt.Errorf("migration of %q to %q: unknown guest or host", m.Guest, m.ToHost)
		}
		dc.ScheduleMigration(g, h, m.At, m.Duration)
	}
	logrus.Infof("scenario: %d hosts, %d guests, %d work items", len(reg.Hosts()), len(reg.Guests()), len(reg.WorkItems()))
	return nil
}

func applyWorkItems(dc *datacenter.Datacenter, g *sim.Guest, groups []WorkItemGroup, data map[string]sim.DataItemID) {
	for _, wg := range groups {
		count := wg.Count
		if count == 0 {
			count = 1
		}
		spec := sim.WorkItemSpec{
			Length:   wg.Length,
			IOLength: wg.IOLength,
			PEs:      wg.PEs,
			Memory:   int64(wg.Memory),
		}
		if wg.Data != "" {
			id := data[wg.Data]
			spec.Data = &id
		}
		for range count {
			item := dc.Registry().NewWorkItem(g, spec)
			dc.SubmitWorkItem(item, max(wg.SubmitAt, g.SubmissionTime), wg.FileTransferDelay)
			for _, c := range wg.Controls {
				dc.ControlWorkItem(item, datacenter.WorkAction(c.Action), c.At)
			}
		}
	}
}
