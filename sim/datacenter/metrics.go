// Collects datacenter-wide outcomes: guest lifecycle counts, work-item
// completions and failures, turnaround distribution and per-host peaks.

package datacenter

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sort"

	"github.com/docker/go-units"
	"gonum.org/v1/gonum/stat"

	"github.com/cloudsim-go/cloudsim/sim"
)

// Distribution captures statistical summary of a metric.
type Distribution struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// NewDistribution computes a Distribution from raw values.
// Returns zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	return Distribution{
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.LinInterp, sorted, nil),
		P95:   stat.Quantile(0.95, stat.LinInterp, sorted, nil),
		P99:   stat.Quantile(0.99, stat.LinInterp, sorted, nil),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// GuestReport is the end-of-run view of one guest.
type GuestReport struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Priority        int     `json:"priority"`
	State           string  `json:"state"`
	HostID          int     `json:"host_id"` // -1 when not placed
	AchievedRuntime float64 `json:"achieved_runtime"`
	Preemptions     int     `json:"preemptions"`
	ItemsLive       int     `json:"items_live"`
}

// HostReport is the end-of-run view of one host.
type HostReport struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	Guests             int     `json:"guests"`
	PeakCPUUtilization float64 `json:"peak_cpu_utilization"`
	RAMAvailable       int64   `json:"ram_available"` // -1 when unlimited
}

// Metrics aggregates statistics about the simulation for final reporting.
type Metrics struct {
	GuestsSubmitted  int `json:"guests_submitted"`
	GuestsFinished   int `json:"guests_finished"`
	GuestsTerminated int `json:"guests_terminated"`
	GuestsPending    int `json:"guests_pending"`

	Placements          int `json:"placements"`
	Preemptions         int `json:"preemptions"`
	MigrationsCompleted int `json:"migrations_completed"`
	MigrationsRejected  int `json:"migrations_rejected"`

	ItemsSubmitted     int                       `json:"items_submitted"`
	ItemsFinished      int                       `json:"items_finished"`
	ItemsCanceled      int                       `json:"items_canceled"`
	ItemsFailed        map[sim.FailureReason]int `json:"items_failed"`
	ItemsUnfinished    int                       `json:"items_unfinished"`
	DroppedSubmissions int                       `json:"dropped_submissions"`

	Turnaround Distribution `json:"turnaround"`

	Guests []GuestReport `json:"guests"`
	Hosts  []HostReport  `json:"hosts"`

	SimEndTime float64 `json:"sim_end_time"`

	turnarounds []float64
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{ItemsFailed: make(map[sim.FailureReason]int)}
}

// TotalFailed sums failed items over every reason.
func (m *Metrics) TotalFailed() int {
	total := 0
	for _, n := range m.ItemsFailed {
		total += n
	}
	return total
}

func (m *Metrics) recordFinished(w *sim.WorkItem) {
	m.ItemsFinished++
	m.turnarounds = append(m.turnarounds, w.Turnaround())
}

func (m *Metrics) recordFailed(w *sim.WorkItem) {
	m.ItemsFailed[w.Reason()]++
}

// finalize builds the distribution and the per-entity reports at end time.
func (m *Metrics) finalize(now float64, reg *sim.Registry) {
	m.SimEndTime = now
	m.Turnaround = NewDistribution(m.turnarounds)
	m.Guests = m.Guests[:0]
	m.GuestsPending = 0
	m.ItemsUnfinished = 0
	for _, g := range reg.Guests() {
		hostID := -1
		if id, ok := g.Host(); ok {
			hostID = int(id)
		}
		if g.State() == sim.GuestPending {
			m.GuestsPending++
		}
		m.ItemsUnfinished += g.Scheduler.Live()
		m.Guests = append(m.Guests, GuestReport{
			ID:              int(g.ID),
			Name:            g.Name,
			Priority:        g.Priority,
			State:           string(g.State()),
			HostID:          hostID,
			AchievedRuntime: g.AchievedRuntime(now),
			Preemptions:     g.Preemptions(),
			ItemsLive:       g.Scheduler.Live(),
		})
	}
	m.Hosts = m.Hosts[:0]
	for _, h := range reg.Hosts() {
		m.Hosts = append(m.Hosts, HostReport{
			ID:                 int(h.ID),
			Name:               h.Name,
			Guests:             h.NumGuests(),
			PeakCPUUtilization: h.PeakCPUUtilization(),
			RAMAvailable:       h.RAMAvailable(),
		})
	}
}

// Print writes a human-readable report.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Simulation End Time  : %.3f\n", m.SimEndTime)
	fmt.Fprintf(w, "Guests Submitted     : %d\n", m.GuestsSubmitted)
	fmt.Fprintf(w, "Guests Finished      : %d\n", m.GuestsFinished)
	fmt.Fprintf(w, "Guests Terminated    : %d\n", m.GuestsTerminated)
	fmt.Fprintf(w, "Guests Still Pending : %d\n", m.GuestsPending)
	fmt.Fprintf(w, "Placements           : %d\n", m.Placements)
	fmt.Fprintf(w, "Preemptions          : %d\n", m.Preemptions)
	fmt.Fprintf(w, "Migrations           : %d completed, %d rejected\n", m.MigrationsCompleted, m.MigrationsRejected)
	fmt.Fprintf(w, "Work Items Submitted : %d\n", m.ItemsSubmitted)
	fmt.Fprintf(w, "Work Items Finished  : %d\n", m.ItemsFinished)
	fmt.Fprintf(w, "Work Items Canceled  : %d\n", m.ItemsCanceled)
	fmt.Fprintf(w, "Work Items Failed    : %d\n", m.TotalFailed())
	for _, reason := range slices.Sorted(maps.Keys(m.ItemsFailed)) {
		fmt.Fprintf(w, "  %-20s: %d\n", reason, m.ItemsFailed[reason])
	}
	fmt.Fprintf(w, "Work Items Unfinished: %d\n", m.ItemsUnfinished)
	if m.DroppedSubmissions > 0 {
		fmt.Fprintf(w, "Dropped Submissions  : %d\n", m.DroppedSubmissions)
	}
	if m.Turnaround.Count > 0 {
		fmt.Fprintf(w, "Turnaround           : mean %.3f, p50 %.3f, p99 %.3f, max %.3f\n",
			m.Turnaround.Mean, m.Turnaround.P50, m.Turnaround.P99, m.Turnaround.Max)
	}

	fmt.Fprintln(w, "=== Hosts ===")
	for _, h := range m.Hosts {
		ram := "unlimited"
		if h.RAMAvailable >= 0 {
			ram = units.BytesSize(float64(h.RAMAvailable))
		}
		fmt.Fprintf(w, "host %d %-12s guests=%d peak_cpu=%.1f%% ram_free=%s\n",
			h.ID, h.Name, h.Guests, 100*h.PeakCPUUtilization, ram)
	}
	fmt.Fprintln(w, "=== Guests ===")
	for _, g := range m.Guests {
		fmt.Fprintf(w, "guest %d %-12s priority=%d state=%s runtime=%.3f preemptions=%d\n",
			g.ID, g.Name, g.Priority, g.State, g.AchievedRuntime, g.Preemptions)
	}
}

// SaveJSON writes the metrics to path as indented JSON.
func (m *Metrics) SaveJSON(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
