package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudsim-go/cloudsim/sim/datacenter"
	"github.com/cloudsim-go/cloudsim/sim/trace"
	"github.com/cloudsim-go/cloudsim/sim/workload"
)

var (
	scenarioPath string  // Path to the YAML scenario
	horizon      float64 // Simulation horizon; overrides the scenario
	scheduler    string  // Share scheduler mode; overrides the scenario
	minGap       float64 // Minimum time between events; overrides the scenario
	seed         int64   // Seed for synthetic guests; overrides the scenario
	logLevel     string  // Log verbosity level
	resultsPath  string  // Optional JSON metrics output
	traceOn      bool    // Collect and summarize the decision trace
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "cloudsim",
	Short: "Discrete-event simulator for cloud resource sharing and preemptive placement",
}

// runCmd executes the simulation described by a scenario file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		startTime := time.Now()
		if err := runScenario(cmd, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Simulation complete in %s.", time.Since(startTime))
	},
}

// validateCmd checks a scenario file without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario file",
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := loadScenario(cmd); err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", scenarioPath)
	},
}

// loadScenario reads the scenario, applies flag overrides the user set
// explicitly, and validates the result.
func loadScenario(cmd *cobra.Command) (*workload.Scenario, error) {
	if scenarioPath == "" {
		return nil, fmt.Errorf("--scenario is required")
	}
	s, err := workload.LoadScenario(scenarioPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("horizon") {
		s.Horizon = horizon
	}
	if flags.Changed("scheduler") {
		s.Scheduler = scheduler
	}
	if flags.Changed("min-gap") {
		s.MinTimeBetweenEvents = minGap
	}
	if flags.Changed("seed") {
		s.Seed = seed
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", scenarioPath, err)
	}
	return s, nil
}

// runScenario runs one simulation and writes the report to w.
func runScenario(cmd *cobra.Command, w io.Writer) error {
	s, err := loadScenario(cmd)
	if err != nil {
		return err
	}
	cfg := s.Config()
	if traceOn {
		cfg.Trace = trace.TraceConfig{Level: trace.TraceLevelDecisions}
	}
	logrus.Infof("Starting simulation: scenario=%s, horizon=%g, scheduler=%q, seed=%d",
		scenarioPath, s.Horizon, s.Scheduler, s.Seed)

	dc := datacenter.NewDatacenter(cfg)
	if err := s.Apply(dc); err != nil {
		return fmt.Errorf("applying scenario: %w", err)
	}
	dc.Run()

	m := dc.Metrics()
	m.Print(w)
	if traceOn {
		printTraceSummary(w, trace.Summarize(dc.Trace()))
	}
	if resultsPath != "" {
		if err := m.SaveJSON(resultsPath); err != nil {
			return err
		}
		logrus.Infof("Metrics written to %s", resultsPath)
	}
	return nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Decision Trace ===")
	fmt.Fprintf(w, "Placement Decisions  : %d (%d placed, %d deferred)\n", s.TotalPlacements, s.PlacedCount, s.DeferredCount)
	fmt.Fprintf(w, "Preemptions          : %d\n", s.Preemptions)
	fmt.Fprintf(w, "Migrations           : %d started, %d completed\n", s.MigrationsStarted, s.MigrationsCompleted)
	fmt.Fprintf(w, "Hosts Used           : %d\n", s.UniqueHosts)
	if s.Preemptions > 0 {
		fmt.Fprintf(w, "Mean Victim Runtime  : %.3f\n", s.MeanVictimRuntime)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the YAML scenario file")
		c.Flags().Float64Var(&horizon, "horizon", 0, "Simulation horizon (0 runs until idle); overrides the scenario")
		c.Flags().StringVar(&scheduler, "scheduler", "strict", "Share scheduler mode (strict, oversubscribed); overrides the scenario")
		c.Flags().Float64Var(&minGap, "min-gap", 0, "Minimum time between events; overrides the scenario")
		c.Flags().Int64Var(&seed, "seed", 42, "Seed for synthetic guest generation; overrides the scenario")
	}
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&resultsPath, "results", "", "Write metrics as JSON to this file")
	runCmd.Flags().BoolVar(&traceOn, "trace", false, "Record placement and preemption decisions and print a summary")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
