package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/cosim/cosim/execution"
	"github.com/inference-sim/cosim/cosim/loopback"
	"github.com/inference-sim/cosim/cosim/model"
	"github.com/inference-sim/cosim/cosim/modelfile"
	"github.com/inference-sim/cosim/cosim/scenario"
	"github.com/inference-sim/cosim/cosim/trace"
)

var (
	modelPath          string        // Model file (.yaml, .yml or .hcl)
	executionName      string        // Execution name; defaults to the model file's base name
	duration           float64       // Simulated duration
	stepSize           float64       // Macro step size
	startTime          float64       // Logical start time
	maxTime            float64       // Latest reachable logical time
	instantiateTimeout time.Duration // Per-slave instantiation timeout
	stepTimeout        time.Duration // Per-step timeout
	commandTimeout     time.Duration // Timeout for accept and reconfigure commands
	recvTimeout        time.Duration // Slave variable receive timeout
	traceLevel         string        // Trace verbosity
	maxStepSize        float64       // Loopback slaves fail steps longer than this
	maxParallelism     int           // Concurrent per-slave commands
)

// runCmd loads a model file and simulates it on the loopback transport.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a co-simulation model file",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		if modelPath == "" {
			logrus.Fatalf("Model file not provided. Exiting simulation.")
		}
		f, err := modelfile.Load(modelPath)
		if err != nil {
			logrus.Fatalf("unable to load model file; %v", err)
		}
		if err := overrideRun(cmd, &f.Run); err != nil {
			logrus.Fatalf("invalid run settings; %v", err)
		}
		name := executionName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
		}

		startWall := time.Now()
		if err := runModel(f, runSettings{name: name, maxStepSize: maxStepSize, maxParallelism: maxParallelism}, os.Stdout); err != nil {
			logrus.Fatalf("simulation failed; %v", err)
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startWall))
	},
}

// overrideRun replaces the file's run settings with every flag given on
// the command line, then re-validates them.
func overrideRun(cmd *cobra.Command, r *modelfile.Run) error {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		r.Duration = duration
	}
	if flags.Changed("step-size") {
		r.StepSize = stepSize
	}
	if flags.Changed("start-time") {
		r.StartTime = startTime
	}
	if flags.Changed("max-time") {
		mt := maxTime
		r.MaxTime = &mt
	}
	for _, d := range []struct {
		flag string
		val  time.Duration
		dst  *string
	}{
		{"instantiate-timeout", instantiateTimeout, &r.InstantiateTimeout},
		{"step-timeout", stepTimeout, &r.StepTimeout},
		{"command-timeout", commandTimeout, &r.CommandTimeout},
		{"recv-timeout", recvTimeout, &r.RecvTimeout},
	} {
		if flags.Changed(d.flag) {
			*d.dst = d.val.String()
		}
	}
	if flags.Changed("trace") {
		r.Trace = traceLevel
	}
	probe := modelfile.File{Run: *r}
	return probe.Validate()
}

type runSettings struct {
	name           string
	maxStepSize    float64
	maxParallelism int
}

// runModel applies f to a fresh execution on a loopback cluster, runs its
// scenario and writes a report to out.
func runModel(f *modelfile.File, rs runSettings, out io.Writer) error {
	timeouts, err := f.Run.Timeouts()
	if err != nil {
		return err
	}
	cluster := loopback.NewCluster(loopback.Options{MaxStepSize: rs.maxStepSize})

	b := model.NewBuilder(cluster, timeouts.Command)
	if err := f.Build(b); err != nil {
		return err
	}
	if missing := b.UnconnectedInputs(); len(missing) > 0 {
		logrus.Warnf("%d input(s) are not connected: %v", len(missing), missing)
	}

	e, err := execution.New(rs.name, cluster, execution.Options{
		StartTime:                f.Run.StartTime,
		MaxTime:                  f.Run.EffectiveMaxTime(),
		SlaveVariableRecvTimeout: timeouts.Recv,
		MaxParallelism:           rs.maxParallelism,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logrus.Warnf("closing execution: %v", err)
		}
	}()

	slaves, err := b.Apply(e, timeouts.Instantiate, timeouts.Command)
	if err != nil {
		return err
	}
	sb, err := f.ScenarioBuilder(b)
	if err != nil {
		return err
	}
	sc, err := sb.Build(slaves)
	if err != nil {
		return err
	}

	var tr *trace.SimulationTrace
	if level := trace.TraceLevel(f.Run.Trace); level != "" && level != trace.TraceLevelNone {
		tr = trace.NewSimulationTrace(trace.TraceConfig{Level: level})
	}
	logrus.Infof("Starting %q with %d slave(s), duration=%g, step size=%g", rs.name, slaves.Len(), f.Run.Duration, f.Run.StepSize)

	simErr := scenario.Simulate(e, sc, scenario.Config{
		Duration:     f.Run.Duration,
		StepSize:     f.Run.StepSize,
		StepTimeout:  timeouts.Step,
		OtherTimeout: timeouts.Command,
		Progress: func(t float64) bool {
			logrus.Debugf("[t=%g] step accepted", t)
			return true
		},
		Trace: tr,
	})
	if err := writeReport(out, newReport(e, cluster, slaves, tr)); err != nil {
		return err
	}
	if simErr != nil {
		return fmt.Errorf("simulating %q: %w", rs.name, simErr)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&modelPath, "model", "", "Model file (.yaml, .yml or .hcl)")
	runCmd.Flags().StringVar(&executionName, "name", "", "Execution name (default: model file base name)")
	runCmd.Flags().Float64Var(&duration, "duration", 0, "Simulated duration (overrides run.duration)")
	runCmd.Flags().Float64Var(&stepSize, "step-size", 0, "Macro step size (overrides run.step_size)")
	runCmd.Flags().Float64Var(&startTime, "start-time", 0, "Logical start time (overrides run.start_time)")
	runCmd.Flags().Float64Var(&maxTime, "max-time", 0, "Latest reachable logical time (overrides run.max_time)")
	runCmd.Flags().DurationVar(&instantiateTimeout, "instantiate-timeout", time.Second, "Per-slave instantiation timeout")
	runCmd.Flags().DurationVar(&stepTimeout, "step-timeout", time.Second, "Per-step timeout")
	runCmd.Flags().DurationVar(&commandTimeout, "command-timeout", time.Second, "Timeout for accept and reconfigure commands")
	runCmd.Flags().DurationVar(&recvTimeout, "recv-timeout", time.Second, "Slave variable receive timeout")
	runCmd.Flags().StringVar(&traceLevel, "trace", "", "Trace level (none, events, steps)")
	runCmd.Flags().Float64Var(&maxStepSize, "max-step-size", 0, "Loopback slaves fail steps longer than this (0 = no limit)")
	runCmd.Flags().IntVar(&maxParallelism, "parallelism", 0, "Maximum concurrent per-slave commands (0 = one per slave)")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
