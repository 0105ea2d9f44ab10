package scenario

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/execution"
	"github.com/inference-sim/cosim/cosim/internal/testutil"
	"github.com/inference-sim/cosim/cosim/trace"
)

const timeout = time.Second

// setup returns an execution with a sine slave "sine" and an identity slave
// "id" on a fake transport.
func setup(t *testing.T) (*execution.Execution, *testutil.Fake, cosim.SlaveID, cosim.SlaveID) {
	t.Helper()
	f := testutil.NewFake()
	e, err := execution.New("scenario", f, execution.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	slaves := []execution.AddedSlave{
		{Locator: f.Locator("sine"), Name: "sine"},
		{Locator: f.Locator("identity"), Name: "id"},
	}
	require.NoError(t, e.AddSlaves(slaves, timeout))
	return e, f, slaves[0].ID, slaves[1].ID
}

func config(duration, stepSize float64) Config {
	return Config{Duration: duration, StepSize: stepSize, StepTimeout: timeout, OtherTimeout: timeout}
}

func TestSimulate_AdvancesByDuration(t *testing.T) {
	// GIVEN an execution at t=0
	e, f, _, _ := setup(t)

	// WHEN simulating 1s in steps of 0.1s
	require.NoError(t, Simulate(e, nil, config(1, 0.1)))

	// THEN time has advanced by the duration, in ten steps
	testutil.AssertTime(t, "current time", 1, e.CurrentTime())
	assert.Len(t, f.Steps("sine"), 10)
	assert.Equal(t, 10, f.Accepts("id"))
}

func TestSimulate_LastStepLandsOnEndTime(t *testing.T) {
	e, f, _, _ := setup(t)

	require.NoError(t, Simulate(e, nil, config(1, 0.3)))

	steps := f.Steps("sine")
	require.Len(t, steps, 4)
	for _, s := range steps[:3] {
		assert.Equal(t, 0.3, s.DT)
	}
	assert.InDelta(t, 0.1, steps[3].DT, 1e-12)
	assert.InDelta(t, 1.0, e.CurrentTime(), 1e-12)
}

func TestSimulate_RemainderShorterThanEpsilonIsFolded(t *testing.T) {
	tests := []struct {
		name      string
		duration  float64
		wantSteps int
		wantLast  float64
	}{
		// epsilon is 0.1*1e-6
		{"below epsilon", 1 + 0.1*1e-7, 10, 0.1 + 0.1*1e-7},
		{"above epsilon", 1 + 0.1*1e-5, 11, 0.1 * 1e-5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a duration just past a step boundary
			e, f, _, _ := setup(t)

			// WHEN simulating in steps of 0.1
			require.NoError(t, Simulate(e, nil, config(tc.duration, 0.1)))

			// THEN the last step lands on the end time
			steps := f.Steps("sine")
			require.Len(t, steps, tc.wantSteps)
			assert.InDelta(t, tc.wantLast, steps[len(steps)-1].DT, 1e-12)
			testutil.AssertTime(t, "current time", tc.duration, e.CurrentTime())
		})
	}
}

func TestSimulate_ContinuesFromCurrentTime(t *testing.T) {
	e, _, _, _ := setup(t)
	require.NoError(t, Simulate(e, nil, config(0.5, 0.1)))

	require.NoError(t, Simulate(e, nil, config(0.25, 0.1)))

	testutil.AssertTime(t, "current time", 0.75, e.CurrentTime())
}

func TestSimulate_InvalidArguments(t *testing.T) {
	e, _, _, _ := setup(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero duration", config(0, 0.1)},
		{"negative step", config(1, -0.1)},
		{"NaN step", config(1, math.NaN())},
		{"zero step timeout", Config{Duration: 1, StepSize: 0.1, OtherTimeout: timeout}},
		{"zero other timeout", Config{Duration: 1, StepSize: 0.1, StepTimeout: timeout}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, Simulate(e, nil, tc.cfg), cosim.ErrInvalidArgument)
		})
	}
	assert.Equal(t, 0.0, e.CurrentTime())
}

func TestSimulate_NearlySimultaneousEventsShareOneReconfiguration(t *testing.T) {
	// GIVEN events at t, t+stepSize*1e-7 and t+stepSize*1e-5
	e, f, sine, _ := setup(t)
	const stepSize = 0.1
	sc := New(
		Event{Time: 0.5, Variable: cosim.Variable{Slave: sine, ID: 0}, Value: cosim.RealValue(1)},
		Event{Time: 0.5 + stepSize*1e-7, Variable: cosim.Variable{Slave: sine, ID: 1}, Value: cosim.RealValue(2)},
		Event{Time: 0.5 + stepSize*1e-5, Variable: cosim.Variable{Slave: sine, ID: 2}, Value: cosim.RealValue(3)},
	)

	// WHEN simulating past them
	require.NoError(t, Simulate(e, sc, config(1, stepSize)))

	// THEN the first two arrive in one batch and the third in a later one
	batches := f.Settings("sine")
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)
	assert.Equal(t, cosim.VariableID(2), batches[1][0].Variable())
	assert.Empty(t, f.Settings("id"))
	assert.Equal(t, 0, sc.Len())
	assert.InDelta(t, 1.0, e.CurrentTime(), 1e-12)
}

func TestSimulate_EventsAreAppliedAtTheirTime(t *testing.T) {
	// GIVEN an event between step boundaries
	e, f, _, id := setup(t)
	sc := New(Event{Time: 0.25, Variable: cosim.Variable{Slave: id, ID: 1}, Value: cosim.IntegerValue(5)})

	// WHEN simulating
	require.NoError(t, Simulate(e, sc, config(1, 0.1)))

	// THEN a short step lands on the event time before stepping resumes
	steps := f.Steps("sine")
	require.Greater(t, len(steps), 3)
	assert.InDelta(t, 0.2, steps[2].T, 1e-12)
	assert.InDelta(t, 0.05, steps[2].DT, 1e-12)
	assert.InDelta(t, 0.25, steps[3].T, 1e-12)
	assert.Len(t, f.Settings("id"), 1)
}

func TestSimulate_StaleEventIsDiscarded(t *testing.T) {
	// GIVEN two executions at t=1, one run with a stale event
	run := func(sc *Scenario) *testutil.Fake {
		e, f, _, _ := setup(t)
		require.NoError(t, Simulate(e, nil, config(1, 0.1)))
		require.NoError(t, Simulate(e, sc, config(1, 0.1)))
		return f
	}
	withStale := New(Event{Time: 0.5, Variable: cosim.Variable{Slave: 1, ID: 0}, Value: cosim.RealValue(9)})

	// WHEN both are simulated further
	staleFake := run(withStale)
	emptyFake := run(New())

	// THEN the stale event had no effect
	assert.Empty(t, staleFake.Settings("sine"))
	assert.Equal(t, emptyFake.Steps("sine"), staleFake.Steps("sine"))
	assert.Equal(t, 0, withStale.Len())
}

func TestSimulate_EventsAtEndTimeStayQueued(t *testing.T) {
	e, f, sine, _ := setup(t)
	sc := New(Event{Time: 1, Variable: cosim.Variable{Slave: sine, ID: 0}, Value: cosim.RealValue(1)})

	require.NoError(t, Simulate(e, sc, config(1, 0.1)))

	assert.Equal(t, 1, sc.Len())
	assert.Empty(t, f.Settings("sine"))
}

func TestSimulate_ProgressAbort(t *testing.T) {
	// GIVEN a progress callback that aborts on its third call
	e, f, _, _ := setup(t)
	var seen []float64
	cfg := config(1, 0.1)
	cfg.Progress = func(t float64) bool {
		seen = append(seen, t)
		return len(seen) < 3
	}

	// WHEN simulating
	err := Simulate(e, nil, cfg)

	// THEN the run stops after three steps without an error
	require.NoError(t, err)
	assert.Len(t, f.Steps("sine"), 3)
	require.Len(t, seen, 3)
	assert.InDelta(t, 0.1, seen[0], 1e-12)
	assert.InDelta(t, 0.3, e.CurrentTime(), 1e-12)
}

func TestSimulate_StepFailureAborts(t *testing.T) {
	// GIVEN a slave that fails its third step
	f := testutil.NewFake()
	f.Script("id", testutil.Behavior{FailStep: 3})
	e, err := execution.New("failing", f, execution.DefaultOptions())
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.AddSlaves([]execution.AddedSlave{
		{Locator: f.Locator("sine"), Name: "sine"},
		{Locator: f.Locator("identity"), Name: "id"},
	}, timeout))

	// WHEN simulating
	err = Simulate(e, nil, config(1, 0.1))

	// THEN the run ends with a step failure naming time and step size
	assert.ErrorIs(t, err, cosim.ErrStepFailed)
	var sf *cosim.StepFailedError
	require.ErrorAs(t, err, &sf)
	assert.InDelta(t, 0.2, sf.Time, 1e-12)
	assert.InDelta(t, 0.1, sf.StepSize, 1e-12)
	assert.Contains(t, err.Error(), "aborted at t=0.2")
	assert.InDelta(t, 0.2, e.CurrentTime(), 1e-12)
	assert.Len(t, f.Steps("sine"), 3)
}

func TestSimulate_ReconfigureErrorIsFatal(t *testing.T) {
	f := testutil.NewFake()
	f.Script("sine", testutil.Behavior{SetErr: assert.AnError})
	e, err := execution.New("reconf", f, execution.DefaultOptions())
	require.NoError(t, err)
	defer e.Close()
	slaves := []execution.AddedSlave{{Locator: f.Locator("sine"), Name: "sine"}}
	require.NoError(t, e.AddSlaves(slaves, timeout))
	sc := New(Event{Time: 0.5, Variable: cosim.Variable{Slave: slaves[0].ID, ID: 0}, Value: cosim.RealValue(1)})

	err = Simulate(e, sc, config(1, 0.1))

	var agg *cosim.AggregatedSlaveError
	require.ErrorAs(t, err, &agg)
	testutil.AssertTime(t, "current time", 0.5, e.CurrentTime())
}

func TestSimulate_RecordsTrace(t *testing.T) {
	e, _, sine, id := setup(t)
	tr := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelSteps})
	sc := New(
		Event{Time: 0.5, Variable: cosim.Variable{Slave: sine, ID: 0}, Value: cosim.RealValue(1)},
		Event{Time: 0.5, Variable: cosim.Variable{Slave: id, ID: 3}, Value: cosim.StringValue("x")},
		Event{Time: 0.5, Variable: cosim.Variable{Slave: sine, ID: 1}, Value: cosim.RealValue(2)},
	)
	cfg := config(1, 0.25)
	cfg.Trace = tr

	require.NoError(t, Simulate(e, sc, cfg))

	assert.Len(t, tr.Steps, 4)
	require.Len(t, tr.Reconfigs, 1)
	assert.Equal(t, map[string]int{"sine": 2, "id": 1}, tr.Reconfigs[0].Settings)
	summary := trace.Summarize(tr)
	assert.InDelta(t, 1.0, summary.SimulatedTime, 1e-12)
	assert.Equal(t, 3, summary.SettingsApplied)
}
