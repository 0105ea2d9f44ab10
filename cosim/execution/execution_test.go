package execution

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/internal/testutil"
)

const timeout = time.Second

func newExecution(t *testing.T, f *testutil.Fake) *Execution {
	t.Helper()
	e, err := New("test", f, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// addSineAndIdentity adds a sine slave "sine" and an identity slave "id".
func addSineAndIdentity(t *testing.T, e *Execution, f *testutil.Fake) (sine, id cosim.SlaveID) {
	t.Helper()
	slaves := []AddedSlave{
		{Locator: f.Locator("sine"), Name: "sine"},
		{Locator: f.Locator("identity"), Name: "id"},
	}
	require.NoError(t, e.AddSlaves(slaves, timeout))
	return slaves[0].ID, slaves[1].ID
}

func TestNew_RejectsBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTime = -1
	_, err := New("x", testutil.NewFake(), opts)
	assert.ErrorIs(t, err, cosim.ErrInvalidArgument)
}

func TestNew_PanicsOnNilConnector(t *testing.T) {
	assert.Panics(t, func() { _, _ = New("x", nil, DefaultOptions()) })
}

func TestExecution_StartsConfiguringAtStartTime(t *testing.T) {
	opts := DefaultOptions()
	opts.StartTime = 2.5
	e, err := New("x", testutil.NewFake(), opts)
	require.NoError(t, err)

	assert.Equal(t, StateConfiguring, e.State())
	assert.Equal(t, 2.5, e.CurrentTime())
	assert.True(t, math.IsInf(e.MaxTime(), 1))
	assert.NotEmpty(t, e.ID())
}

func TestAddSlaves_AssignsDistinctIDs(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)

	sine, id := addSineAndIdentity(t, e, f)

	assert.NotEqual(t, cosim.InvalidSlaveID, sine)
	assert.NotEqual(t, sine, id)
	infos := e.Slaves()
	require.Len(t, infos, 2)
	assert.Equal(t, "sine", infos[0].Name)
	assert.Equal(t, "sine", infos[0].Type.Name)
	assert.Equal(t, "identity", infos[1].Type.Name)
}

func TestAddSlaves_PassesSetupToSlaves(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	addSineAndIdentity(t, e, f)

	setups := f.Setups()
	require.Len(t, setups, 2)
	for _, s := range setups {
		assert.Equal(t, "test", s.ExecutionName)
		assert.Equal(t, time.Second, s.VariableRecvTimeout)
		assert.True(t, math.IsInf(s.StopTime, 1))
	}
}

func TestAddSlaves_PartialFailureIsAggregated(t *testing.T) {
	// GIVEN three slaves, one of which is unreachable
	f := testutil.NewFake()
	f.Script("bad", testutil.Behavior{ConnectErr: errors.New("connection refused")})
	e := newExecution(t, f)
	slaves := []AddedSlave{
		{Locator: f.Locator("sine"), Name: "good1"},
		{Locator: f.Locator("sine"), Name: "bad"},
		{Locator: f.Locator("sine"), Name: "good2"},
	}

	// WHEN they are added in one call
	err := e.AddSlaves(slaves, timeout)

	// THEN only the bad slave is reported, and the others are admitted
	var agg *cosim.AggregatedSlaveError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"bad"}, agg.Slaves())
	assert.ErrorIs(t, err, cosim.ErrTransportFault)
	assert.NoError(t, slaves[0].Err)
	assert.Error(t, slaves[1].Err)
	assert.Equal(t, cosim.InvalidSlaveID, slaves[1].ID)
	assert.NoError(t, slaves[2].Err)
	assert.Len(t, e.Slaves(), 2)
}

func TestAddSlaves_TimeoutIsTransportFault(t *testing.T) {
	f := testutil.NewFake()
	f.Script("slow", testutil.Behavior{ConnectDelay: time.Second})
	e := newExecution(t, f)

	err := e.AddSlaves([]AddedSlave{{Locator: f.Locator("sine"), Name: "slow"}}, 10*time.Millisecond)

	assert.ErrorIs(t, err, cosim.ErrTransportFault)
}

func TestAddSlaves_NameRules(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	slaves := []AddedSlave{
		{Locator: f.Locator("sine"), Name: "dup"},
		{Locator: f.Locator("sine"), Name: "dup"},
		{Locator: f.Locator("sine"), Name: "3x"},
		{Locator: f.Locator("sine"), Name: ""},
	}

	err := e.AddSlaves(slaves, timeout)

	require.Error(t, err)
	assert.NoError(t, slaves[0].Err)
	assert.ErrorIs(t, slaves[1].Err, cosim.ErrDuplicateSlave)
	assert.ErrorIs(t, slaves[2].Err, cosim.ErrInvalidName)
	require.NoError(t, slaves[3].Err)
	assert.Equal(t, "slave2", slaves[3].Name)
}

func TestAddSlave_IDsAreNeverReused(t *testing.T) {
	f := testutil.NewFake()
	f.Script("bad", testutil.Behavior{ConnectErr: errors.New("refused")})
	e := newExecution(t, f)

	_, err := e.AddSlave(f.Locator("sine"), "bad", timeout).Result()
	require.Error(t, err)
	id, err := e.AddSlave(f.Locator("sine"), "good", timeout).Result()
	require.NoError(t, err)

	assert.Equal(t, cosim.SlaveID(2), id)
}

func TestAddSlave_FailedNameCanBeReused(t *testing.T) {
	f := testutil.NewFake()
	f.Script("a", testutil.Behavior{DescribeErr: errors.New("no description")})
	e := newExecution(t, f)
	_, err := e.AddSlave(f.Locator("sine"), "a", timeout).Result()
	require.ErrorIs(t, err, cosim.ErrTransportFault)

	f.Script("a", testutil.Behavior{})
	_, err = e.AddSlave(f.Locator("sine"), "a", timeout).Result()
	assert.NoError(t, err)
}

func TestAddSlave_RejectsNonPositiveTimeout(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	_, err := e.AddSlave(f.Locator("sine"), "a", 0).Result()
	assert.ErrorIs(t, err, cosim.ErrInvalidArgument)
}

func TestConfigOnlyOperations_RejectedWhileSimulating(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	sine, _ := addSineAndIdentity(t, e, f)
	require.NoError(t, e.EndConfig())

	assert.ErrorIs(t, e.AddSlaves([]AddedSlave{{Locator: f.Locator("sine"), Name: "x"}}, timeout), cosim.ErrInvalidState)
	assert.ErrorIs(t, e.Reconfigure([]SlaveConfig{{Slave: sine}}, timeout), cosim.ErrInvalidState)
	_, err := e.SetVariables(sine, nil, timeout).Result()
	assert.ErrorIs(t, err, cosim.ErrInvalidState)
	assert.ErrorIs(t, e.SetSimulationTime(0, 1), cosim.ErrInvalidState)
}

func TestSimulateOnlyOperations_RejectedWhileConfiguring(t *testing.T) {
	e := newExecution(t, testutil.NewFake())

	_, err := e.Step(0.1, timeout)
	assert.ErrorIs(t, err, cosim.ErrInvalidState)
	assert.ErrorIs(t, e.AcceptStep(timeout), cosim.ErrInvalidState)
}

func TestSetSimulationTime(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)

	require.NoError(t, e.SetSimulationTime(1, 10))
	assert.Equal(t, 1.0, e.CurrentTime())
	assert.Equal(t, 10.0, e.MaxTime())
	assert.ErrorIs(t, e.SetSimulationTime(5, 4), cosim.ErrInvalidArgument)
	require.NoError(t, e.SetSimulationTime(0, math.Inf(1)))

	addSineAndIdentity(t, e, f)
	assert.ErrorIs(t, e.SetSimulationTime(0, 1), cosim.ErrInvalidState)
}

func TestReconfigure_SendsValuesAndConnections(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	sine, id := addSineAndIdentity(t, e, f)

	err := e.Reconfigure([]SlaveConfig{
		{Slave: sine, Settings: []cosim.VariableSetting{cosim.ValueSetting(0, cosim.RealValue(1.5))}},
		{Slave: id, Settings: []cosim.VariableSetting{cosim.ConnectSetting(0, cosim.Variable{Slave: sine, ID: 4})}},
	}, timeout)
	require.NoError(t, err)

	require.Len(t, f.Settings("sine"), 1)
	v, ok := f.Settings("sine")[0][0].Value()
	require.True(t, ok)
	assert.True(t, v.Equal(cosim.RealValue(1.5)))
	src, ok := f.Settings("id")[0][0].Source()
	require.True(t, ok)
	assert.Equal(t, cosim.Variable{Slave: sine, ID: 4}, src)
}

func TestReconfigure_ValidatesLocally(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	sine, id := addSineAndIdentity(t, e, f)

	tests := []struct {
		name    string
		config  SlaveConfig
		wantErr error
	}{
		{"unknown slave", SlaveConfig{Slave: 99}, cosim.ErrUnknownSlave},
		{"unknown variable", SlaveConfig{Slave: sine, Settings: []cosim.VariableSetting{cosim.ValueSetting(42, cosim.RealValue(1))}}, cosim.ErrUnknownVariable},
		{"type mismatch", SlaveConfig{Slave: sine, Settings: []cosim.VariableSetting{cosim.ValueSetting(0, cosim.StringValue("x"))}}, cosim.ErrTypeMismatch},
		{"string input from real output", SlaveConfig{Slave: id, Settings: []cosim.VariableSetting{cosim.ConnectSetting(3, cosim.Variable{Slave: sine, ID: 4})}}, cosim.ErrConnection},
		{"unknown source slave", SlaveConfig{Slave: id, Settings: []cosim.VariableSetting{cosim.ConnectSetting(0, cosim.Variable{Slave: 77, ID: 4})}}, cosim.ErrUnknownSlave},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Reconfigure([]SlaveConfig{tc.config}, timeout)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Empty(t, f.Settings("sine"))
	assert.Empty(t, f.Settings("id"))
}

func TestReconfigure_RejectsDuplicateEntries(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	sine, _ := addSineAndIdentity(t, e, f)

	err := e.Reconfigure([]SlaveConfig{{Slave: sine}, {Slave: sine}}, timeout)

	assert.ErrorIs(t, err, cosim.ErrInvalidArgument)
}

func TestReconfigure_AggregatesSlaveErrors(t *testing.T) {
	f := testutil.NewFake()
	f.Script("id", testutil.Behavior{SetErr: errors.New("rejected")})
	e := newExecution(t, f)
	sine, id := addSineAndIdentity(t, e, f)

	configs := []SlaveConfig{{Slave: sine}, {Slave: id}}
	err := e.Reconfigure(configs, timeout)

	var agg *cosim.AggregatedSlaveError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"id"}, agg.Slaves())
	assert.NoError(t, configs[0].Err)
	assert.Error(t, configs[1].Err)
}

func TestEndConfig_WaitsForPendingOperations(t *testing.T) {
	// GIVEN an add-slave operation that takes a while
	f := testutil.NewFake()
	f.Script("slow", testutil.Behavior{ConnectDelay: 50 * time.Millisecond})
	e := newExecution(t, f)
	op := e.AddSlave(f.Locator("sine"), "slow", timeout)

	// WHEN configuration ends
	require.NoError(t, e.EndConfig())

	// THEN the operation has completed
	select {
	case <-op.Done():
	default:
		t.Fatal("EndConfig returned before the pending operation completed")
	}
	assert.Equal(t, StateSimulating, e.State())
	assert.Len(t, e.Slaves(), 1)
}

func TestBeginEndConfig_AreIdempotent(t *testing.T) {
	e := newExecution(t, testutil.NewFake())
	require.NoError(t, e.BeginConfig())
	assert.Equal(t, StateConfiguring, e.State())
	require.NoError(t, e.EndConfig())
	require.NoError(t, e.EndConfig())
	assert.Equal(t, StateSimulating, e.State())
	require.NoError(t, e.BeginConfig())
	assert.Equal(t, StateConfiguring, e.State())
}

func TestSetVariables_LowLevel(t *testing.T) {
	f := testutil.NewFake()
	e := newExecution(t, f)
	sine, _ := addSineAndIdentity(t, e, f)

	op := e.SetVariables(sine, []cosim.VariableSetting{cosim.ValueSetting(1, cosim.RealValue(2))}, timeout)
	_, err := op.Result()
	require.NoError(t, err)

	_, err = op.Result()
	assert.ErrorIs(t, err, cosim.ErrInvalidState)
	assert.Len(t, f.Settings("sine"), 1)
}

func TestClose_ClosesSlavesAndInvalidatesExecution(t *testing.T) {
	f := testutil.NewFake()
	e, err := New("x", f, DefaultOptions())
	require.NoError(t, err)
	addSineAndIdentity(t, e, f)

	require.NoError(t, e.Close())

	assert.True(t, f.Closed("sine"))
	assert.True(t, f.Closed("id"))
	assert.ErrorIs(t, e.BeginConfig(), cosim.ErrInvalidState)
	assert.ErrorIs(t, e.EndConfig(), cosim.ErrInvalidState)
	require.NoError(t, e.Close())
}
