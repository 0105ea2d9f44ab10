package loopback

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/cosim/cosim"
)

func connectSlave(t *testing.T, c *Cluster, typeName string, id cosim.SlaveID, name string) cosim.SlaveChannel {
	t.Helper()
	ctx := context.Background()
	var typeUUID string
	for _, d := range Descriptions() {
		if d.Name == typeName {
			typeUUID = d.UUID
		}
	}
	loc, err := c.InstantiateSlave(ctx, c.ProviderID(), typeUUID)
	require.NoError(t, err)
	ch, err := c.Connect(ctx, loc, cosim.SlaveSetup{ID: id, Name: name, ExecutionName: "test", VariableRecvTimeout: time.Second})
	require.NoError(t, err)
	return ch
}

func TestDescriptions_AreValid(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range Descriptions() {
		assert.False(t, seen[d.UUID], "duplicate UUID for %s", d.Name)
		seen[d.UUID] = true
		for _, v := range d.Variables {
			assert.NoError(t, v.Validate(), "%s.%s", d.Name, v.Name)
		}
	}
}

func TestTypeUUID_IsStable(t *testing.T) {
	assert.Equal(t, SineDescription().UUID, typeUUID(SineType))
	assert.NotEqual(t, SineDescription().UUID, IdentityDescription().UUID)
}

func TestSlaveTypes_ListsProvider(t *testing.T) {
	c := NewCluster(Options{})
	types, err := c.SlaveTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 3)
	for _, st := range types {
		assert.Equal(t, []string{c.ProviderID()}, st.Providers)
	}
}

func TestInstantiateSlave_UnknownType(t *testing.T) {
	c := NewCluster(Options{})
	_, err := c.InstantiateSlave(context.Background(), c.ProviderID(), "no-such-uuid")
	assert.ErrorIs(t, err, cosim.ErrUnknownSlaveType)
}

func TestConnect_OnlyOnce(t *testing.T) {
	c := NewCluster(Options{})
	ctx := context.Background()
	loc, err := c.InstantiateSlave(ctx, c.ProviderID(), SineDescription().UUID)
	require.NoError(t, err)
	_, err = c.Connect(ctx, loc, cosim.SlaveSetup{ID: 1, Name: "a"})
	require.NoError(t, err)
	_, err = c.Connect(ctx, loc, cosim.SlaveSetup{ID: 2, Name: "b"})
	assert.Error(t, err)
}

func TestSine_OutputFollowsParameters(t *testing.T) {
	// GIVEN a sine slave with a=1, b=2, w=pi
	c := NewCluster(Options{})
	ctx := context.Background()
	sine := connectSlave(t, c, SineType, 1, "sine")
	require.NoError(t, sine.SetVariables(ctx, []cosim.VariableSetting{
		cosim.ValueSetting(0, cosim.RealValue(1)),
		cosim.ValueSetting(1, cosim.RealValue(2)),
		cosim.ValueSetting(2, cosim.RealValue(math.Pi)),
	}))

	// WHEN it steps from 0 to 0.5 and the step is accepted
	res, err := sine.Step(ctx, 0, 0.5)
	require.NoError(t, err)
	require.Equal(t, cosim.StepComplete, res)
	require.NoError(t, sine.AcceptStep(ctx))

	// THEN y = 1 + 2*sin(pi/2) = 3
	y, ok := c.Value("test", cosim.Variable{Slave: 1, ID: 4})
	require.True(t, ok)
	got, _ := y.Real()
	assert.InDelta(t, 3.0, got, 1e-12)
}

func TestIdentity_ReceivesConnectedValuesOneStepLater(t *testing.T) {
	// GIVEN sine.y connected to id.realIn
	c := NewCluster(Options{})
	ctx := context.Background()
	sine := connectSlave(t, c, SineType, 1, "sine")
	id := connectSlave(t, c, IdentityType, 2, "id")
	require.NoError(t, sine.SetVariables(ctx, []cosim.VariableSetting{cosim.ValueSetting(0, cosim.RealValue(5))}))
	require.NoError(t, id.SetVariables(ctx, []cosim.VariableSetting{
		cosim.ConnectSetting(0, cosim.Variable{Slave: 1, ID: 4}),
	}))

	// WHEN both step and accept twice
	for i := 0; i < 2; i++ {
		for _, ch := range []cosim.SlaveChannel{sine, id} {
			_, err := ch.Step(ctx, float64(i), 1)
			require.NoError(t, err)
		}
		for _, ch := range []cosim.SlaveChannel{sine, id} {
			require.NoError(t, ch.AcceptStep(ctx))
		}
	}

	// THEN id.realOut holds sine.y as published after the first step
	realOut, ok := c.Value("test", cosim.Variable{Slave: 2, ID: 4})
	require.True(t, ok)
	got, _ := realOut.Real()
	assert.InDelta(t, 5+math.Sin(1), got, 1e-12)
}

func TestDisconnect_StopsPropagation(t *testing.T) {
	c := NewCluster(Options{})
	ctx := context.Background()
	_ = connectSlave(t, c, ConstantType, 1, "k")
	id := connectSlave(t, c, IdentityType, 2, "id")
	require.NoError(t, id.SetVariables(ctx, []cosim.VariableSetting{cosim.ConnectSetting(0, cosim.Variable{Slave: 1, ID: 1})}))
	require.NoError(t, id.SetVariables(ctx, []cosim.VariableSetting{
		cosim.DisconnectSetting(0),
		cosim.ValueSetting(0, cosim.RealValue(7)),
	}))

	_, err := id.Step(ctx, 0, 1)
	require.NoError(t, err)
	require.NoError(t, id.AcceptStep(ctx))

	out, _ := c.Value("test", cosim.Variable{Slave: 2, ID: 4})
	got, _ := out.Real()
	assert.Equal(t, 7.0, got)
}

func TestSetVariables_RejectsWrongType(t *testing.T) {
	c := NewCluster(Options{})
	id := connectSlave(t, c, IdentityType, 1, "id")
	err := id.SetVariables(context.Background(), []cosim.VariableSetting{cosim.ValueSetting(3, cosim.RealValue(1))})
	assert.ErrorIs(t, err, cosim.ErrTypeMismatch)
}

func TestStep_FailsAboveMaxStepSize(t *testing.T) {
	c := NewCluster(Options{MaxStepSize: 0.1})
	sine := connectSlave(t, c, SineType, 1, "sine")
	res, err := sine.Step(context.Background(), 0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, cosim.StepFailed, res)
}

func TestStep_HonoursExpiredContext(t *testing.T) {
	c := NewCluster(Options{})
	sine := connectSlave(t, c, SineType, 1, "sine")
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	res, err := sine.Step(ctx, 0, 0.1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEqual(t, cosim.StepFailed, res, "a transport error is not a computational failure")
}

func TestStep_ClosedChannelIsAnErrorNotAFailedStep(t *testing.T) {
	// GIVEN a closed slave channel
	c := NewCluster(Options{})
	sine := connectSlave(t, c, SineType, 1, "sine")
	require.NoError(t, sine.Close())

	// WHEN it is asked to step
	res, err := sine.Step(context.Background(), 0, 0.1)

	// THEN the problem is an error with a zero result
	require.Error(t, err)
	assert.Equal(t, cosim.StepResult(0), res)
}

func TestClose_RejectsLaterCalls(t *testing.T) {
	c := NewCluster(Options{})
	sine := connectSlave(t, c, SineType, 1, "sine")
	require.NoError(t, sine.Close())
	_, err := sine.Describe(context.Background())
	assert.Error(t, err)
}
