package device

import (
	"testing"
	"time"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThermometer_ReadState(t *testing.T) {
	a := dallas.MakeRom(dallas.FamilyDS18B20, 1)
	temp := 25.0
	sim := dallas.NewSim()
	sim.AddThermometer(a, func(int) float64 { return temp })
	env, rec := newEnv(t, sim)

	th := NewThermometer(a, env)
	assert.Equal(t, PowerOnTemperature, th.Value())
	assert.Equal(t, 85.0, th.Temperature())

	require.NoError(t, th.ReadState())
	assert.Equal(t, 25.0, th.Temperature())
	assert.Equal(t, []Change{{Addr: a, Family: dallas.FamilyDS18B20, Channel: 0, Old: PowerOnTemperature, New: 400}}, rec.take())

	require.NoError(t, th.ReadState())
	assert.Empty(t, rec.take())

	temp = -0.5
	require.NoError(t, th.ReadState())
	assert.Equal(t, -0.5, th.Temperature())
	assert.Len(t, rec.take(), 1)
}

func TestThermometer_FailureKeepsState(t *testing.T) {
	a := dallas.MakeRom(dallas.FamilyDS18B20, 1)
	sim := dallas.NewSim()
	sim.AddThermometer(a, dallas.Constant(20))
	env, rec := newEnv(t, sim)
	th := NewThermometer(a, env)
	require.NoError(t, th.ReadState())
	rec.take()

	sim.FailNext(dallas.OpReadTemperature, dallas.CRC)
	err := th.ReadState()
	assert.Equal(t, dallas.CRC, dallas.CodeOf(err))
	assert.Equal(t, 20.0, th.Temperature())
	assert.Empty(t, rec.take())
	require.Len(t, rec.errs, 1)
	assert.Equal(t, err, rec.errs[0])
}

func TestThermometer_ConfigurationRoundTrip(t *testing.T) {
	a := dallas.MakeRom(dallas.FamilyDS18B20, 1)
	sim := dallas.NewSim()
	sim.AddThermometer(a, dallas.Constant(20))
	env, _ := newEnv(t, sim)

	th := NewThermometer(a, env)
	require.NoError(t, th.ReadConfiguration())
	assert.Equal(t, uint8(12), th.Resolution())

	require.NoError(t, th.SetResolution(10))
	require.NoError(t, th.WriteConfiguration())

	other := NewThermometer(a, env)
	require.NoError(t, other.ReadConfiguration())
	assert.Equal(t, uint8(10), other.Resolution())
	assert.Equal(t, 0.25, other.StepSize())
	assert.Equal(t, 187500*time.Microsecond, other.ConversionTime())
}

func TestThermometer_SetResolutionInvalid(t *testing.T) {
	th := NewThermometer(dallas.MakeRom(dallas.FamilyDS18B20, 1), Env{})
	err := th.SetResolution(8)
	assert.ErrorIs(t, err, ErrInvalidResolution)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, uint8(12), th.Resolution())
}

func TestThermometer_FixedResolution(t *testing.T) {
	a := dallas.MakeRom(dallas.FamilyDS18S20, 1)
	sim := dallas.NewSim()
	sim.AddThermometer(a, dallas.Constant(20))
	env, rec := newEnv(t, sim)

	th := NewThermometer(a, env)
	assert.Equal(t, uint8(9), th.Resolution())
	require.NoError(t, th.ReadConfiguration())
	assert.Equal(t, uint8(9), th.Resolution())

	for _, bits := range []uint8{10, 11, 12} {
		err := th.SetResolution(bits)
		assert.ErrorIs(t, err, ErrInvalidResolution)
		assert.ErrorIs(t, err, ErrProtocol)
	}
	assert.Equal(t, uint8(9), th.Resolution())

	require.NoError(t, th.SetResolution(9))
	require.NoError(t, th.WriteConfiguration())
	assert.Zero(t, sim.Calls(dallas.OpWriteResolution))
	assert.Empty(t, rec.errs)

	require.NoError(t, th.ReadState())
	assert.Equal(t, 20.0, th.Temperature())
}

func TestThermometer_ReadConfigurationFailure(t *testing.T) {
	a := dallas.MakeRom(dallas.FamilyDS18B20, 1)
	sim := dallas.NewSim()
	sim.AddThermometer(a, dallas.Constant(20))
	env, rec := newEnv(t, sim)
	th := NewThermometer(a, env)
	require.NoError(t, th.SetResolution(11))

	sim.FailNext(dallas.OpReadResolution, dallas.Timeout)
	assert.Error(t, th.ReadConfiguration())
	assert.Equal(t, uint8(11), th.Resolution())
	assert.Len(t, rec.errs, 1)
}

func TestThermometer_PrepareIsBroadcast(t *testing.T) {
	a1 := dallas.MakeRom(dallas.FamilyDS18B20, 1)
	a2 := dallas.MakeRom(dallas.FamilyDS18B20, 2)
	sim := dallas.NewSim()
	sim.AddThermometer(a1, dallas.Constant(20))
	sim.AddThermometer(a2, dallas.Constant(30))
	env, _ := newEnv(t, sim)

	t1, t2 := NewThermometer(a1, env), NewThermometer(a2, env)
	require.NoError(t, t1.PrepareState())
	assert.Equal(t, 1, sim.Conversions(a2))

	require.NoError(t, t1.ReadPreparedState())
	require.NoError(t, t2.ReadPreparedState())
	assert.Equal(t, 20.0, t1.Temperature())
	assert.Equal(t, 30.0, t2.Temperature())
	assert.Equal(t, 1, sim.Calls(dallas.OpConvert))
}

func TestThermometer_Snapshot(t *testing.T) {
	a := dallas.MakeRom(dallas.FamilyDS18B20, 1)
	th := NewThermometer(a, Env{})
	snap := th.Snapshot()
	assert.Equal(t, dallas.RomString(a), snap.ID)
	assert.Equal(t, "DS18B20", snap.Family)
	require.Len(t, snap.Channels, 1)
	assert.Equal(t, "85.0000 °C", snap.Channels[0].Text)
	assert.Equal(t, 12, snap.Channels[0].Resolution)
}
