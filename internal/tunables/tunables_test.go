package tunables

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	s := New(clock.NewMock(), 200000, 2000000)

	for key, expected := range map[string]string{
		KeyDownLoad:     "25",
		KeyDownStep:     "2",
		KeyUpLoad:       "50",
		KeyUpStep:       "1",
		KeySamplingRate: "25000",
		KeyIOIsBusy:     "1",
		KeyFreqMin:      "200000",
		KeyFreqMax:      "2000000",
		KeyBoost:        "0",
		KeyBoostPulse:   "0",
	} {
		val, err := s.Get(key)
		require.NoError(t, err, key)
		assert.Equal(t, expected, val, key)
	}
	assert.Equal(t, 25*time.Millisecond, s.SamplingInterval())
	assert.False(t, s.Boosted())
}

func TestSet_ParsesValues(t *testing.T) {
	s := New(clock.NewMock(), 200000, 2000000)

	for _, tc := range []struct {
		key      string
		value    string
		expected string
	}{
		{key: KeyUpLoad, value: "80\n", expected: "80"},
		{key: KeyDownLoad, value: "0x14", expected: "20"},
		{key: KeyDownStep, value: "010", expected: "8"},
		{key: KeyIOIsBusy, value: "0", expected: "0"},
		{key: KeyBoost, value: "7", expected: "1"},
		{key: KeyFreqMax, value: "1000000", expected: "1000000"},
	} {
		require.NoError(t, s.Set(tc.key, tc.value), tc.key)
		val, err := s.Get(tc.key)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, val, tc.key)
	}
	assert.Equal(t, uint32(1000000), s.FreqMax())
	assert.True(t, s.Boosted())
}

func TestSet_RejectsMalformedInput(t *testing.T) {
	s := New(clock.NewMock(), 200000, 2000000)

	for _, value := range []string{"", "abc", "-1", "12abc", "4294967296"} {
		err := s.Set(KeyUpLoad, value)
		assert.ErrorIs(t, err, ErrInvalidArgument, value)
	}
	assert.Equal(t, DefaultUpLoad, s.UpLoad())
}

func TestSet_UnknownKey(t *testing.T) {
	s := New(clock.NewMock(), 200000, 2000000)

	_, err := s.Get("hispeed_freq")
	assert.ErrorIs(t, err, ErrUnknownAttribute)
	assert.ErrorIs(t, s.Set("hispeed_freq", "1"), ErrUnknownAttribute)
}

func TestBoostPulse_ExpiresAfterDuration(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk, 200000, 2000000)

	require.NoError(t, s.Set(KeyBoostPulse, "500000"))

	val, err := s.Get(KeyBoostPulse)
	require.NoError(t, err)
	assert.Equal(t, "1", val)
	assert.True(t, s.Boosted())

	clk.Add(499 * time.Millisecond)
	val, _ = s.Get(KeyBoostPulse)
	assert.Equal(t, "1", val)

	clk.Add(time.Millisecond)
	val, _ = s.Get(KeyBoostPulse)
	assert.Equal(t, "0", val)
	assert.False(t, s.Boosted())
}

func TestBoostPulse_AcceptsLongDurations(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk, 200000, 2000000)

	// above the range of a 32 bit word
	require.NoError(t, s.Set(KeyBoostPulse, "5000000000"))
	assert.True(t, s.BoostPulseActive())

	clk.Add(4999 * time.Second)
	assert.True(t, s.BoostPulseActive())
	clk.Add(time.Second)
	assert.False(t, s.BoostPulseActive())

	require.NoError(t, s.Set(KeyBoostPulse, "18446744073709551615"))
	assert.True(t, s.BoostPulseActive())
	assert.ErrorIs(t, s.Set(KeyBoostPulse, "18446744073709551616"), ErrInvalidArgument)
}

func TestWidenBounds(t *testing.T) {
	s := New(clock.NewMock(), 200000, 1500000)

	s.WidenBounds(400000, 2100000)
	assert.Equal(t, uint32(200000), s.FreqMin())
	assert.Equal(t, uint32(2100000), s.FreqMax())

	s.WidenBounds(100000, 1800000)
	assert.Equal(t, uint32(100000), s.FreqMin())
	assert.Equal(t, uint32(2100000), s.FreqMax())

	// written bounds are kept as configured
	require.NoError(t, s.Set(KeyFreqMax, "1600000"))
	freqMin := uint32(300000)
	s.Apply(Overrides{FreqMin: &freqMin})
	s.WidenBounds(50000, 3000000)
	assert.Equal(t, uint32(300000), s.FreqMin())
	assert.Equal(t, uint32(1600000), s.FreqMax())
}

func TestApply_Overrides(t *testing.T) {
	s := New(clock.NewMock(), 200000, 2000000)
	upLoad := uint32(70)
	freqMax := uint32(1500000)
	ioIsBusy := false

	s.Apply(Overrides{UpLoad: &upLoad, FreqMax: &freqMax, IOIsBusy: &ioIsBusy})

	assert.Equal(t, uint32(70), s.UpLoad())
	assert.Equal(t, uint32(1500000), s.FreqMax())
	assert.False(t, s.IOIsBusy())
	assert.Equal(t, DefaultDownLoad, s.DownLoad())
	assert.Equal(t, uint32(200000), s.FreqMin())
}

func TestKeys_SurfaceOrder(t *testing.T) {
	s := New(clock.NewMock(), 0, 0)
	keys := s.Keys()

	assert.Len(t, keys, 10)
	assert.Equal(t, KeyDownLoad, keys[0])
	assert.Equal(t, KeyBoostPulse, keys[len(keys)-1])
}
