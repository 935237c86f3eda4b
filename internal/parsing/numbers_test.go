package parsing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSentinel(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"-", true},
		{"—", true},
		{"n/a", true},
		{"нет данных", true},
		{"Нет", true},
		{"243,10", false},
		{"0", false},
		{"-12", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSentinel(tt.in), "input %q", tt.in)
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"243,10", 243.10},
		{"243.10", 243.10},
		{"-7.5", -7.5},
		{"+3", 3},
		{"уровень 539,54 м", 539.54},
	}
	for _, tt := range tests {
		got, err := Float(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "input %q", tt.in)
	}

	_, err := Float("нет данных")
	assert.Error(t, err)
}

func TestOptionalFloat(t *testing.T) {
	v, err := OptionalFloat("1234,5")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 1234.5, *v, 1e-9)

	v, err = OptionalFloat("нет данных")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = OptionalFloat("-")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = OptionalFloat("garbage")
	assert.Error(t, err)
}

func TestFirstDecimal(t *testing.T) {
	got, err := FirstDecimal("верхний бьеф 539,54 м, расход 2900 м3/с")
	require.NoError(t, err)
	assert.InDelta(t, 539.54, got, 1e-9)

	_, err = FirstDecimal("расход 2900 м3/с")
	assert.Error(t, err, "plain integers are not decimals")
}

func TestFirstAndLastInt(t *testing.T) {
	line := "верхний бьеф 539,54 м, расход 2900 м3/с"

	first, err := FirstInt(line)
	require.NoError(t, err)
	assert.InDelta(t, 539, first, 1e-9)

	last, err := LastInt(line)
	require.NoError(t, err)
	assert.InDelta(t, 2900, last, 1e-9)

	_, err = LastInt("нет значений")
	assert.Error(t, err)
}

func TestOrZeroFallbacks(t *testing.T) {
	assert.InDelta(t, 90, IntOrZero("Облачно 90%"), 1e-9)
	assert.InDelta(t, 0, IntOrZero("Штиль"), 1e-9)
	assert.InDelta(t, 0.3, FloatOrZero("0.3"), 1e-9)
	assert.InDelta(t, 0, FloatOrZero("Осадков нет"), 1e-9)
}

func TestNumericPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"243,10м (-12 см)", "243,10"},
		{"539,54 м", "539,54"},
		{"нет данных", "нет"},
		{"  ", ""},
		{"1500", "1500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NumericPrefix(tt.in), "input %q", tt.in)
	}
}
