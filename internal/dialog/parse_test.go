package dialog

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/apperr"
)

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "-5", "0", "12.5"} {
		_, err := ParseUserID(bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, "input %q", bad)
	}
}

func TestParsePointsShapes(t *testing.T) {
	cases := []struct {
		input string
		mode  PointsMode
		value int
	}{
		{"+10", PointsAdd, 10},
		{"-3", PointsSub, 3},
		{"500", PointsSet, 500},
		{" +7 ", PointsAdd, 7},
		{"0", PointsSet, 0},
	}
	for _, tc := range cases {
		edit, err := ParsePoints(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.mode, edit.Mode, "input %q", tc.input)
		assert.Equal(t, tc.value, edit.Value, "input %q", tc.input)
	}

	for _, bad := range []string{"", "abc", "+", "-", "+x", "- 3x"} {
		_, err := ParsePoints(bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, "input %q", bad)
	}
}

func TestPointsApplyFloorsAtZero(t *testing.T) {
	edit, err := ParsePoints("-100")
	require.NoError(t, err)
	assert.Equal(t, 0, edit.Apply(40))
	assert.Equal(t, 0, edit.Apply(0))
	assert.Equal(t, 50, edit.Apply(150))
}

func TestPointsAddIsCommutative(t *testing.T) {
	add5, _ := ParsePoints("+5")
	add3, _ := ParsePoints("+3")
	assert.Equal(t, add3.Apply(add5.Apply(10)), add5.Apply(add3.Apply(10)))
}

func TestPointsAbsoluteSetIgnoresPrior(t *testing.T) {
	set, err := ParsePoints("500")
	require.NoError(t, err)
	assert.Equal(t, 500, set.Apply(0))
	assert.Equal(t, 500, set.Apply(99999))
}

func TestParseDuration(t *testing.T) {
	for _, days := range DurationPresets {
		dur, err := ParseDuration(strconv.Itoa(days))
		require.NoError(t, err)
		assert.Equal(t, days, dur.Days)
		assert.False(t, dur.Lifetime)
	}

	dur, err := ParseDuration("9999")
	require.NoError(t, err)
	assert.True(t, dur.Lifetime)

	dur, err = ParseDuration("20000")
	require.NoError(t, err)
	assert.True(t, dur.Lifetime)

	for _, bad := range []string{"", "abc", "-30", "0"} {
		_, err := ParseDuration(bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, "input %q", bad)
	}
}

func TestParseDurationFromEndDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	dur, err := parseDurationAt("31.03.2026", now)
	require.NoError(t, err)
	assert.Equal(t, 30, dur.Days)
	assert.False(t, dur.Lifetime)

	dur, err = parseDurationAt("2026-04-01", now)
	require.NoError(t, err)
	assert.Equal(t, 31, dur.Days)

	_, err = parseDurationAt("01.01.2020", now)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = parseDurationAt("31.02.2026", now)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
