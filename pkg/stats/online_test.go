package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOnlineStatsWelford verifies the running moments against closed forms
func TestOnlineStatsWelford(t *testing.T) {
	var s OnlineStats
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		require.NoError(t, s.Update(v))
	}

	assert.Equal(t, 8, s.Num)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 40.0, s.Sum)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 4.0, s.Var, 1e-12)
	assert.InDelta(t, 2.0, s.Std, 1e-12)
	assert.InDelta(t, 2.0/math.Sqrt(8), s.Stde, 1e-12)
	assert.InDelta(t, 0.4, s.CV, 1e-12)
}

// TestOnlineStatsNaN verifies NaN handling with and without skipping
func TestOnlineStatsNaN(t *testing.T) {
	var strict OnlineStats
	require.NoError(t, strict.Update(1))
	err := strict.Update(math.NaN())
	require.ErrorIs(t, err, ErrNaN)
	assert.Equal(t, 1, strict.Num, "a rejected NaN must not be folded")

	lenient := OnlineStats{SkipNaN: true}
	require.NoError(t, lenient.Update(1))
	require.NoError(t, lenient.Update(math.NaN()))
	require.NoError(t, lenient.Update(3))
	assert.Equal(t, 2, lenient.Num)
	assert.Equal(t, 2.0, lenient.Mean)
}

// TestOnlineStatsClear verifies that Clear resets values but keeps options
func TestOnlineStatsClear(t *testing.T) {
	s := OnlineStats{SkipNaN: true}
	require.NoError(t, s.Update(10))
	s.Clear()

	assert.Equal(t, 0, s.Num)
	assert.Equal(t, 0.0, s.Mean)
	assert.True(t, s.SkipNaN)

	require.NoError(t, s.Update(-3))
	assert.Equal(t, -3.0, s.Min)
	assert.Equal(t, -3.0, s.Max)
}

func TestOnlineVectStats(t *testing.T) {
	s := NewOnlineVectStats(2, false, nil)
	require.NoError(t, s.Update([]float64{1, 10}))
	require.NoError(t, s.Update([]float64{3, 30}))
	assert.Equal(t, []float64{2, 20}, s.Mean())

	err := s.Update([]float64{math.NaN(), 1})
	require.ErrorIs(t, err, ErrNaN)

	assert.Panics(t, func() { _ = s.Update([]float64{1}) })

	s.Clear()
	assert.Equal(t, []float64{0, 0}, s.Mean())
}
