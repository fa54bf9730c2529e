package algo_test

import (
	"testing"

	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscretizationErrorObjective(t *testing.T) {
	objective := algo.NewDiscretizationErrorObjective(map[string]float64{"car": 200, "walk": 100})
	origin, destination := r2.Point{X: 0, Y: 0}, r2.Point{X: 2000, Y: 0}
	locations := []r2.Point{{X: 1000, Y: 0}}

	res, err := objective.Evaluate(&origin, &destination, []string{"car", "walk"}, []float64{1150, 950}, locations)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.InDeltaSlice(t, []float64{150, 50}, res.Errors, 1e-9)
	assert.Zero(t, res.Objective)

	res, err = objective.Evaluate(&origin, &destination, []string{"car", "walk"}, []float64{1150, 1150}, locations)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.InDelta(t, 50, res.Objective, 1e-9)

	// 链尾问题：只有起点
	res, err = objective.Evaluate(&origin, nil, []string{"car"}, []float64{1000}, locations)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// 链首问题：只有终点，每一段都计入评估
	res, err = objective.Evaluate(nil, &destination, []string{"car", "walk"}, []float64{1000, 1300},
		[]r2.Point{{X: 0, Y: 0}, {X: 1000, Y: 0}})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.InDeltaSlice(t, []float64{0, 300}, res.Errors, 1e-9)
	assert.InDelta(t, 200, res.Objective, 1e-9)

	_, err = objective.Evaluate(&origin, &destination, []string{"car", "bike"}, []float64{1000, 1000}, locations)
	assert.ErrorIs(t, err, algo.ErrUnknownMode)
	_, err = objective.Evaluate(&origin, &destination, []string{"car"}, []float64{1000}, locations)
	assert.ErrorIs(t, err, algo.ErrShapeMismatch)
}
