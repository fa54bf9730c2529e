package location_test

import (
	"context"
	"testing"

	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 每隔spacing米一个候选设施的正方形网格
func grid(t *testing.T, purposes []string, extent, spacing float64) *algo.CandidateIndex {
	t.Helper()
	candidates := make(map[string][]algo.Candidate, len(purposes))
	id := int64(0)
	for _, purpose := range purposes {
		for x := -extent; x <= extent; x += spacing {
			for y := -extent; y <= extent; y += spacing {
				candidates[purpose] = append(candidates[purpose], algo.Candidate{ID: id, Location: r2.Point{X: x, Y: y}})
				id++
			}
		}
	}
	index, err := algo.NewCandidateIndex(candidates)
	require.NoError(t, err)
	return index
}

func carDistributions(t *testing.T) algo.Distributions {
	t.Helper()
	car, err := algo.NewDistribution([]float64{4900, 5100}, []float64{1})
	require.NoError(t, err)
	return algo.Distributions{
		"car": {Distributions: []*algo.Distribution{car}},
	}
}

// persons个人，每人 home -> shop -> home，另有一半人之后 home -> leisure
func population(persons int) ([]location.Trip, map[int64]*location.Anchors) {
	trips := make([]location.Trip, 0)
	anchors := make(map[int64]*location.Anchors, persons)
	for p := 0; p < persons; p++ {
		id := int64(p)
		home := r2.Point{X: float64(p%5) * 500, Y: float64(p/5) * 500}
		anchors[id] = &location.Anchors{PersonID: id, Home: &home}
		trips = append(trips,
			trip(id, 0, "car", location.HOME, "shop"),
			trip(id, 1, "car", "shop", location.HOME),
		)
		if p%2 == 0 {
			trips = append(trips, trip(id, 2, "car", location.HOME, "leisure"))
		}
	}
	return trips, anchors
}

func newEngine(t *testing.T, index *algo.CandidateIndex, workers int) *location.Engine {
	t.Helper()
	config := location.DefaultConfig()
	config.Workers = workers
	config.Seed = 42
	engine, err := location.NewEngine(config, carDistributions(t), index)
	require.NoError(t, err)
	return engine
}

func TestEngineRun(t *testing.T) {
	index := grid(t, []string{"shop", "leisure"}, 8000, 200)
	trips, anchors := population(20)
	engine := newEngine(t, index, 3)

	out, err := engine.Run(context.Background(), trips, anchors)
	require.NoError(t, err)
	// 20个shop + 10个leisure
	require.Len(t, out.Locations, 30)
	require.Len(t, out.Convergence, 30)
	assert.Equal(t, 1.0, out.SuccessRate())

	byID := make(map[int64]r2.Point)
	for _, purpose := range []string{"shop", "leisure"} {
		for _, c := range index.Candidates(purpose) {
			byID[c.ID] = c.Location
		}
	}
	for i, l := range out.Locations {
		if i > 0 {
			prev := out.Locations[i-1]
			assert.True(t, prev.PersonID < l.PersonID || (prev.PersonID == l.PersonID && prev.TripIndex < l.TripIndex))
		}
		assert.Equal(t, byID[l.DestinationID], l.Location)
		home := *anchors[l.PersonID].Home
		assert.InDelta(t, 5000, l.Location.Sub(home).Norm(), 200)
	}
	assert.Equal(t, 0, out.Locations[0].TripIndex)
	assert.Equal(t, 2, out.Locations[1].TripIndex)
}

func TestEngineRunIsReproducible(t *testing.T) {
	index := grid(t, []string{"shop", "leisure"}, 8000, 200)
	trips, anchors := population(12)

	a, err := newEngine(t, index, 4).Run(context.Background(), trips, anchors)
	require.NoError(t, err)
	b, err := newEngine(t, index, 4).Run(context.Background(), trips, anchors)
	require.NoError(t, err)
	assert.Equal(t, a.Locations, b.Locations)
}

func TestEngineRunFailures(t *testing.T) {
	trips, anchors := population(4)

	// 缺少leisure候选地点
	engine := newEngine(t, grid(t, []string{"shop"}, 8000, 400), 2)
	_, err := engine.Run(context.Background(), trips, anchors)
	assert.ErrorIs(t, err, algo.ErrNoCandidates)

	engine = newEngine(t, grid(t, []string{"shop", "leisure"}, 8000, 400), 2)
	delete(anchors, 3)
	_, err = engine.Run(context.Background(), trips, anchors)
	assert.ErrorIs(t, err, location.ErrMissingAnchor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Run(ctx, trips, anchors)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngineValidates(t *testing.T) {
	index := grid(t, []string{"shop"}, 1000, 500)
	_, err := location.NewEngine(location.DefaultConfig(), algo.Distributions{
		"car": {Distributions: []*algo.Distribution{{Edges: []float64{0, 1}, CDF: []float64{0}}}},
	}, index)
	assert.ErrorIs(t, err, algo.ErrInvalidDistribution)

	_, err = location.NewEngine(location.DefaultConfig(), carDistributions(t), nil)
	assert.ErrorIs(t, err, algo.ErrNoCandidates)

	config := location.DefaultConfig()
	config.Thresholds = nil
	_, err = location.NewEngine(config, carDistributions(t), index)
	assert.ErrorIs(t, err, algo.ErrUnknownMode)
}
