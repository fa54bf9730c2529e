package hotdeck_test

import (
	"context"
	"math/rand"
	"testing"

	"git.fiblab.net/sim/synthesis/hotdeck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigitize(t *testing.T) {
	cases := []struct {
		x    float64
		want int
	}{
		{0, 0}, {6, 0}, {6.5, 1}, {18, 3}, {78, 9}, {79, 10}, {120, 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, hotdeck.Digitize(c.x, hotdeck.AGE_BOUNDARIES), "age %v", c.x)
	}
	assert.Equal(t, []string{"0", "1", "4"}, hotdeck.DigitizeColumn([]float64{2000, 2001, 9000}, hotdeck.INCOME_BOUNDARIES))
}

func TestRemoveUnmatched(t *testing.T) {
	source := table(100, repeat(row{"3", "female", "A"}, 5))
	m, err := hotdeck.NewMatcher(source, mandatory, preference, hotdeck.MatcherOptions{MinimumSourceSamples: 5})
	require.NoError(t, err)
	target := table(0, []row{{"3", "female", "A"}, {"4", "female", "A"}, {"3", "female", "B"}, {"3", "male", "A"}})
	result, err := m.Match(context.Background(), target, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	kept, removed, err := hotdeck.RemoveUnmatched(target, result)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, removed)
	assert.Equal(t, []int64{0, 2}, kept.IDs)
	assert.Equal(t, []string{"A", "B"}, kept.Columns["area"])
	assert.Equal(t, []float64{1, 1}, kept.Weights)

	_, _, err = hotdeck.RemoveUnmatched(table(0, repeat(row{"3", "female", "A"}, 3)), result)
	assert.ErrorIs(t, err, hotdeck.ErrRowCountMismatch)
	_, _, err = hotdeck.RemoveUnmatched(table(10, repeat(row{"3", "female", "A"}, 4)), result)
	assert.ErrorIs(t, err, hotdeck.ErrRowCountMismatch)
}
