package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedSymmetry(t *testing.T) {
	// Equal ratings => 50/50.
	assert.InDelta(t, 0.5, Expected(1200, 1200), 1e-9)
	// Expectations of the two sides always sum to 1.
	assert.InDelta(t, 1.0, Expected(1200, 1350)+Expected(1350, 1200), 1e-9)
	// Stronger player is favored.
	assert.Greater(t, Expected(1400, 1200), 0.5)
}

func TestUpdatePairZeroSumModuloBonus(t *testing.T) {
	cases := [][2]int{
		{1200, 1200},
		{1200, 1210},
		{1500, 1100},
		{900, 1600},
	}
	for _, c := range cases {
		newW, newL := UpdatePair(c[0], c[1])
		dW := newW - c[0]
		dL := newL - c[1]
		assert.Equal(t, dW-WinBonus, -dL, "winner %d vs loser %d", c[0], c[1])
		assert.Greater(t, newW, c[0], "winner should gain")
		assert.Less(t, newL, c[1], "loser should lose")
	}
}

func TestUpdateFloor(t *testing.T) {
	// A loss near the floor never drops below it.
	_, newL := UpdatePair(2000, Floor+3)
	assert.GreaterOrEqual(t, newL, Floor)
}

func TestAbandonPenaltyBounds(t *testing.T) {
	assert.Equal(t, AbandonMinPenalty, AbandonPenalty(100))
	assert.Equal(t, AbandonMinPenalty, AbandonPenalty(180)) // 18 clamps up to the minimum
	assert.Equal(t, AbandonMaxPenalty, AbandonPenalty(9000))
	assert.Equal(t, 30, AbandonPenalty(300))
}

func TestAbandonmentSteeperThanNormalLossAtAnyRating(t *testing.T) {
	// The clamped minimum must still exceed an equal-rating regular loss
	// (K/2 = 16), including at the rating floor.
	for _, r := range []int{Floor, 150, 1200, 2400} {
		_, regularLoss := UpdatePair(r, r)
		newA, _ := UpdateAbandonment(r, r)
		assert.LessOrEqual(t, newA, regularLoss,
			"abandoning at %d must cost at least as much as a normal loss", r)
		if r > Floor+AbandonMaxPenalty {
			assert.Less(t, newA, regularLoss, "above the floor the abandonment loss is strictly steeper")
		}
	}
	assert.Greater(t, AbandonMinPenalty, KFactor/2)
}

func TestUpdateAbandonmentAsymmetry(t *testing.T) {
	newA, newO := UpdateAbandonment(1200, 1200)
	penalty := 1200 - newA
	require.Equal(t, AbandonPenalty(1200), penalty)

	// Abandoner loses more than a regular loss would cost at equal ratings.
	_, regularLoss := UpdatePair(1200, 1200)
	assert.Less(t, newA, regularLoss)

	// Opponent gains exactly half the penalty; the abandoner's loss always
	// exceeds the opponent's gain.
	assert.Equal(t, 1200+penalty/2, newO)
	assert.Less(t, newO-1200, penalty)
}

func TestUpdateAbandonmentFloor(t *testing.T) {
	newA, _ := UpdateAbandonment(Floor+5, 1200)
	assert.Equal(t, Floor, newA)
}
