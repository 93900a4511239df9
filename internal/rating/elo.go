// internal/rating/elo.go
package rating

import "math"

const (
	// KFactor is the fixed K used for standard match updates.
	KFactor = 32
	// WinBonus is a small flat bonus added to the winner on top of the
	// expected-score formula.
	WinBonus = 5
	// Floor is the minimum rating a user can fall to.
	Floor = 100

	// Abandonment penalties are proportional to the abandoner's rating,
	// bounded so low-rated accounts still feel it and high-rated accounts
	// are not wiped out by one dropped match. The minimum sits above
	// KFactor/2 so abandoning always costs more than an equal-rating loss.
	AbandonDivisor    = 10
	AbandonMinPenalty = 20
	AbandonMaxPenalty = 50
	// AbandonWinShare is the fraction of the abandoner's penalty credited
	// to the opponent. Deliberately less than a full win to discourage
	// farming abandons.
	AbandonWinShare = 0.5
)

// Expected returns the expected score of a player rated a against a player
// rated b, per the standard logistic curve.
func Expected(a, b int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(b-a)/400.0))
}

// Update computes a single player's new rating given the opponent's rating
// and the actual score (1 for a win, 0 for a loss).
func Update(current, opponent int, actual float64) int {
	next := int(math.Round(float64(current) + KFactor*(actual-Expected(current, opponent))))
	if next < Floor {
		next = Floor
	}
	return next
}

// UpdatePair applies the standard post-match update to both sides of a
// completed 1v1. The winner additionally receives WinBonus. Modulo the
// bonus the update is zero-sum.
func UpdatePair(winner, loser int) (newWinner, newLoser int) {
	newWinner = Update(winner, loser, 1) + WinBonus
	newLoser = Update(loser, winner, 0)
	return newWinner, newLoser
}

// AbandonPenalty returns the rating loss applied to a player who abandons a
// started match: proportional to their rating, clamped to sane bounds.
func AbandonPenalty(rating int) int {
	p := rating / AbandonDivisor
	if p < AbandonMinPenalty {
		p = AbandonMinPenalty
	}
	if p > AbandonMaxPenalty {
		p = AbandonMaxPenalty
	}
	return p
}

// UpdateAbandonment applies the abandonment variant: the abandoner takes a
// proportional penalty, the opponent gains a fraction of it. The standard
// expected-score formula is bypassed entirely.
func UpdateAbandonment(abandoner, opponent int) (newAbandoner, newOpponent int) {
	penalty := AbandonPenalty(abandoner)
	newAbandoner = abandoner - penalty
	if newAbandoner < Floor {
		newAbandoner = Floor
	}
	newOpponent = opponent + int(math.Round(float64(penalty)*AbandonWinShare))
	return newAbandoner, newOpponent
}
