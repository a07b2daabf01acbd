package affiliate

import (
	"errors"
	"math/big"
)

// Tier identifies the bonus bracket an affiliate has reached.
type Tier uint8

const (
	TierBase Tier = iota
	TierTwo
	TierThree
)

func (t Tier) String() string {
	switch t {
	case TierTwo:
		return "tier2"
	case TierThree:
		return "tier3"
	default:
		return "base"
	}
}

var (
	errThresholdMissing  = errors.New("affiliate calculator: tier thresholds required")
	errThresholdOrdering = errors.New("affiliate calculator: tier three threshold below tier two")
	errBonusOrdering     = errors.New("affiliate calculator: bonus table must be non-decreasing")
)

// Calculator maps the cumulative volume an affiliate has referred to a bonus tier.
// It holds no state beyond its thresholds and is safe for concurrent use.
type Calculator struct {
	tierTwo   *big.Int
	tierThree *big.Int
	bonusBps  [3]uint64
}

// NewCalculator validates and captures the tier thresholds and per-tier bonus in
// basis points.
func NewCalculator(tierTwo, tierThree *big.Int, bonusBps [3]uint64) (*Calculator, error) {
	if tierTwo == nil || tierThree == nil || tierTwo.Sign() < 0 || tierThree.Sign() < 0 {
		return nil, errThresholdMissing
	}
	if tierThree.Cmp(tierTwo) < 0 {
		return nil, errThresholdOrdering
	}
	if bonusBps[1] < bonusBps[0] || bonusBps[2] < bonusBps[1] {
		return nil, errBonusOrdering
	}
	return &Calculator{
		tierTwo:   new(big.Int).Set(tierTwo),
		tierThree: new(big.Int).Set(tierThree),
		bonusBps:  bonusBps,
	}, nil
}

// TierFor returns the tier reached by the supplied referred volume. Nil volumes
// are treated as zero.
func (c *Calculator) TierFor(volume *big.Int) Tier {
	if c == nil || volume == nil {
		return TierBase
	}
	if volume.Cmp(c.tierThree) >= 0 {
		return TierThree
	}
	if volume.Cmp(c.tierTwo) >= 0 {
		return TierTwo
	}
	return TierBase
}

// BonusBps returns the bonus granted to referred contributions at the tier.
func (c *Calculator) BonusBps(tier Tier) uint64 {
	if c == nil || int(tier) >= len(c.bonusBps) {
		return 0
	}
	return c.bonusBps[tier]
}

// Thresholds returns copies of the tier two and tier three boundaries.
func (c *Calculator) Thresholds() (*big.Int, *big.Int) {
	if c == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	return new(big.Int).Set(c.tierTwo), new(big.Int).Set(c.tierThree)
}
