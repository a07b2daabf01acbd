package sale

import (
	"math/big"

	"github.com/holiman/uint256"
)

const bpsDenominator = 10_000

var bpsDivisor = uint256.NewInt(bpsDenominator)

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrOverflow
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return word, nil
}

// mulBps returns x * bps / 10000, failing instead of wrapping.
func mulBps(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(x, uint256.NewInt(bps))
	if overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, bpsDivisor), nil
}

// tierFor selects the price tier from the cumulative total paid before the
// contribution. A contribution that straddles a limit is priced entirely at
// the tier active when it started.
func (c Config) tierFor(paid *big.Int) (int, uint64) {
	for i, tier := range c.Tiers {
		if paid.Cmp(tier.Limit) <= 0 {
			return i, tier.MultiplierBps
		}
	}
	return len(c.Tiers), c.BaseMultiplierBps
}

type quote struct {
	tier          int
	multiplierBps uint64
	base          *uint256.Int
	contributor   *uint256.Int
	bonus         *uint256.Int
}

// price computes the token credit for accepted value:
//
//	base        = accepted * peggedValue * tokensPerDollarBps / 10000
//	contributor = base * tierMultiplierBps / 10000
//	bonus       = contributor * affiliateBonusBps / 10000
func (c Config) price(paid *big.Int, accepted *uint256.Int, affiliateBonusBps uint64) (*quote, error) {
	tier, multiplier := c.tierFor(paid)
	usd, overflow := new(uint256.Int).MulOverflow(accepted, uint256.NewInt(c.EtherPeggedValue))
	if overflow {
		return nil, ErrOverflow
	}
	base, err := mulBps(usd, c.TokensPerDollarBps)
	if err != nil {
		return nil, err
	}
	contributor, err := mulBps(base, multiplier)
	if err != nil {
		return nil, err
	}
	bonus, err := mulBps(contributor, affiliateBonusBps)
	if err != nil {
		return nil, err
	}
	total, overflow := new(uint256.Int).AddOverflow(contributor, bonus)
	if overflow {
		return nil, ErrOverflow
	}
	return &quote{
		tier:          tier,
		multiplierBps: multiplier,
		base:          base,
		contributor:   total,
		bonus:         bonus,
	}, nil
}
