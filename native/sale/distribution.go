package sale

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	LegEscrow   = "escrow"
	LegTrustee  = "trustee"
	LegBounty   = "bounty"
	LegFounders = "founders"
	LegReserve  = "reserve"
)

var (
	errValueLegsMissing = errors.New("sale distribution: value legs required")
	errValueLegsSum     = errors.New("sale distribution: value legs must sum to 10000 bps")
	errLegDestination   = errors.New("sale distribution: leg destination required")
)

// ValueVault holds the value balances the sale moves.
type ValueVault interface {
	ValueBalance(addr common.Address) (*big.Int, error)
	Withdraw(from common.Address, amount *big.Int) error
	Deposit(to common.Address, amount *big.Int) error
}

// TokenLedger issues token credit.
type TokenLedger interface {
	Mint(to common.Address, amount *big.Int, reason string) error
}

// Trustee records vested token grants.
type Trustee interface {
	Grant(trustee common.Address, amount *big.Int, vesting Vesting) error
}

// Vesting is the metadata attached to trustee grants.
type Vesting struct {
	Start    uint64
	Cliff    uint64
	Duration uint64
}

// ValueLeg forwards Bps of the accepted value to Destination.
type ValueLeg struct {
	Name        string
	Destination common.Address
	Bps         uint64
}

// CreditLeg issues Bps of the base credit to Destination. Vested legs go
// through the trustee instead of the ledger.
type CreditLeg struct {
	Name        string
	Destination common.Address
	Bps         uint64
	Vested      bool
}

// Distribution is the static fan-out table of a sale.
type Distribution struct {
	Values  []ValueLeg
	Credits []CreditLeg
	Vesting Vesting
}

// Destinations are the wallets referenced by the default distribution.
type Destinations struct {
	Escrow   common.Address
	Bounty   common.Address
	Founders common.Address
	Reserve  common.Address
	Trustee  common.Address
}

// DefaultDistribution forwards all value to escrow and issues 2.5x the base
// credit to the trustee and 0.5x to the bounty pool.
func DefaultDistribution(dest Destinations, vesting Vesting) Distribution {
	return Distribution{
		Values: []ValueLeg{{Name: LegEscrow, Destination: dest.Escrow, Bps: bpsDenominator}},
		Credits: []CreditLeg{
			{Name: LegTrustee, Destination: dest.Trustee, Bps: 25_000, Vested: true},
			{Name: LegBounty, Destination: dest.Bounty, Bps: 5_000},
			{Name: LegFounders, Destination: dest.Founders, Bps: 0},
			{Name: LegReserve, Destination: dest.Reserve, Bps: 0},
		},
		Vesting: vesting,
	}
}

// Validate checks the tables.
func (d Distribution) Validate() error {
	if len(d.Values) == 0 {
		return errValueLegsMissing
	}
	var sum uint64
	for _, leg := range d.Values {
		if leg.Destination == (common.Address{}) {
			return fmt.Errorf("%w: %s", errLegDestination, leg.Name)
		}
		sum += leg.Bps
	}
	if sum != bpsDenominator {
		return errValueLegsSum
	}
	for _, leg := range d.Credits {
		if leg.Bps > 0 && leg.Destination == (common.Address{}) {
			return fmt.Errorf("%w: %s", errLegDestination, leg.Name)
		}
	}
	return nil
}

func (d Distribution) hasVestedLeg() bool {
	for _, leg := range d.Credits {
		if leg.Vested && leg.Bps > 0 {
			return true
		}
	}
	return false
}

// splitValue divides accepted across the value legs. The final leg receives
// the rounding remainder so the whole amount is always forwarded.
func (d Distribution) splitValue(accepted *uint256.Int) ([]Allocation, error) {
	out := make([]Allocation, 0, len(d.Values))
	remaining := new(uint256.Int).Set(accepted)
	for i, leg := range d.Values {
		amount := remaining
		if i < len(d.Values)-1 {
			share, err := mulBps(accepted, leg.Bps)
			if err != nil {
				return nil, err
			}
			amount = share
			remaining = new(uint256.Int).Sub(remaining, share)
		}
		if amount.IsZero() {
			continue
		}
		out = append(out, Allocation{Leg: leg.Name, Destination: leg.Destination, Amount: amount.ToBig()})
	}
	return out, nil
}

func (d Distribution) splitCredit(base *uint256.Int) ([]Allocation, error) {
	out := make([]Allocation, 0, len(d.Credits))
	for _, leg := range d.Credits {
		amount, err := mulBps(base, leg.Bps)
		if err != nil {
			return nil, err
		}
		if amount.IsZero() {
			continue
		}
		out = append(out, Allocation{Leg: leg.Name, Destination: leg.Destination, Amount: amount.ToBig(), Vested: leg.Vested})
	}
	return out, nil
}

// distribute applies every leg. The caller reverts state when any leg fails.
func (e *Engine) distribute(values, credits []Allocation) error {
	for _, alloc := range values {
		if err := e.vault.Deposit(alloc.Destination, alloc.Amount); err != nil {
			return fmt.Errorf("sale engine: %s leg: %w", alloc.Leg, err)
		}
	}
	for _, alloc := range credits {
		var err error
		if alloc.Vested {
			err = e.trustee.Grant(alloc.Destination, alloc.Amount, e.cfg.Distribution.Vesting)
		} else {
			err = e.ledger.Mint(alloc.Destination, alloc.Amount, alloc.Leg)
		}
		if err != nil {
			return fmt.Errorf("sale engine: %s leg: %w", alloc.Leg, err)
		}
	}
	return nil
}
