package sale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/native/affiliate"
)

// Phase names a sale instance. Each phase owns an isolated record.
type Phase string

const (
	PhasePresale Phase = "presale"
	PhaseGeneral Phase = "general"
)

// Valid reports whether the phase is known.
func (p Phase) Valid() bool { return p == PhasePresale || p == PhaseGeneral }

// State is the lifecycle position of a sale.
type State uint8

const (
	StatePending State = iota
	StateOpen
	StateGracePeriod
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateGracePeriod:
		return "grace_period"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PriceTier prices contributions made while the pre-contribution cumulative
// total is at or below Limit.
type PriceTier struct {
	Limit         *big.Int
	MultiplierBps uint64
}

// Config is fixed for the lifetime of a sale instance.
type Config struct {
	Phase      Phase
	Controller common.Address

	MinContribution *big.Int
	// MaxContribution of zero leaves offers unbounded.
	MaxContribution *big.Int

	Tiers             []PriceTier
	BaseMultiplierBps uint64

	// EtherPeggedValue is the USD value of one whole unit of the value asset.
	EtherPeggedValue   uint64
	TokensPerDollarBps uint64

	// Cap is the initial presale cap or the general sale hard cap (zero for none).
	Cap *big.Int

	// Begin and End bound the presale window in unix seconds; End zero is open-ended.
	Begin uint64
	End   uint64

	Distribution Distribution
}

// Record is the persisted mutable state of a sale.
type Record struct {
	Phase          string
	State          uint8
	Cap            *big.Int
	CumulativePaid *big.Int
	Refunded       *big.Int
	Contributions  uint64
	OpenedAt       uint64
	ClosedAt       uint64
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Cap = copyInt(r.Cap)
	clone.CumulativePaid = copyInt(r.CumulativePaid)
	clone.Refunded = copyInt(r.Refunded)
	return &clone
}

func (r *Record) normalize() {
	if r.Cap == nil {
		r.Cap = big.NewInt(0)
	}
	if r.CumulativePaid == nil {
		r.CumulativePaid = big.NewInt(0)
	}
	if r.Refunded == nil {
		r.Refunded = big.NewInt(0)
	}
}

// Allocation is one executed distribution leg.
type Allocation struct {
	Leg         string
	Destination common.Address
	Amount      *big.Int
	Vested      bool
}

// Contribution describes the effects of one accepted contribution.
type Contribution struct {
	Phase             Phase
	Sender            common.Address
	Offered           *big.Int
	Accepted          *big.Int
	Refunded          *big.Int
	Tier              int
	MultiplierBps     uint64
	BaseCredit        *big.Int
	ContributorCredit *big.Int
	AffiliateBonus    *big.Int
	Affiliate         common.Address
	AffiliateTier     affiliate.Tier
	Values            []Allocation
	Credits           []Allocation
	CumulativePaid    *big.Int
	Closed            bool
}

// Status is the read-only view of a sale.
type Status struct {
	Phase           Phase
	State           State
	Cap             *big.Int
	CumulativePaid  *big.Int
	Remaining       *big.Int
	Refunded        *big.Int
	Contributions   uint64
	MinContribution *big.Int
	MaxContribution *big.Int
	TierLimits      []*big.Int
	Begin           uint64
	End             uint64
	ClosedAt        uint64
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
