package config

// Wallets names the destination accounts of the distribution table.
type Wallets struct {
	Escrow   string `toml:"Escrow"`
	Bounty   string `toml:"Bounty"`
	Founders string `toml:"Founders"`
	Reserve  string `toml:"Reserve"`
	Trustee  string `toml:"Trustee"`
}

// Vesting is attached to every trustee grant.
type Vesting struct {
	Start    uint64 `toml:"Start"`
	Cliff    uint64 `toml:"Cliff"`
	Duration uint64 `toml:"Duration"`
}

// Distribution holds the credit multipliers applied to the base credit, in
// basis points.
type Distribution struct {
	TrusteeBps  uint64 `toml:"TrusteeBps"`
	BountyBps   uint64 `toml:"BountyBps"`
	FoundersBps uint64 `toml:"FoundersBps"`
	ReserveBps  uint64 `toml:"ReserveBps"`
}

// Affiliate configures the affiliate tier calculator.
type Affiliate struct {
	TierTwo   string    `toml:"TierTwo"`
	TierThree string    `toml:"TierThree"`
	BonusBps  [3]uint64 `toml:"BonusBps"`
}

// Phase configures one sale phase. Amounts accept wei integers or a
// "<n> ether" / "<n> usd" suffix; usd converts through EtherPeggedValue.
type Phase struct {
	MinContribution    string   `toml:"MinContribution"`
	MaxContribution    string   `toml:"MaxContribution"`
	Cap                string   `toml:"Cap"`
	TierLimits         []string `toml:"TierLimits"`
	TierMultipliersBps []uint64 `toml:"TierMultipliersBps"`
	BaseMultiplierBps  uint64   `toml:"BaseMultiplierBps"`
	Begin              uint64   `toml:"Begin"`
	End                uint64   `toml:"End"`
}
