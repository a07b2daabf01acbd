package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/crypto"
	"crowdsale/native/affiliate"
	"crowdsale/native/sale"
)

// Validate checks that the file converts into valid engine configurations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("Token must not be empty")
	}
	if c.EtherPeggedValue == 0 {
		return fmt.Errorf("EtherPeggedValue must be positive")
	}
	if c.TokensPerDollarBps == 0 {
		return fmt.Errorf("TokensPerDollarBps must be positive")
	}
	if _, err := c.AffiliateCalculator(); err != nil {
		return fmt.Errorf("affiliate: %w", err)
	}
	for _, phase := range []sale.Phase{sale.PhasePresale, sale.PhaseGeneral} {
		if _, err := c.SaleConfig(phase); err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
	}
	return nil
}

// ControllerAddress parses the controller identity.
func (c *Config) ControllerAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Controller)
}

func (c *Config) destinations() (sale.Destinations, error) {
	var dest sale.Destinations
	fields := []struct {
		name string
		raw  string
		out  *common.Address
	}{
		{"Wallets.Escrow", c.Wallets.Escrow, &dest.Escrow},
		{"Wallets.Bounty", c.Wallets.Bounty, &dest.Bounty},
		{"Wallets.Founders", c.Wallets.Founders, &dest.Founders},
		{"Wallets.Reserve", c.Wallets.Reserve, &dest.Reserve},
		{"Wallets.Trustee", c.Wallets.Trustee, &dest.Trustee},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		addr, err := crypto.ParseAddress(field.raw)
		if err != nil {
			return dest, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.out = addr
	}
	if dest.Escrow == (common.Address{}) {
		return dest, fmt.Errorf("Wallets.Escrow is required")
	}
	return dest, nil
}

// SaleConfig converts the phase section into an engine configuration.
func (c *Config) SaleConfig(phase sale.Phase) (sale.Config, error) {
	var section Phase
	switch phase {
	case sale.PhasePresale:
		section = c.Presale
	case sale.PhaseGeneral:
		section = c.General
	default:
		return sale.Config{}, fmt.Errorf("unknown phase %q", phase)
	}
	controller, err := c.ControllerAddress()
	if err != nil {
		return sale.Config{}, fmt.Errorf("Controller: %w", err)
	}
	dest, err := c.destinations()
	if err != nil {
		return sale.Config{}, err
	}
	amount := func(name, raw string) (*big.Int, error) {
		value, err := ParseAmount(raw, c.EtherPeggedValue)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return value, nil
	}
	minimum, err := amount("MinContribution", section.MinContribution)
	if err != nil {
		return sale.Config{}, err
	}
	maximum, err := amount("MaxContribution", section.MaxContribution)
	if err != nil {
		return sale.Config{}, err
	}
	capValue, err := amount("Cap", section.Cap)
	if err != nil {
		return sale.Config{}, err
	}
	if len(section.TierLimits) != len(section.TierMultipliersBps) {
		return sale.Config{}, fmt.Errorf("TierLimits and TierMultipliersBps differ in length")
	}
	tiers := make([]sale.PriceTier, len(section.TierLimits))
	for i, raw := range section.TierLimits {
		limit, err := amount(fmt.Sprintf("TierLimits[%d]", i), raw)
		if err != nil {
			return sale.Config{}, err
		}
		tiers[i] = sale.PriceTier{Limit: limit, MultiplierBps: section.TierMultipliersBps[i]}
	}
	distribution := sale.DefaultDistribution(dest, sale.Vesting{
		Start:    c.Vesting.Start,
		Cliff:    c.Vesting.Cliff,
		Duration: c.Vesting.Duration,
	})
	for i := range distribution.Credits {
		leg := &distribution.Credits[i]
		switch leg.Name {
		case sale.LegTrustee:
			leg.Bps = c.Distribution.TrusteeBps
		case sale.LegBounty:
			leg.Bps = c.Distribution.BountyBps
		case sale.LegFounders:
			leg.Bps = c.Distribution.FoundersBps
		case sale.LegReserve:
			leg.Bps = c.Distribution.ReserveBps
		}
	}
	cfg := sale.Config{
		Phase:              phase,
		Controller:         controller,
		MinContribution:    minimum,
		MaxContribution:    maximum,
		Tiers:              tiers,
		BaseMultiplierBps:  section.BaseMultiplierBps,
		EtherPeggedValue:   c.EtherPeggedValue,
		TokensPerDollarBps: c.TokensPerDollarBps,
		Cap:                capValue,
		Begin:              section.Begin,
		End:                section.End,
		Distribution:       distribution,
	}
	if err := cfg.Validate(); err != nil {
		return sale.Config{}, err
	}
	return cfg, nil
}

// AffiliateCalculator builds the affiliate tier calculator.
func (c *Config) AffiliateCalculator() (*affiliate.Calculator, error) {
	tierTwo, err := ParseAmount(c.Affiliate.TierTwo, c.EtherPeggedValue)
	if err != nil {
		return nil, fmt.Errorf("TierTwo: %w", err)
	}
	tierThree, err := ParseAmount(c.Affiliate.TierThree, c.EtherPeggedValue)
	if err != nil {
		return nil, fmt.Errorf("TierThree: %w", err)
	}
	return affiliate.NewCalculator(tierTwo, tierThree, c.Affiliate.BonusBps)
}
