package config

import (
	"fmt"
	"math/big"
	"strings"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseAmount converts a configured amount into wei. Bare integers are wei,
// "<decimal> ether" is scaled by 1e18 and "<decimal> usd" is divided by the
// pegged ether price. Fractions of a wei are truncated.
func ParseAmount(raw string, peggedValue uint64) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	fields := strings.Fields(strings.ToLower(trimmed))
	switch len(fields) {
	case 1:
		value, ok := new(big.Int).SetString(fields[0], 10)
		if !ok || value.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", raw)
		}
		return value, nil
	case 2:
	default:
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	number, ok := new(big.Rat).SetString(fields[0])
	if !ok || number.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	scaled := new(big.Rat).Mul(number, new(big.Rat).SetInt(weiPerEther))
	switch fields[1] {
	case "ether", "eth":
	case "usd":
		if peggedValue == 0 {
			return nil, fmt.Errorf("amount %q: usd requires EtherPeggedValue", raw)
		}
		scaled.Quo(scaled, new(big.Rat).SetUint64(peggedValue))
	default:
		return nil, fmt.Errorf("amount %q: unknown unit %q", raw, fields[1])
	}
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
