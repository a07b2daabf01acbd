package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/core/types"
)

const (
	// TypeTransfer is emitted for value balance movements.
	TypeTransfer = "transfer.value"
)

// Transfer records a movement of contributed value between accounts.
type Transfer struct {
	Asset  string
	From   common.Address
	To     common.Address
	Amount *big.Int
	Reason string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = formatAddress(e.From)
	attrs["to"] = formatAddress(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
