package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/core/types"
)

const (
	// TypeTokenMinted is emitted whenever sale tokens are issued to an account.
	TypeTokenMinted = "token.minted"
	// TypeTrusteeGrant is emitted when tokens are issued to the vesting trustee.
	TypeTrusteeGrant = "trustee.grant"
)

// TokenMinted describes a credit issued by the token ledger.
type TokenMinted struct {
	Recipient common.Address
	Token     string
	Amount    *big.Int
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"recipient": formatAddress(e.Recipient),
			"token":     normalizeAsset(e.Token),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// TrusteeGrant describes a vesting grant recorded by the trustee.
type TrusteeGrant struct {
	Trustee common.Address
	Amount  *big.Int
	Start   uint64
	Cliff   uint64
	Vesting uint64
}

func (TrusteeGrant) EventType() string { return TypeTrusteeGrant }

func (e TrusteeGrant) Event() *types.Event {
	return &types.Event{
		Type: TypeTrusteeGrant,
		Attributes: map[string]string{
			"trustee": formatAddress(e.Trustee),
			"amount":  formatAmount(e.Amount),
			"start":   uintString(e.Start),
			"cliff":   uintString(e.Cliff),
			"vesting": uintString(e.Vesting),
		},
	}
}

func uintString(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
