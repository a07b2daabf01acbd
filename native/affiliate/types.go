package affiliate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Affiliate is the persisted registry entry for an approved referrer.
type Affiliate struct {
	Address        common.Address
	ReferredVolume *big.Int
	Referrals      uint64
	RegisteredAt   uint64
}

// Clone returns a deep copy of the entry.
func (a *Affiliate) Clone() *Affiliate {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ReferredVolume = new(big.Int)
	if a.ReferredVolume != nil {
		clone.ReferredVolume.Set(a.ReferredVolume)
	}
	return &clone
}

// Quote is the bonus a referred contribution is entitled to, evaluated against the
// affiliate's volume before the contribution is applied.
type Quote struct {
	Affiliate common.Address
	Tier      Tier
	BonusBps  uint64
}
