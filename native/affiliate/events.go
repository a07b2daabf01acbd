package affiliate

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/core/types"
)

const (
	// EventTypeAffiliateRegistered is emitted when the controller approves an affiliate.
	EventTypeAffiliateRegistered = "affiliate.registered"
	// EventTypeReferralRecorded is emitted when referred volume accrues to an affiliate.
	EventTypeReferralRecorded = "affiliate.referral"
)

func registeredEvent(addr common.Address) *types.Event {
	return &types.Event{
		Type: EventTypeAffiliateRegistered,
		Attributes: map[string]string{
			"affiliate": strings.ToLower(addr.Hex()),
		},
	}
}

func referralEvent(entry *Affiliate, amount string, tier Tier) *types.Event {
	return &types.Event{
		Type: EventTypeReferralRecorded,
		Attributes: map[string]string{
			"affiliate": strings.ToLower(entry.Address.Hex()),
			"amount":    amount,
			"volume":    entry.ReferredVolume.String(),
			"referrals": strconv.FormatUint(entry.Referrals, 10),
			"tier":      tier.String(),
		},
	}
}
