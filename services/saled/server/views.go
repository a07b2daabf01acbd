package server

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/core/state"
	"crowdsale/native/affiliate"
	"crowdsale/native/ceiling"
	"crowdsale/native/sale"
)

// Amounts are rendered as decimal wei strings.
func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func hexOrEmpty(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

type allocationView struct {
	Leg         string `json:"leg"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Vested      bool   `json:"vested,omitempty"`
}

type contributionView struct {
	Phase             string           `json:"phase"`
	Sender            string           `json:"sender"`
	Offered           string           `json:"offered"`
	Accepted          string           `json:"accepted"`
	Refunded          string           `json:"refunded"`
	Tier              int              `json:"tier"`
	MultiplierBps     uint64           `json:"multiplierBps"`
	BaseCredit        string           `json:"baseCredit"`
	ContributorCredit string           `json:"contributorCredit"`
	AffiliateBonus    string           `json:"affiliateBonus"`
	Affiliate         string           `json:"affiliate,omitempty"`
	AffiliateTier     string           `json:"affiliateTier,omitempty"`
	Values            []allocationView `json:"values"`
	Credits           []allocationView `json:"credits"`
	CumulativePaid    string           `json:"cumulativePaid"`
	Closed            bool             `json:"closed"`
}

func allocations(in []sale.Allocation) []allocationView {
	out := make([]allocationView, 0, len(in))
	for _, a := range in {
		out = append(out, allocationView{Leg: a.Leg, Destination: a.Destination.Hex(), Amount: amount(a.Amount), Vested: a.Vested})
	}
	return out
}

func newContributionView(c *sale.Contribution) contributionView {
	view := contributionView{
		Phase:             string(c.Phase),
		Sender:            c.Sender.Hex(),
		Offered:           amount(c.Offered),
		Accepted:          amount(c.Accepted),
		Refunded:          amount(c.Refunded),
		Tier:              c.Tier,
		MultiplierBps:     c.MultiplierBps,
		BaseCredit:        amount(c.BaseCredit),
		ContributorCredit: amount(c.ContributorCredit),
		AffiliateBonus:    amount(c.AffiliateBonus),
		Affiliate:         hexOrEmpty(c.Affiliate),
		Values:            allocations(c.Values),
		Credits:           allocations(c.Credits),
		CumulativePaid:    amount(c.CumulativePaid),
		Closed:            c.Closed,
	}
	if c.Affiliate != (common.Address{}) {
		view.AffiliateTier = c.AffiliateTier.String()
	}
	return view
}

type saleStatusView struct {
	Phase           string   `json:"phase"`
	State           string   `json:"state"`
	Cap             string   `json:"cap"`
	CumulativePaid  string   `json:"cumulativePaid"`
	Remaining       string   `json:"remaining"`
	Refunded        string   `json:"refunded"`
	Contributions   uint64   `json:"contributions"`
	MinContribution string   `json:"minContribution"`
	MaxContribution string   `json:"maxContribution"`
	TierLimits      []string `json:"tierLimits"`
	Begin           uint64   `json:"begin"`
	End             uint64   `json:"end"`
	ClosedAt        uint64   `json:"closedAt,omitempty"`
}

func newSaleStatusView(s *sale.Status) saleStatusView {
	limits := make([]string, 0, len(s.TierLimits))
	for _, limit := range s.TierLimits {
		limits = append(limits, amount(limit))
	}
	return saleStatusView{
		Phase:           string(s.Phase),
		State:           s.State.String(),
		Cap:             amount(s.Cap),
		CumulativePaid:  amount(s.CumulativePaid),
		Remaining:       amount(s.Remaining),
		Refunded:        amount(s.Refunded),
		Contributions:   s.Contributions,
		MinContribution: amount(s.MinContribution),
		MaxContribution: amount(s.MaxContribution),
		TierLimits:      limits,
		Begin:           s.Begin,
		End:             s.End,
		ClosedAt:        s.ClosedAt,
	}
}

type ceilingStatusView struct {
	Name      string `json:"name"`
	Committed uint64 `json:"committed"`
	Revealed  uint64 `json:"revealed"`
	Cap       string `json:"cap"`
	Finalized bool   `json:"finalized"`
}

func newCeilingStatusView(s ceiling.Status) ceilingStatusView {
	return ceilingStatusView{Name: s.Name, Committed: s.Committed, Revealed: s.Revealed, Cap: amount(s.Cap), Finalized: s.Finalized}
}

type affiliateView struct {
	Address        string `json:"address"`
	ReferredVolume string `json:"referredVolume"`
	Referrals      uint64 `json:"referrals"`
	RegisteredAt   uint64 `json:"registeredAt"`
	Tier           string `json:"tier,omitempty"`
	BonusBps       uint64 `json:"bonusBps,omitempty"`
}

func newAffiliateView(a *affiliate.Affiliate) affiliateView {
	return affiliateView{
		Address:        a.Address.Hex(),
		ReferredVolume: amount(a.ReferredVolume),
		Referrals:      a.Referrals,
		RegisteredAt:   a.RegisteredAt,
	}
}

type grantView struct {
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Start    uint64 `json:"start"`
	Cliff    uint64 `json:"cliff"`
	Duration uint64 `json:"duration"`
}

type accountView struct {
	Address string      `json:"address"`
	Value   string      `json:"value"`
	Token   string      `json:"token"`
	Tokens  string      `json:"tokens"`
	Grants  []grantView `json:"grants"`
}

func newAccountView(a *state.Account, token string) accountView {
	grants := make([]grantView, 0, len(a.Grants))
	for _, g := range a.Grants {
		grants = append(grants, grantView{Token: g.Token, Amount: amount(g.Amount), Start: g.Start, Cliff: g.Cliff, Duration: g.Duration})
	}
	return accountView{
		Address: a.Address.Hex(),
		Value:   amount(a.Value),
		Token:   token,
		Tokens:  amount(a.Tokens),
		Grants:  grants,
	}
}
