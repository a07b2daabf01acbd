package sale

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/core/types"
)

const (
	EventTypeContributionAccepted = "sale.contribution.accepted"
	EventTypeContributionRefund   = "sale.contribution.refund"
	EventTypeSaleClosed           = "sale.closed"
	EventTypeCapUpdated           = "sale.cap.updated"
	EventTypeGraceStarted         = "sale.grace.started"
	EventTypeGraceEnded           = "sale.grace.ended"
	EventTypeSaleOpened           = "sale.opened"
)

func hexAddr(addr common.Address) string { return strings.ToLower(addr.Hex()) }

func acceptedEvent(c *Contribution) *types.Event {
	attrs := map[string]string{
		"sale":           string(c.Phase),
		"sender":         hexAddr(c.Sender),
		"offered":        c.Offered.String(),
		"amount":         c.Accepted.String(),
		"tier":           strconv.Itoa(c.Tier),
		"multiplierBps":  strconv.FormatUint(c.MultiplierBps, 10),
		"baseCredit":     c.BaseCredit.String(),
		"credit":         c.ContributorCredit.String(),
		"bonus":          c.AffiliateBonus.String(),
		"cumulativePaid": c.CumulativePaid.String(),
	}
	if c.Affiliate != (common.Address{}) {
		attrs["affiliate"] = hexAddr(c.Affiliate)
		attrs["affiliateTier"] = c.AffiliateTier.String()
	}
	return &types.Event{Type: EventTypeContributionAccepted, Attributes: attrs}
}

func refundEvent(phase Phase, sender common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeContributionRefund,
		Attributes: map[string]string{
			"sale":   string(phase),
			"sender": hexAddr(sender),
			"amount": amount.String(),
		},
	}
}

func closedEvent(phase Phase, record *Record) *types.Event {
	return &types.Event{
		Type: EventTypeSaleClosed,
		Attributes: map[string]string{
			"sale":           string(phase),
			"cap":            record.Cap.String(),
			"cumulativePaid": record.CumulativePaid.String(),
			"closedAt":       strconv.FormatUint(record.ClosedAt, 10),
		},
	}
}

func capUpdatedEvent(phase Phase, previous, next *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCapUpdated,
		Attributes: map[string]string{
			"sale":     string(phase),
			"previous": previous.String(),
			"cap":      next.String(),
		},
	}
}

func stateEvent(eventType string, phase Phase, record *Record) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"sale":           string(phase),
			"cap":            record.Cap.String(),
			"cumulativePaid": record.CumulativePaid.String(),
		},
	}
}
