package ceiling

import (
	"math/big"
	"strconv"

	"crowdsale/core/types"
)

const (
	// EventTypeCommitted is emitted when the controller appends commitments.
	EventTypeCommitted = "ceiling.committed"
	// EventTypeRevealed is emitted for each successful reveal.
	EventTypeRevealed = "ceiling.revealed"
)

func committedEvent(name string, added, total int) *types.Event {
	return &types.Event{
		Type: EventTypeCommitted,
		Attributes: map[string]string{
			"ceiling": name,
			"added":   strconv.Itoa(added),
			"total":   strconv.Itoa(total),
		},
	}
}

func revealedEvent(name string, index uint64, delta, capValue *big.Int, last bool) *types.Event {
	return &types.Event{
		Type: EventTypeRevealed,
		Attributes: map[string]string{
			"ceiling": name,
			"index":   strconv.FormatUint(index, 10),
			"delta":   delta.String(),
			"cap":     capValue.String(),
			"last":    strconv.FormatBool(last),
		},
	}
}
