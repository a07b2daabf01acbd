package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"crowdsale/core/state"
	"crowdsale/native/affiliate"
	"crowdsale/native/ceiling"
	"crowdsale/native/sale"
	"crowdsale/services/saled/node"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

var (
	forbiddenErrors = []error{
		sale.ErrUnauthorized,
		ceiling.ErrUnauthorized,
		affiliate.ErrUnauthorized,
		node.ErrUnauthorized,
	}
	conflictErrors = []error{
		sale.ErrSaleClosed,
		sale.ErrCapReached,
		sale.ErrSaleNotStarted,
		sale.ErrSaleEnded,
		sale.ErrAlreadyInGrace,
		ceiling.ErrFinalized,
		ceiling.ErrNothingToReveal,
		affiliate.ErrAlreadyExists,
	}
	badRequestErrors = []error{
		errBadRequest,
		sale.ErrBelowMinimum,
		sale.ErrAboveMaximum,
		sale.ErrCapBelowPaid,
		sale.ErrInsufficientFunds,
		sale.ErrOverflow,
		sale.ErrUnsupportedPhase,
		sale.ErrInvalidAffiliate,
		affiliate.ErrZeroAddress,
		ceiling.ErrEmptyCommitments,
		ceiling.ErrZeroCommitment,
		ceiling.ErrCommitmentMismatch,
		ceiling.ErrInvalidDelta,
		ceiling.ErrOverflow,
		state.ErrInsufficientBalance,
		state.ErrBalanceOverflow,
		node.ErrUnknownPhase,
	}
)

// statusFor maps a call error to its HTTP status. Unrecognised errors are
// infrastructure failures.
func statusFor(err error) int {
	matches := func(targets []error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
	switch {
	case matches(forbiddenErrors):
		return http.StatusForbidden
	case matches(conflictErrors):
		return http.StatusConflict
	case matches(badRequestErrors):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
