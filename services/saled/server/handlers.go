package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"crowdsale/config"
	"crowdsale/crypto"
	"crowdsale/native/sale"
	"crowdsale/services/saled/archive"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) parseAmount(name, raw string) (*big.Int, error) {
	value, err := config.ParseAmount(raw, s.node.EtherPeggedValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", errBadRequest, name)
	}
	return value, nil
}

func parseAddress(name, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return addr, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("op", op), slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func caller(r *http.Request) common.Address {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return common.Address{}
	}
	return identity.Subject
}

func phaseParam(r *http.Request) sale.Phase {
	return sale.Phase(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "phase"))))
}

type contributeRequest struct {
	Value     string `json:"value"`
	Affiliate string `json:"affiliate,omitempty"`
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req contributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "contribute", err)
		return
	}
	value, err := s.parseAmount("value", req.Value)
	if err != nil {
		s.fail(w, r, "contribute", err)
		return
	}
	var referrer common.Address
	if strings.TrimSpace(req.Affiliate) != "" {
		if referrer, err = parseAddress("affiliate", req.Affiliate); err != nil {
			s.fail(w, r, "contribute", err)
			return
		}
	}
	receipt, err := s.node.Contribute(r.Context(), phaseParam(r), caller(r), value, referrer)
	if err != nil {
		s.fail(w, r, "contribute", err)
		return
	}
	writeJSON(w, http.StatusOK, newContributionView(receipt))
}

func (s *Server) handleSaleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.node.SaleStatus(phaseParam(r))
	if err != nil {
		s.fail(w, r, "sale.status", err)
		return
	}
	writeJSON(w, http.StatusOK, newSaleStatusView(status))
}

type capRequest struct {
	Cap string `json:"cap"`
}

func (s *Server) handleSetCap(w http.ResponseWriter, r *http.Request) {
	var req capRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "presale.cap", err)
		return
	}
	capValue, err := s.parseAmount("cap", req.Cap)
	if err != nil {
		s.fail(w, r, "presale.cap", err)
		return
	}
	if err := s.node.SetPresaleCap(r.Context(), caller(r), capValue); err != nil {
		s.fail(w, r, "presale.cap", err)
		return
	}
	s.handleSaleStatusFor(w, r, sale.PhasePresale)
}

func (s *Server) handleBeginGrace(w http.ResponseWriter, r *http.Request) {
	if err := s.node.BeginPresaleGrace(r.Context(), caller(r)); err != nil {
		s.fail(w, r, "presale.grace", err)
		return
	}
	s.handleSaleStatusFor(w, r, sale.PhasePresale)
}

func (s *Server) handleSaleStatusFor(w http.ResponseWriter, r *http.Request, phase sale.Phase) {
	status, err := s.node.SaleStatus(phase)
	if err != nil {
		s.fail(w, r, "sale.status", err)
		return
	}
	writeJSON(w, http.StatusOK, newSaleStatusView(status))
}

type commitRequest struct {
	Hashes []string `json:"hashes"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "ceiling.commit", err)
		return
	}
	hashes := make([]common.Hash, 0, len(req.Hashes))
	for i, raw := range req.Hashes {
		decoded, err := hexutil.Decode(strings.TrimSpace(raw))
		if err != nil || len(decoded) != common.HashLength {
			s.fail(w, r, "ceiling.commit", fmt.Errorf("%w: hashes[%d] must be 32 hex bytes", errBadRequest, i))
			return
		}
		hashes = append(hashes, common.BytesToHash(decoded))
	}
	if err := s.node.CommitCeiling(r.Context(), caller(r), hashes); err != nil {
		s.fail(w, r, "ceiling.commit", err)
		return
	}
	s.handleCeilingStatus(w, r)
}

type revealRequest struct {
	Delta string `json:"delta"`
	Last  bool   `json:"last"`
	Salt  string `json:"salt"`
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "ceiling.reveal", err)
		return
	}
	delta, err := config.ParseAmount(req.Delta, s.node.EtherPeggedValue())
	if err != nil {
		s.fail(w, r, "ceiling.reveal", fmt.Errorf("%w: delta: %v", errBadRequest, err))
		return
	}
	salt, err := hexutil.Decode(strings.TrimSpace(req.Salt))
	if err != nil || len(salt) != common.HashLength {
		s.fail(w, r, "ceiling.reveal", fmt.Errorf("%w: salt must be 32 hex bytes", errBadRequest))
		return
	}
	if _, err := s.node.RevealCeiling(r.Context(), caller(r), delta, req.Last, common.BytesToHash(salt)); err != nil {
		s.fail(w, r, "ceiling.reveal", err)
		return
	}
	s.handleCeilingStatus(w, r)
}

func (s *Server) handleCeilingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.node.CeilingStatus()
	if err != nil {
		s.fail(w, r, "ceiling.status", err)
		return
	}
	writeJSON(w, http.StatusOK, newCeilingStatusView(status))
}

type affiliateRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleRegisterAffiliate(w http.ResponseWriter, r *http.Request) {
	var req affiliateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "affiliate.register", err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		s.fail(w, r, "affiliate.register", err)
		return
	}
	entry, err := s.node.RegisterAffiliate(r.Context(), caller(r), addr)
	if err != nil {
		s.fail(w, r, "affiliate.register", err)
		return
	}
	writeJSON(w, http.StatusCreated, newAffiliateView(entry))
}

func (s *Server) handleGetAffiliate(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, "affiliate.get", err)
		return
	}
	entry, ok, err := s.node.Affiliate(addr)
	if err != nil {
		s.fail(w, r, "affiliate.get", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "affiliate not found")
		return
	}
	tier, bonus, err := s.node.AffiliateTier(addr)
	if err != nil {
		s.fail(w, r, "affiliate.get", err)
		return
	}
	view := newAffiliateView(entry)
	view.Tier = tier.String()
	view.BonusBps = bonus
	writeJSON(w, http.StatusOK, view)
}

type depositRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, "account.deposit", err)
		return
	}
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, "account.deposit", err)
		return
	}
	value, err := s.parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "account.deposit", err)
		return
	}
	if err := s.node.Deposit(r.Context(), caller(r), addr, value); err != nil {
		s.fail(w, r, "account.deposit", err)
		return
	}
	s.handleGetAccount(w, r)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, "account.get", err)
		return
	}
	account, err := s.node.Account(addr)
	if err != nil {
		s.fail(w, r, "account.get", err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(account, s.node.Token()))
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	CreatedAt  int64             `json:"createdAt"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "event archive disabled")
		return
	}
	query := archive.Query{Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, "events.list", fmt.Errorf("%w: after: %v", errBadRequest, err))
			return
		}
		query.After = after
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, "events.list", fmt.Errorf("%w: limit: %v", errBadRequest, err))
			return
		}
		query.Limit = limit
	}
	records, err := s.archive.List(r.Context(), query)
	if err != nil {
		s.fail(w, r, "events.list", err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, record := range records {
		evt, err := record.Event()
		if err != nil {
			s.fail(w, r, "events.list", err)
			return
		}
		out = append(out, eventView{
			Sequence:   record.Sequence,
			Type:       record.Type,
			Attributes: evt.Attributes,
			Digest:     record.Digest,
			CreatedAt:  record.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
