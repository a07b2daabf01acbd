package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crowdsale/config"
	"crowdsale/core/events"
	"crowdsale/native/affiliate"
	"crowdsale/native/ceiling"
	"crowdsale/services/saled/archive"
	"crowdsale/services/saled/node"
	"crowdsale/services/saled/stream"
	"crowdsale/storage"
)

var (
	controllerAddr = common.HexToAddress("0x167b7133b1caa3ce98a911df67c3f760889a37be")
	escrowAddr     = common.HexToAddress("0x0f586d0a27e28784312245a11b66f3011a0af27c")
	bountyAddr     = common.HexToAddress("0x7620da4995f170314b71421e2b22111fef0e6f97")
	trusteeAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	affiliateAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type testEnv struct {
	t       *testing.T
	handler http.Handler
	archive *archive.Archive
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Controller = controllerAddr.Hex()
	cfg.Wallets = config.Wallets{Escrow: escrowAddr.Hex(), Bounty: bountyAddr.Hex(), Trustee: trusteeAddr.Hex()}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	arch := mustArchive(t, db)
	hub := stream.NewHub(8, nil)

	n, err := node.New(context.Background(), cfg, storage.NewMemDB(), eventsFanout(arch, hub), nil)
	require.NoError(t, err)
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	require.NoError(t, err)
	srv, err := New(Config{}, n, arch, hub, auth, NewRateLimiter(RateLimit{RequestsPerMinute: 6000, Burst: 100}, time.Minute), nil)
	require.NoError(t, err)
	return &testEnv{t: t, handler: srv.Handler(), archive: arch}
}

func mustArchive(t *testing.T, db *gorm.DB) *archive.Archive {
	t.Helper()
	a, err := archive.New(db, nil)
	require.NoError(t, err)
	return a
}

func eventsFanout(a *archive.Archive, hub *stream.Hub) events.Emitter {
	return events.Fanout{a, hub}
}

func (e *testEnv) token(subject common.Address, scopes ...string) string {
	token, err := IssueToken(testSecret, TokenRequest{Subject: subject, Scopes: scopes}, time.Now())
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body interface{}, out interface{}) int {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func ether(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000)).String()
}

func TestPresaleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctl := env.token(controllerAddr, ScopeController)
	alice := env.token(subject, ScopeContribute)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/accounts/"+subject.Hex()+"/deposits", ctl, depositRequest{Amount: "100 ether"}, nil))

	var receipt contributionView
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "25 ether"}, &receipt))
	require.Equal(t, ether(25), receipt.Accepted)
	require.Equal(t, ether(55_000), receipt.ContributorCredit)
	require.Equal(t, 0, receipt.Tier)

	var status saleStatusView
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/sales/presale/cap", ctl, capRequest{Cap: "25 ether"}, &status))
	require.Equal(t, "open", status.State)
	require.Equal(t, "0", status.Remaining)

	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "26 ether"}, nil))
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/sales/presale/cap", ctl, capRequest{Cap: "50 ether"}, nil))
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "26 ether"}, &receipt))
	require.Equal(t, ether(1), receipt.Refunded)
	require.True(t, receipt.Closed)
	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "25 ether"}, nil))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/sales/presale", "", nil, &status))
	require.Equal(t, "closed", status.State)
	require.Equal(t, ether(50), status.CumulativePaid)

	var account accountView
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/accounts/"+trusteeAddr.Hex(), "", nil, &account))
	require.Len(t, account.Grants, 1)
	require.Equal(t, "SHP", account.Token)

	var archived []eventView
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/events?type=sale.closed", "", nil, &archived))
	require.Len(t, archived, 1)
	require.Equal(t, "presale", archived[0].Attributes["sale"])
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	ctl := env.token(controllerAddr, ScopeController)
	alice := env.token(subject, ScopeContribute)
	impostor := env.token(subject, ScopeController)

	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/v1/sales/presale/contributions", "", contributeRequest{Value: "1"}, nil))
	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/sales/presale/cap", alice, capRequest{Cap: "1"}, nil))
	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/sales/presale/cap", impostor, capRequest{Cap: "1 ether"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "lots"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "1 ether"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/sales/auction/contributions", alice, contributeRequest{Value: "1 ether"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, map[string]string{"value": "1", "extra": "x"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/sales/presale/contributions", alice, contributeRequest{Value: "25 ether"}, nil))
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/affiliates/"+affiliateAddr.Hex(), "", nil, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/accounts/0x123", "", nil, nil))
	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/ceiling/reveal", ctl, revealRequest{Delta: "1", Salt: common.Hash{1}.Hex()}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/ceiling/commitments", ctl, commitRequest{Hashes: []string{"0x01"}}, nil))
	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/sales/general/contributions", alice, contributeRequest{Value: "1 ether"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/affiliates", ctl, affiliateRequest{Address: common.Address{}.Hex()}, nil))
}

func TestStatusForRegistryErrors(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("register: %w", affiliate.ErrZeroAddress)))
	require.Equal(t, http.StatusConflict, statusFor(affiliate.ErrAlreadyExists))
	require.Equal(t, http.StatusForbidden, statusFor(affiliate.ErrUnauthorized))
	require.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("disk on fire")))
}

func TestCeilingAndAffiliatesOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctl := env.token(controllerAddr, ScopeController)
	alice := env.token(subject, ScopeContribute)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/accounts/"+subject.Hex()+"/deposits", ctl, depositRequest{Amount: "10 ether"}, nil))

	salts := []common.Hash{{0x0a}, {0x0b}}
	first, err := ceiling.CommitmentHash(big.NewInt(1_000_000_000_000_000_000), false, salts[0])
	require.NoError(t, err)
	second, err := ceiling.CommitmentHash(big.NewInt(2_000_000_000_000_000_000), true, salts[1])
	require.NoError(t, err)

	var status ceilingStatusView
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/ceiling/commitments", ctl, commitRequest{Hashes: []string{first.Hex(), second.Hex()}}, &status))
	require.Equal(t, uint64(2), status.Committed)

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/ceiling/reveal", ctl, revealRequest{Delta: "2 ether", Last: true, Salt: salts[1].Hex()}, nil))
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/ceiling/reveal", ctl, revealRequest{Delta: "1 ether", Salt: salts[0].Hex()}, &status))
	require.Equal(t, ether(1), status.Cap)
	require.False(t, status.Finalized)

	var registered affiliateView
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/v1/affiliates", ctl, affiliateRequest{Address: affiliateAddr.Hex()}, &registered))
	require.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/affiliates", ctl, affiliateRequest{Address: affiliateAddr.Hex()}, nil))

	var receipt contributionView
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/sales/general/contributions", alice, contributeRequest{Value: "2 ether", Affiliate: affiliateAddr.Hex()}, &receipt))
	require.Equal(t, ether(1), receipt.Accepted)
	require.Equal(t, ether(1), receipt.Refunded)
	require.False(t, receipt.Closed)
	require.Equal(t, "base", receipt.AffiliateTier)

	var saleStatus saleStatusView
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/sales/general", "", nil, &saleStatus))
	require.Equal(t, "grace_period", saleStatus.State)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/ceiling/reveal", ctl, revealRequest{Delta: "2 ether", Last: true, Salt: salts[1].Hex()}, &status))
	require.True(t, status.Finalized)
	require.Equal(t, ether(3), status.Cap)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/affiliates/"+affiliateAddr.Hex(), "", nil, &registered))
	require.Equal(t, ether(1), registered.ReferredVolume)
	require.Equal(t, uint64(1), registered.Referrals)
	require.Equal(t, "base", registered.Tier)

	var archived []eventView
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/events?type=ceiling.revealed", "", nil, &archived))
	require.Len(t, archived, 2)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/events?after=x", "", nil, nil))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	var health map[string]interface{}
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil, &health))
	require.Equal(t, "ok", health["status"])

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crowdsale_sale_state")
}
