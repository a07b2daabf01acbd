package sale_test

import (
	"errors"
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"crowdsale/core/events"
	"crowdsale/core/state"
	"crowdsale/native/affiliate"
	"crowdsale/native/ceiling"
	"crowdsale/native/sale"
	"crowdsale/storage"
)

var (
	owner          = common.HexToAddress("0x167b7133b1caa3ce98a911df67c3f760889a37be")
	escrow         = common.HexToAddress("0x0f586d0a27e28784312245a11b66f3011a0af27c")
	bounty         = common.HexToAddress("0x7620da4995f170314b71421e2b22111fef0e6f97")
	founders       = common.HexToAddress("0x3ec07aee1f9d104c9c930e41be0f523446c49490")
	reserve        = common.HexToAddress("0xfc553ea109cf4b8fbd0174d6395f1319c71a88ee")
	trustee        = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	contributorOne = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	contributorTwo = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	partner        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

const peggedValue = 400

var weiPerEther = big.NewInt(1_000_000_000_000_000_000)

func ether(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), weiPerEther) }

func tokens(n int64) *big.Int { return ether(n) }

func usd(n int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(big.NewInt(n), weiPerEther), big.NewInt(peggedValue))
}

func presaleConfig() sale.Config {
	return sale.Config{
		Phase:           sale.PhasePresale,
		Controller:      owner,
		MinContribution: usd(10_000),
		MaxContribution: usd(1_000_000),
		Tiers: []sale.PriceTier{
			{Limit: usd(49_999), MultiplierBps: 22_000},
			{Limit: usd(249_999), MultiplierBps: 21_000},
			{Limit: usd(1_000_000), MultiplierBps: 20_000},
		},
		BaseMultiplierBps:  10_000,
		EtherPeggedValue:   peggedValue,
		TokensPerDollarBps: 25_000,
		Cap:                usd(10_000_000),
		Distribution: sale.DefaultDistribution(sale.Destinations{
			Escrow:   escrow,
			Bounty:   bounty,
			Founders: founders,
			Reserve:  reserve,
			Trustee:  trustee,
		}, sale.Vesting{Start: 1_700_000_000, Cliff: 1_731_536_000, Duration: 126_144_000}),
	}
}

type harness struct {
	t        *testing.T
	engine   *sale.Engine
	mgr      *state.Manager
	ledger   *state.Ledger
	registry *affiliate.Registry
	oracle   *ceiling.Oracle
	rec      *events.Recorder
	now      int64
}

func newHarness(t *testing.T, cfg sale.Config) *harness {
	t.Helper()
	h := &harness{t: t, rec: &events.Recorder{}, now: 1_700_000_000}
	h.mgr = state.NewManager(storage.NewMemDB())
	require.NoError(t, h.mgr.RegisterToken("SHP", "Sharpe Platform Token", 18))
	ledger, err := h.mgr.Ledger("SHP")
	require.NoError(t, err)
	h.ledger = ledger

	calc, err := affiliate.NewCalculator(ether(10), ether(20), [3]uint64{500, 1000, 1500})
	require.NoError(t, err)
	h.registry = affiliate.NewRegistry(owner, calc)
	h.registry.SetState(h.mgr)

	h.oracle = ceiling.NewOracle("general", owner)
	h.oracle.SetState(h.mgr)

	engine, err := sale.NewEngine(cfg)
	require.NoError(t, err)
	engine.SetState(h.mgr)
	engine.SetVault(h.mgr)
	engine.SetLedger(ledger)
	engine.SetTrustee(ledger)
	engine.SetAffiliates(h.registry)
	engine.SetCeiling(h.oracle)
	engine.SetEmitter(h.rec)
	engine.SetNowFunc(func() int64 { return h.now })
	h.engine = engine

	require.NoError(t, h.mgr.Fund(contributorOne, ether(100)))
	require.NoError(t, h.mgr.Fund(contributorTwo, ether(100)))
	return h
}

func (h *harness) requireValue(addr common.Address, expected *big.Int) {
	h.t.Helper()
	balance, err := h.mgr.ValueBalance(addr)
	require.NoError(h.t, err)
	require.Equal(h.t, expected.String(), balance.String())
}

func (h *harness) requireTokens(addr common.Address, expected *big.Int) {
	h.t.Helper()
	balance, err := h.ledger.Balance(addr)
	require.NoError(h.t, err)
	require.Equal(h.t, expected.String(), balance.String())
}

func (h *harness) status() *sale.Status {
	h.t.Helper()
	status, err := h.engine.Status()
	require.NoError(h.t, err)
	return status
}

func TestPresaleReferenceScenario(t *testing.T) {
	h := newHarness(t, presaleConfig())

	receipt, err := h.engine.Contribute(contributorOne, ether(25))
	require.NoError(t, err)
	require.Equal(t, 0, receipt.Tier)
	require.Equal(t, tokens(25_000).String(), receipt.BaseCredit.String())
	h.requireValue(escrow, ether(25))
	h.requireValue(contributorOne, ether(75))
	h.requireTokens(contributorOne, tokens(55_000))
	h.requireTokens(trustee, tokens(62_500))
	h.requireTokens(bounty, tokens(12_500))
	h.requireTokens(founders, big.NewInt(0))
	h.requireTokens(reserve, big.NewInt(0))
	require.Equal(t, ether(25).String(), h.status().CumulativePaid.String())

	require.NoError(t, h.engine.SetCap(owner, ether(25)))
	status := h.status()
	require.Equal(t, ether(25).String(), status.Cap.String())
	require.Equal(t, sale.StateOpen, status.State)

	_, err = h.engine.Contribute(contributorTwo, ether(26))
	require.ErrorIs(t, err, sale.ErrCapReached)
	h.requireValue(escrow, ether(25))
	h.requireValue(contributorTwo, ether(100))
	h.requireTokens(contributorTwo, big.NewInt(0))

	require.NoError(t, h.engine.SetCap(owner, ether(50)))
	receipt, err = h.engine.Contribute(contributorTwo, ether(26))
	require.NoError(t, err)
	require.Equal(t, ether(25).String(), receipt.Accepted.String())
	require.Equal(t, ether(1).String(), receipt.Refunded.String())
	require.True(t, receipt.Closed)

	h.requireValue(escrow, ether(50))
	h.requireValue(contributorTwo, ether(75))
	h.requireTokens(contributorTwo, tokens(55_000))
	h.requireTokens(trustee, tokens(125_000))
	h.requireTokens(bounty, tokens(25_000))

	refunds := h.rec.OfType(sale.EventTypeContributionRefund)
	require.Len(t, refunds, 1)
	require.Equal(t, ether(1).String(), refunds[0].Attributes["amount"])
	require.Len(t, h.rec.OfType(sale.EventTypeSaleClosed), 1)
	require.Equal(t, sale.StateClosed, h.status().State)

	before := len(h.rec.Events())
	_, err = h.engine.Contribute(contributorTwo, ether(25))
	require.ErrorIs(t, err, sale.ErrSaleClosed)
	require.ErrorIs(t, h.engine.SetCap(owner, ether(100)), sale.ErrSaleClosed)
	require.ErrorIs(t, h.engine.BeginGracePeriod(owner), sale.ErrSaleClosed)
	require.Len(t, h.rec.Events(), before)
	h.requireValue(contributorTwo, ether(75))
	require.Equal(t, ether(50).String(), h.status().CumulativePaid.String())
}

func TestContributionBounds(t *testing.T) {
	h := newHarness(t, presaleConfig())

	_, err := h.engine.Contribute(contributorOne, ether(24))
	require.ErrorIs(t, err, sale.ErrBelowMinimum)

	require.NoError(t, h.mgr.Fund(contributorOne, ether(5000)))
	_, err = h.engine.Contribute(contributorOne, ether(2501))
	require.ErrorIs(t, err, sale.ErrAboveMaximum)

	poor := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	_, err = h.engine.Contribute(poor, ether(25))
	require.ErrorIs(t, err, sale.ErrInsufficientFunds)

	_, err = h.engine.Contribute(contributorOne, big.NewInt(0))
	require.Error(t, err)
	require.Zero(t, h.status().Contributions)
	require.Empty(t, h.rec.Events())
}

func TestTierUsesPreContributionTotal(t *testing.T) {
	h := newHarness(t, presaleConfig())
	require.NoError(t, h.mgr.Fund(contributorOne, ether(200)))

	receipt, err := h.engine.Contribute(contributorOne, ether(120))
	require.NoError(t, err)
	require.Equal(t, 0, receipt.Tier)

	// 120 paid is still inside the first tier, so the straddling 30 is priced there in full.
	receipt, err = h.engine.Contribute(contributorOne, ether(30))
	require.NoError(t, err)
	require.Equal(t, 0, receipt.Tier)
	require.Equal(t, uint64(22_000), receipt.MultiplierBps)

	receipt, err = h.engine.Contribute(contributorOne, ether(25))
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Tier)
	require.Equal(t, tokens(10_000*25/10*21/10).String(), receipt.ContributorCredit.String())
}

func TestAffiliateBonus(t *testing.T) {
	h := newHarness(t, presaleConfig())

	_, err := h.engine.ContributeWithAffiliate(contributorOne, ether(25), partner)
	require.ErrorIs(t, err, sale.ErrInvalidAffiliate)

	_, err = h.registry.Register(owner, partner)
	require.NoError(t, err)
	_, err = h.registry.Register(owner, contributorOne)
	require.NoError(t, err)

	_, err = h.engine.ContributeWithAffiliate(contributorOne, ether(25), contributorOne)
	require.ErrorIs(t, err, sale.ErrInvalidAffiliate)
	h.requireValue(contributorOne, ether(100))

	receipt, err := h.engine.ContributeWithAffiliate(contributorOne, ether(25), partner)
	require.NoError(t, err)
	require.Equal(t, affiliate.TierBase, receipt.AffiliateTier)
	require.Equal(t, tokens(2_750).String(), receipt.AffiliateBonus.String())
	h.requireTokens(contributorOne, tokens(57_750))
	h.requireTokens(trustee, tokens(62_500))

	volume, err := h.registry.ReferredVolume(partner)
	require.NoError(t, err)
	require.Equal(t, ether(25).String(), volume.String())

	receipt, err = h.engine.ContributeWithAffiliate(contributorTwo, ether(25), partner)
	require.NoError(t, err)
	require.Equal(t, affiliate.TierThree, receipt.AffiliateTier)
	require.Equal(t, tokens(55_000*1500/10_000).String(), receipt.AffiliateBonus.String())
	accepted := h.rec.OfType(sale.EventTypeContributionAccepted)
	require.Equal(t, "tier3", accepted[1].Attributes["affiliateTier"])
}

type failingTrustee struct{}

func (failingTrustee) Grant(common.Address, *big.Int, sale.Vesting) error {
	return errors.New("trustee offline")
}

func TestFailingLegRevertsEverything(t *testing.T) {
	h := newHarness(t, presaleConfig())
	h.engine.SetTrustee(failingTrustee{})

	_, err := h.engine.Contribute(contributorOne, ether(30))
	require.ErrorContains(t, err, "trustee offline")

	h.requireValue(contributorOne, ether(100))
	h.requireValue(escrow, big.NewInt(0))
	h.requireTokens(bounty, big.NewInt(0))
	h.requireTokens(contributorOne, big.NewInt(0))
	supply, err := h.mgr.TokenSupply("SHP")
	require.NoError(t, err)
	require.Zero(t, supply.Sign())
	require.Zero(t, h.status().CumulativePaid.Sign())
	require.Empty(t, h.rec.Events())
}

func TestArithmeticOverflowFails(t *testing.T) {
	cfg := presaleConfig()
	cfg.MinContribution = big.NewInt(1)
	cfg.MaxContribution = big.NewInt(0)
	cfg.EtherPeggedValue = math.MaxUint64
	cfg.TokensPerDollarBps = math.MaxUint64
	cfg.Cap = new(big.Int).Lsh(big.NewInt(1), 200)
	h := newHarness(t, cfg)

	huge := new(big.Int).Lsh(big.NewInt(1), 160)
	require.NoError(t, h.mgr.Fund(contributorOne, huge))
	_, err := h.engine.Contribute(contributorOne, huge)
	require.ErrorIs(t, err, sale.ErrOverflow)
	h.requireValue(contributorOne, new(big.Int).Add(huge, ether(100)))
	require.Zero(t, h.status().CumulativePaid.Sign())
}

func TestPresaleWindow(t *testing.T) {
	cfg := presaleConfig()
	cfg.Begin = 1_000
	cfg.End = 2_000
	h := newHarness(t, cfg)

	h.now = 999
	_, err := h.engine.Contribute(contributorOne, ether(25))
	require.ErrorIs(t, err, sale.ErrSaleNotStarted)
	require.Equal(t, sale.StatePending, h.status().State)

	h.now = 1_500
	require.Equal(t, sale.StateOpen, h.status().State)
	_, err = h.engine.Contribute(contributorOne, ether(25))
	require.NoError(t, err)
	require.Len(t, h.rec.OfType(sale.EventTypeSaleOpened), 1)

	h.now = 2_000
	_, err = h.engine.Contribute(contributorOne, ether(25))
	require.ErrorIs(t, err, sale.ErrSaleEnded)
	require.Equal(t, uint64(1), h.status().Contributions)
}

func TestGracePeriodAndCapControl(t *testing.T) {
	h := newHarness(t, presaleConfig())

	require.ErrorIs(t, h.engine.BeginGracePeriod(contributorOne), sale.ErrUnauthorized)
	require.ErrorIs(t, h.engine.SetCap(contributorOne, ether(80)), sale.ErrUnauthorized)

	require.NoError(t, h.engine.BeginGracePeriod(owner))
	require.Equal(t, sale.StateGracePeriod, h.status().State)
	require.ErrorIs(t, h.engine.BeginGracePeriod(owner), sale.ErrAlreadyInGrace)

	_, err := h.engine.Contribute(contributorOne, ether(30))
	require.NoError(t, err)
	require.Equal(t, sale.StateGracePeriod, h.status().State)

	require.ErrorIs(t, h.engine.SetCap(owner, ether(29)), sale.ErrCapBelowPaid)
	require.NoError(t, h.engine.SetCap(owner, ether(40)))
	status := h.status()
	require.Equal(t, sale.StateOpen, status.State)
	require.Equal(t, ether(10).String(), status.Remaining.String())

	updates := h.rec.OfType(sale.EventTypeCapUpdated)
	require.Len(t, updates, 1)
	require.Equal(t, ether(40).String(), updates[0].Attributes["cap"])
	require.Len(t, h.rec.OfType(sale.EventTypeGraceEnded), 1)
}

func generalConfig() sale.Config {
	cfg := presaleConfig()
	cfg.Phase = sale.PhaseGeneral
	cfg.MinContribution = ether(1)
	cfg.MaxContribution = big.NewInt(0)
	cfg.Tiers = nil
	cfg.Cap = big.NewInt(0)
	return cfg
}

func commitSteps(t *testing.T, h *harness, deltas ...*big.Int) []common.Hash {
	t.Helper()
	salts := make([]common.Hash, len(deltas))
	hashes := make([]common.Hash, len(deltas))
	for i, delta := range deltas {
		salts[i] = common.BigToHash(big.NewInt(int64(77 + i)))
		hash, err := ceiling.CommitmentHash(delta, i == len(deltas)-1, salts[i])
		require.NoError(t, err)
		hashes[i] = hash
	}
	require.NoError(t, h.oracle.Commit(owner, hashes))
	return salts
}

func TestGeneralSaleFollowsCeiling(t *testing.T) {
	h := newHarness(t, generalConfig())
	salts := commitSteps(t, h, ether(10), ether(5))

	_, err := h.engine.Contribute(contributorOne, ether(2))
	require.ErrorIs(t, err, sale.ErrCapReached)

	_, err = h.oracle.RevealStep(owner, ether(10), false, salts[0])
	require.NoError(t, err)

	receipt, err := h.engine.Contribute(contributorOne, ether(12))
	require.NoError(t, err)
	require.Equal(t, ether(10).String(), receipt.Accepted.String())
	require.Equal(t, ether(2).String(), receipt.Refunded.String())
	require.False(t, receipt.Closed)
	require.Equal(t, 0, receipt.Tier)
	require.Equal(t, uint64(10_000), receipt.MultiplierBps)
	require.Equal(t, sale.StateGracePeriod, h.status().State)

	_, err = h.engine.Contribute(contributorTwo, ether(1))
	require.ErrorIs(t, err, sale.ErrCapReached)

	_, err = h.oracle.RevealStep(owner, ether(5), true, salts[1])
	require.NoError(t, err)
	require.Equal(t, ether(5).String(), h.status().Remaining.String())

	receipt, err = h.engine.Contribute(contributorTwo, ether(6))
	require.NoError(t, err)
	require.True(t, receipt.Closed)
	require.Equal(t, sale.StateClosed, h.status().State)
	h.requireValue(escrow, ether(15))
	h.requireValue(contributorTwo, ether(95))

	require.ErrorIs(t, h.engine.SetCap(owner, ether(1)), sale.ErrUnsupportedPhase)
	require.ErrorIs(t, h.engine.BeginGracePeriod(owner), sale.ErrUnsupportedPhase)
}

func TestZeroFinalRevealClosesFilledSale(t *testing.T) {
	h := newHarness(t, generalConfig())
	salts := commitSteps(t, h, ether(10), big.NewInt(0))
	_, err := h.oracle.RevealStep(owner, ether(10), false, salts[0])
	require.NoError(t, err)

	receipt, err := h.engine.Contribute(contributorOne, ether(10))
	require.NoError(t, err)
	require.False(t, receipt.Closed)
	require.Equal(t, sale.StateGracePeriod, h.status().State)

	_, err = h.oracle.RevealStep(owner, big.NewInt(0), true, salts[1])
	require.NoError(t, err)
	require.Equal(t, sale.StateClosed, h.status().State)
	require.Zero(t, h.status().Remaining.Sign())
	_, err = h.engine.Contribute(contributorTwo, ether(1))
	require.ErrorIs(t, err, sale.ErrSaleClosed)

	closed, err := h.engine.SyncCeiling()
	require.NoError(t, err)
	require.True(t, closed)
	require.Len(t, h.rec.OfType(sale.EventTypeSaleClosed), 1)

	closed, err = h.engine.SyncCeiling()
	require.NoError(t, err)
	require.True(t, closed)
	require.Len(t, h.rec.OfType(sale.EventTypeSaleClosed), 1)
	h.requireValue(contributorTwo, ether(100))
}

func TestSyncCeilingLeavesHeadroomOpen(t *testing.T) {
	h := newHarness(t, generalConfig())
	salts := commitSteps(t, h, ether(10))
	_, err := h.oracle.RevealStep(owner, ether(10), true, salts[0])
	require.NoError(t, err)

	closed, err := h.engine.SyncCeiling()
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, sale.StateOpen, h.status().State)
	require.Empty(t, h.rec.OfType(sale.EventTypeSaleClosed))

	presale := newHarness(t, presaleConfig())
	closed, err = presale.engine.SyncCeiling()
	require.NoError(t, err)
	require.False(t, closed)
}

func TestGraceFromPendingOpensSale(t *testing.T) {
	cfg := presaleConfig()
	cfg.Begin = 1_000
	h := newHarness(t, cfg)

	h.now = 999
	require.ErrorIs(t, h.engine.BeginGracePeriod(owner), sale.ErrSaleNotStarted)
	require.Empty(t, h.rec.OfType(sale.EventTypeSaleOpened))

	h.now = 1_500
	require.NoError(t, h.engine.BeginGracePeriod(owner))
	require.Len(t, h.rec.OfType(sale.EventTypeSaleOpened), 1)
	require.Len(t, h.rec.OfType(sale.EventTypeGraceStarted), 1)
	require.Equal(t, sale.StateGracePeriod, h.status().State)
}

func TestGeneralSaleHardCapCloses(t *testing.T) {
	cfg := generalConfig()
	cfg.Cap = ether(3)
	h := newHarness(t, cfg)
	salts := commitSteps(t, h, ether(10))
	_, err := h.oracle.RevealStep(owner, ether(10), true, salts[0])
	require.NoError(t, err)

	receipt, err := h.engine.Contribute(contributorOne, ether(4))
	require.NoError(t, err)
	require.Equal(t, ether(3).String(), receipt.Accepted.String())
	require.True(t, receipt.Closed)
}

func TestCapInvariantUnderRandomTraffic(t *testing.T) {
	h := newHarness(t, presaleConfig())
	require.NoError(t, h.engine.SetCap(owner, ether(60)))
	require.NoError(t, h.mgr.Fund(contributorOne, ether(10_000)))
	rng := rand.New(rand.NewSource(42))

	closed := false
	for i := 0; i < 200; i++ {
		if rng.Intn(5) == 0 {
			raise := new(big.Int).Add(h.status().Cap, ether(int64(rng.Intn(20))))
			err := h.engine.SetCap(owner, raise)
			if closed {
				require.ErrorIs(t, err, sale.ErrSaleClosed)
			}
		}
		before := h.status()
		_, err := h.engine.Contribute(contributorOne, ether(int64(25+rng.Intn(20))))
		after := h.status()
		require.LessOrEqual(t, after.CumulativePaid.Cmp(after.Cap), 0)
		if err != nil {
			require.Equal(t, before.CumulativePaid.String(), after.CumulativePaid.String())
		}
		if closed {
			require.ErrorIs(t, err, sale.ErrSaleClosed)
		}
		if after.CumulativePaid.Cmp(after.Cap) == 0 && after.State == sale.StateClosed {
			closed = true
		}
	}
	require.True(t, closed)
}
