package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/config"
	"crowdsale/core/events"
	"crowdsale/core/sequencer"
	"crowdsale/core/state"
	"crowdsale/native/affiliate"
	"crowdsale/native/ceiling"
	"crowdsale/native/sale"
	"crowdsale/observability"
	"crowdsale/storage"
)

var (
	// ErrUnknownPhase is returned for sale phases other than presale and general.
	ErrUnknownPhase = errors.New("saled: unknown sale phase")
	// ErrUnauthorized is returned when a controller-only call has another caller.
	ErrUnauthorized = errors.New("saled: caller is not the controller")
)

// Node owns the sale state and serialises every mutation through a sequencer.
// Reads run under the same lock so they never observe a call in flight.
type Node struct {
	cfg        *config.Config
	controller common.Address
	state      *state.Manager
	seq        *sequencer.Sequencer
	ledger     *state.Ledger
	presale    *sale.Engine
	general    *sale.Engine
	oracle     *ceiling.Oracle
	registry   *affiliate.Registry
	logger     *slog.Logger
	metrics    *observability.SaleMetrics
}

// New wires the engines over db. Events of committed calls are published to sink.
func New(ctx context.Context, cfg *config.Config, db storage.Database, sink events.Emitter, logger *slog.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("saled: sale configuration required")
	}
	if db == nil {
		return nil, fmt.Errorf("saled: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	controller, err := cfg.ControllerAddress()
	if err != nil {
		return nil, fmt.Errorf("saled: controller: %w", err)
	}
	presaleCfg, err := cfg.SaleConfig(sale.PhasePresale)
	if err != nil {
		return nil, fmt.Errorf("saled: presale: %w", err)
	}
	generalCfg, err := cfg.SaleConfig(sale.PhaseGeneral)
	if err != nil {
		return nil, fmt.Errorf("saled: general sale: %w", err)
	}
	calc, err := cfg.AffiliateCalculator()
	if err != nil {
		return nil, fmt.Errorf("saled: affiliate: %w", err)
	}

	n := &Node{
		cfg:        cfg,
		controller: controller,
		state:      state.NewManager(db),
		logger:     logger,
		metrics:    observability.Sale(),
	}
	n.seq = sequencer.New(n.state, sink)
	n.seq.SetLogger(logger)
	n.seq.SetObserver(n.metrics.ObserveCall)
	emitter := n.seq.Emitter()
	n.state.SetEmitter(emitter)

	if err := n.seq.Apply(ctx, "token.register", func() error {
		if n.state.TokenExists(cfg.Token) {
			return nil
		}
		return n.state.RegisterToken(cfg.Token, cfg.TokenName, cfg.TokenDecimals)
	}); err != nil {
		return nil, fmt.Errorf("saled: register token: %w", err)
	}
	n.ledger, err = n.state.Ledger(cfg.Token)
	if err != nil {
		return nil, err
	}

	n.registry = affiliate.NewRegistry(controller, calc)
	n.registry.SetState(n.state)
	n.registry.SetEmitter(emitter)

	n.oracle = ceiling.NewOracle(cfg.CeilingName, controller)
	n.oracle.SetState(n.state)
	n.oracle.SetEmitter(emitter)

	if n.presale, err = n.newEngine(presaleCfg, emitter); err != nil {
		return nil, err
	}
	if n.general, err = n.newEngine(generalCfg, emitter); err != nil {
		return nil, err
	}
	n.general.SetCeiling(n.oracle)

	for _, phase := range []sale.Phase{sale.PhasePresale, sale.PhaseGeneral} {
		n.recordStatus(phase)
	}
	return n, nil
}

func (n *Node) newEngine(cfg sale.Config, emitter events.Emitter) (*sale.Engine, error) {
	engine, err := sale.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("saled: %s engine: %w", cfg.Phase, err)
	}
	engine.SetState(n.state)
	engine.SetEmitter(emitter)
	engine.SetVault(n.state)
	engine.SetLedger(n.ledger)
	engine.SetTrustee(n.ledger)
	engine.SetAffiliates(n.registry)
	return engine, nil
}

func (n *Node) engine(phase sale.Phase) (*sale.Engine, error) {
	switch phase {
	case sale.PhasePresale:
		return n.presale, nil
	case sale.PhaseGeneral:
		return n.general, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
}

// Controller returns the address allowed to run controller-only calls.
func (n *Node) Controller() common.Address { return n.controller }

// Token returns the credited token symbol.
func (n *Node) Token() string { return n.cfg.Token }

// EtherPeggedValue returns the USD price of one ether used by amount parsing.
func (n *Node) EtherPeggedValue() uint64 { return n.cfg.EtherPeggedValue }

// Applied reports the number of committed calls.
func (n *Node) Applied() uint64 { return n.seq.Applied() }

// SetNowFunc overrides the clock of every time-aware component.
func (n *Node) SetNowFunc(now func() int64) {
	n.presale.SetNowFunc(now)
	n.general.SetNowFunc(now)
	n.registry.SetNowFunc(now)
}

// Contribute offers value from sender to the sale of phase. A zero referrer
// means no affiliate.
func (n *Node) Contribute(ctx context.Context, phase sale.Phase, sender common.Address, value *big.Int, referrer common.Address) (*sale.Contribution, error) {
	engine, err := n.engine(phase)
	if err != nil {
		return nil, err
	}
	var receipt *sale.Contribution
	err = n.seq.Apply(ctx, "contribute."+string(phase), func() error {
		var err error
		receipt, err = engine.ContributeWithAffiliate(sender, value, referrer)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.recordStatus(phase)
	n.logger.Info("contribution accepted",
		slog.String("sale", string(phase)),
		slog.String("sender", sender.Hex()),
		slog.String("accepted", receipt.Accepted.String()),
		slog.String("refunded", receipt.Refunded.String()),
		slog.Bool("closed", receipt.Closed))
	return receipt, nil
}

// SetPresaleCap replaces the presale cap.
func (n *Node) SetPresaleCap(ctx context.Context, caller common.Address, newCap *big.Int) error {
	err := n.seq.Apply(ctx, "presale.cap", func() error {
		return n.presale.SetCap(caller, newCap)
	})
	if err != nil {
		return err
	}
	n.recordStatus(sale.PhasePresale)
	return nil
}

// BeginPresaleGrace moves the presale into its grace period.
func (n *Node) BeginPresaleGrace(ctx context.Context, caller common.Address) error {
	err := n.seq.Apply(ctx, "presale.grace", func() error {
		return n.presale.BeginGracePeriod(caller)
	})
	if err != nil {
		return err
	}
	n.recordStatus(sale.PhasePresale)
	return nil
}

// CommitCeiling appends commitment hashes to the ceiling schedule.
func (n *Node) CommitCeiling(ctx context.Context, caller common.Address, hashes []common.Hash) error {
	return n.seq.Apply(ctx, "ceiling.commit", func() error {
		return n.oracle.Commit(caller, hashes)
	})
}

// RevealCeiling reveals the next commitment and returns the new cap.
func (n *Node) RevealCeiling(ctx context.Context, caller common.Address, delta *big.Int, last bool, salt common.Hash) (*big.Int, error) {
	var capValue *big.Int
	err := n.seq.Apply(ctx, "ceiling.reveal", func() error {
		var err error
		capValue, err = n.oracle.RevealStep(caller, delta, last, salt)
		if err != nil {
			return err
		}
		_, err = n.general.SyncCeiling()
		return err
	})
	if err != nil {
		return nil, err
	}
	n.recordStatus(sale.PhaseGeneral)
	return capValue, nil
}

// RegisterAffiliate approves addr as a referrer.
func (n *Node) RegisterAffiliate(ctx context.Context, caller, addr common.Address) (*affiliate.Affiliate, error) {
	var entry *affiliate.Affiliate
	err := n.seq.Apply(ctx, "affiliate.register", func() error {
		var err error
		entry, err = n.registry.Register(caller, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Deposit credits value that arrived for to outside the sale, making it
// available for contributions.
func (n *Node) Deposit(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if caller != n.controller {
		return ErrUnauthorized
	}
	return n.seq.Apply(ctx, "account.deposit", func() error {
		return n.state.Fund(to, amount)
	})
}

// SaleStatus reports the sale of phase.
func (n *Node) SaleStatus(phase sale.Phase) (*sale.Status, error) {
	engine, err := n.engine(phase)
	if err != nil {
		return nil, err
	}
	var status *sale.Status
	err = n.seq.View(func() error {
		var err error
		status, err = engine.Status()
		return err
	})
	return status, err
}

// CeilingStatus reports the dynamic ceiling.
func (n *Node) CeilingStatus() (ceiling.Status, error) {
	var status ceiling.Status
	err := n.seq.View(func() error {
		var err error
		status, err = n.oracle.Status()
		return err
	})
	return status, err
}

// Affiliate returns the registry entry of addr.
func (n *Node) Affiliate(addr common.Address) (*affiliate.Affiliate, bool, error) {
	var (
		entry *affiliate.Affiliate
		ok    bool
	)
	err := n.seq.View(func() error {
		var err error
		entry, ok, err = n.registry.Get(addr)
		return err
	})
	return entry, ok, err
}

// AffiliateTier reports the bonus tier a referral to addr would earn now.
func (n *Node) AffiliateTier(addr common.Address) (affiliate.Tier, uint64, error) {
	var (
		tier  affiliate.Tier
		bonus uint64
	)
	err := n.seq.View(func() error {
		volume, err := n.registry.ReferredVolume(addr)
		if err != nil {
			return err
		}
		calc := n.registry.Calculator()
		tier = calc.TierFor(volume)
		bonus = calc.BonusBps(tier)
		return nil
	})
	return tier, bonus, err
}

// Account returns the balances of addr.
func (n *Node) Account(addr common.Address) (*state.Account, error) {
	var account *state.Account
	err := n.seq.View(func() error {
		var err error
		account, err = n.state.Account(addr, n.cfg.Token)
		return err
	})
	return account, err
}

func (n *Node) recordStatus(phase sale.Phase) {
	status, err := n.SaleStatus(phase)
	if err != nil {
		n.logger.Warn("sale status unavailable", slog.String("sale", string(phase)), slog.Any("error", err))
		return
	}
	n.metrics.RecordSale(string(phase), uint8(status.State), status.CumulativePaid, status.Remaining)
}
