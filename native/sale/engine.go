package sale

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crowdsale/core/events"
	"crowdsale/core/types"
	"crowdsale/native/affiliate"
)

var (
	ErrSaleClosed        = errors.New("sale engine: sale closed")
	ErrSaleNotStarted    = errors.New("sale engine: sale not started")
	ErrSaleEnded         = errors.New("sale engine: sale window ended")
	ErrBelowMinimum      = errors.New("sale engine: contribution below minimum")
	ErrAboveMaximum      = errors.New("sale engine: contribution above maximum")
	ErrCapReached        = errors.New("sale engine: cap reached")
	ErrUnauthorized      = errors.New("sale engine: caller is not the controller")
	ErrCapBelowPaid      = errors.New("sale engine: cap below cumulative paid")
	ErrInsufficientFunds = errors.New("sale engine: insufficient value balance")
	ErrOverflow          = errors.New("sale engine: arithmetic overflow")
	ErrUnsupportedPhase  = errors.New("sale engine: operation not supported for phase")
	ErrAlreadyInGrace    = errors.New("sale engine: grace period already active")
	ErrInvalidAffiliate  = affiliate.ErrInvalidAffiliate

	errNilState       = errors.New("sale engine: state not configured")
	errNilVault       = errors.New("sale engine: value vault not configured")
	errNilLedger      = errors.New("sale engine: token ledger not configured")
	errNilTrustee     = errors.New("sale engine: trustee not configured")
	errNilCeiling     = errors.New("sale engine: ceiling oracle not configured")
	errInvalidAmount  = errors.New("sale engine: amount must be positive")
	errInvalidPhase   = errors.New("sale engine: unknown phase")
	errNoController   = errors.New("sale engine: controller required")
	errInvalidTiers   = errors.New("sale engine: tier limits must ascend")
	errInvalidPricing = errors.New("sale engine: pegged value and tokens per dollar required")
	errInvalidBounds  = errors.New("sale engine: maximum contribution below minimum")
	errInvalidWindow  = errors.New("sale engine: end precedes begin")
	errPresaleCap     = errors.New("sale engine: presale cap required")
)

type engineState interface {
	SaleRecordGet(phase string) (*Record, bool, error)
	SaleRecordPut(record *Record) error
	Snapshot() int
	RevertToSnapshot(id int)
}

// CeilingReader exposes the dynamic ceiling to the general sale.
type CeilingReader interface {
	CurrentCap() (*big.Int, error)
	Finalized() (bool, error)
}

// AffiliateBook validates referrals and accrues referred volume.
type AffiliateBook interface {
	Quote(sender, addr common.Address) (affiliate.Quote, error)
	RecordReferral(addr common.Address, amount *big.Int) error
}

// Engine accepts contributions for one sale phase, prices them against the
// tier schedule and fans value and credit out over the distribution table.
// Every operation either applies in full or leaves state and events untouched.
type Engine struct {
	cfg        Config
	state      engineState
	emitter    events.Emitter
	nowFn      func() int64
	ceiling    CeilingReader
	affiliates AffiliateBook
	vault      ValueVault
	ledger     TokenLedger
	trustee    Trustee
}

// NewEngine validates cfg and returns an engine for it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg.clone(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Phase.Valid() {
		return errInvalidPhase
	}
	if c.Controller == (common.Address{}) {
		return errNoController
	}
	if c.EtherPeggedValue == 0 || c.TokensPerDollarBps == 0 {
		return errInvalidPricing
	}
	if c.MinContribution != nil && c.MinContribution.Sign() < 0 {
		return errInvalidAmount
	}
	if c.MaxContribution != nil && c.MaxContribution.Sign() > 0 && c.MinContribution != nil &&
		c.MaxContribution.Cmp(c.MinContribution) < 0 {
		return errInvalidBounds
	}
	var previous *big.Int
	for _, tier := range c.Tiers {
		if tier.Limit == nil || tier.Limit.Sign() < 0 {
			return errInvalidTiers
		}
		if previous != nil && tier.Limit.Cmp(previous) <= 0 {
			return errInvalidTiers
		}
		previous = tier.Limit
	}
	if len(c.Tiers) > 3 {
		return errInvalidTiers
	}
	if c.Phase == PhasePresale && (c.Cap == nil || c.Cap.Sign() <= 0) {
		return errPresaleCap
	}
	if c.Cap != nil && c.Cap.Sign() < 0 {
		return errInvalidAmount
	}
	if c.End > 0 && c.End <= c.Begin {
		return errInvalidWindow
	}
	return c.Distribution.Validate()
}

func (c Config) clone() Config {
	out := c
	out.MinContribution = copyInt(c.MinContribution)
	out.MaxContribution = copyInt(c.MaxContribution)
	out.Cap = copyInt(c.Cap)
	out.Tiers = make([]PriceTier, len(c.Tiers))
	for i, tier := range c.Tiers {
		out.Tiers[i] = PriceTier{Limit: copyInt(tier.Limit), MultiplierBps: tier.MultiplierBps}
	}
	out.Distribution.Values = append([]ValueLeg(nil), c.Distribution.Values...)
	out.Distribution.Credits = append([]CreditLeg(nil), c.Distribution.Credits...)
	return out
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetCeiling wires the dynamic ceiling consulted by the general sale.
func (e *Engine) SetCeiling(ceiling CeilingReader) { e.ceiling = ceiling }

// SetAffiliates wires the affiliate registry.
func (e *Engine) SetAffiliates(book AffiliateBook) { e.affiliates = book }

// SetVault configures where value is debited and forwarded.
func (e *Engine) SetVault(vault ValueVault) { e.vault = vault }

// SetLedger configures the token ledger.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetTrustee configures the vesting trustee.
func (e *Engine) SetTrustee(trustee Trustee) { e.trustee = trustee }

// Config returns a copy of the sale configuration.
func (e *Engine) Config() Config { return e.cfg.clone() }

// Phase returns the phase served by the engine.
func (e *Engine) Phase() Phase { return e.cfg.Phase }

func (e *Engine) now() uint64 {
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// atomic runs fn inside a state snapshot. Events raised by fn reach the
// emitter only when fn succeeds.
func (e *Engine) atomic(fn func(buf *events.Buffer) error) error {
	if e.state == nil {
		return errNilState
	}
	snapshot := e.state.Snapshot()
	buf := events.NewBuffer()
	if err := fn(buf); err != nil {
		e.state.RevertToSnapshot(snapshot)
		buf.Reset()
		return err
	}
	buf.Flush(e.emitter)
	return nil
}

func emit(buf *events.Buffer, evt *types.Event) {
	buf.Emit(events.Wrap(evt))
}

func (e *Engine) loadRecord() (*Record, error) {
	record, ok, err := e.state.SaleRecordGet(string(e.cfg.Phase))
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		record = &Record{
			Phase: string(e.cfg.Phase),
			State: uint8(StateOpen),
			Cap:   copyInt(e.cfg.Cap),
		}
		if e.cfg.Phase == PhasePresale && e.cfg.Begin > 0 {
			record.State = uint8(StatePending)
		}
	}
	record.normalize()
	return record, nil
}

// effectiveCap reads the cap fresh for this call. The general sale is bound
// by the revealed ceiling and, when configured, the hard cap.
func (e *Engine) effectiveCap(record *Record) (*big.Int, bool, error) {
	if e.cfg.Phase == PhasePresale {
		return new(big.Int).Set(record.Cap), true, nil
	}
	if e.ceiling == nil {
		return nil, false, errNilCeiling
	}
	current, err := e.ceiling.CurrentCap()
	if err != nil {
		return nil, false, err
	}
	finalized, err := e.ceiling.Finalized()
	if err != nil {
		return nil, false, err
	}
	hardCap := e.cfg.Cap
	if hardCap != nil && hardCap.Sign() > 0 && hardCap.Cmp(current) <= 0 {
		return new(big.Int).Set(hardCap), true, nil
	}
	return current, finalized, nil
}

// Contribute accepts value from sender without an affiliate referral.
func (e *Engine) Contribute(sender common.Address, value *big.Int) (*Contribution, error) {
	return e.ContributeWithAffiliate(sender, value, common.Address{})
}

// ContributeWithAffiliate accepts value from sender. A non-zero affiliate must
// be a registered affiliate other than the sender.
func (e *Engine) ContributeWithAffiliate(sender common.Address, value *big.Int, referrer common.Address) (*Contribution, error) {
	if e == nil {
		return nil, errNilState
	}
	var receipt *Contribution
	err := e.atomic(func(buf *events.Buffer) error {
		var err error
		receipt, err = e.contribute(buf, sender, value, referrer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) contribute(buf *events.Buffer, sender common.Address, value *big.Int, referrer common.Address) (*Contribution, error) {
	if e.vault == nil {
		return nil, errNilVault
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if e.trustee == nil && e.cfg.Distribution.hasVestedLeg() {
		return nil, errNilTrustee
	}
	if value == nil || value.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	record, err := e.loadRecord()
	if err != nil {
		return nil, err
	}
	if State(record.State) == StateClosed {
		return nil, ErrSaleClosed
	}
	now := e.now()
	if e.cfg.Phase == PhasePresale {
		if now < e.cfg.Begin {
			return nil, ErrSaleNotStarted
		}
		if e.cfg.End > 0 && now >= e.cfg.End {
			return nil, ErrSaleEnded
		}
	}
	if State(record.State) == StatePending {
		record.State = uint8(StateOpen)
		record.OpenedAt = now
		emit(buf, stateEvent(EventTypeSaleOpened, e.cfg.Phase, record))
	}
	if e.cfg.MinContribution != nil && value.Cmp(e.cfg.MinContribution) < 0 {
		return nil, ErrBelowMinimum
	}
	if e.cfg.MaxContribution != nil && e.cfg.MaxContribution.Sign() > 0 && value.Cmp(e.cfg.MaxContribution) > 0 {
		return nil, ErrAboveMaximum
	}
	offered, err := toWord(value)
	if err != nil {
		return nil, err
	}

	capValue, closable, err := e.effectiveCap(record)
	if err != nil {
		return nil, err
	}
	capWord, err := toWord(capValue)
	if err != nil {
		return nil, err
	}
	paid, err := toWord(record.CumulativePaid)
	if err != nil {
		return nil, err
	}
	if capWord.Cmp(paid) <= 0 {
		if e.cfg.Phase == PhaseGeneral && closable {
			return nil, ErrSaleClosed
		}
		return nil, ErrCapReached
	}
	remaining := new(uint256.Int).Sub(capWord, paid)
	accepted := new(uint256.Int).Set(offered)
	if accepted.Gt(remaining) {
		accepted.Set(remaining)
	}
	excess := new(uint256.Int).Sub(offered, accepted)

	if e.cfg.Phase == PhaseGeneral && State(record.State) == StateGracePeriod {
		record.State = uint8(StateOpen)
		emit(buf, stateEvent(EventTypeGraceEnded, e.cfg.Phase, record))
	}

	var quoteAff affiliate.Quote
	if referrer != (common.Address{}) {
		if e.affiliates == nil {
			return nil, ErrInvalidAffiliate
		}
		quoteAff, err = e.affiliates.Quote(sender, referrer)
		if err != nil {
			return nil, err
		}
	}
	priced, err := e.cfg.price(record.CumulativePaid, accepted, quoteAff.BonusBps)
	if err != nil {
		return nil, err
	}
	values, err := e.cfg.Distribution.splitValue(accepted)
	if err != nil {
		return nil, err
	}
	credits, err := e.cfg.Distribution.splitCredit(priced.base)
	if err != nil {
		return nil, err
	}
	newPaid, overflow := new(uint256.Int).AddOverflow(paid, accepted)
	if overflow {
		return nil, ErrOverflow
	}

	balance, err := e.vault.ValueBalance(sender)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(value) < 0 {
		return nil, ErrInsufficientFunds
	}
	if err := e.vault.Withdraw(sender, value); err != nil {
		return nil, fmt.Errorf("sale engine: debit sender: %w", err)
	}
	if err := e.distribute(values, credits); err != nil {
		return nil, err
	}
	if !priced.contributor.IsZero() {
		if err := e.ledger.Mint(sender, priced.contributor.ToBig(), "contribution"); err != nil {
			return nil, fmt.Errorf("sale engine: contributor leg: %w", err)
		}
	}
	if !excess.IsZero() {
		if err := e.vault.Deposit(sender, excess.ToBig()); err != nil {
			return nil, fmt.Errorf("sale engine: refund: %w", err)
		}
	}
	if referrer != (common.Address{}) {
		if err := e.affiliates.RecordReferral(referrer, accepted.ToBig()); err != nil {
			return nil, err
		}
	}

	refunded, overflow := new(uint256.Int).AddOverflow(wordOrZero(record.Refunded), excess)
	if overflow {
		return nil, ErrOverflow
	}
	record.CumulativePaid = newPaid.ToBig()
	record.Refunded = refunded.ToBig()
	record.Contributions++
	if e.cfg.Phase == PhaseGeneral {
		record.Cap = new(big.Int).Set(capValue)
	}

	receipt := &Contribution{
		Phase:             e.cfg.Phase,
		Sender:            sender,
		Offered:           new(big.Int).Set(value),
		Accepted:          accepted.ToBig(),
		Refunded:          excess.ToBig(),
		Tier:              priced.tier,
		MultiplierBps:     priced.multiplierBps,
		BaseCredit:        priced.base.ToBig(),
		ContributorCredit: priced.contributor.ToBig(),
		AffiliateBonus:    priced.bonus.ToBig(),
		Affiliate:         referrer,
		AffiliateTier:     quoteAff.Tier,
		Values:            values,
		Credits:           credits,
		CumulativePaid:    new(big.Int).Set(record.CumulativePaid),
	}
	emit(buf, acceptedEvent(receipt))
	if !excess.IsZero() {
		emit(buf, refundEvent(e.cfg.Phase, sender, receipt.Refunded))
	}
	if newPaid.Eq(capWord) {
		if closable {
			record.State = uint8(StateClosed)
			record.ClosedAt = now
			receipt.Closed = true
			emit(buf, closedEvent(e.cfg.Phase, record))
		} else if State(record.State) != StateGracePeriod {
			record.State = uint8(StateGracePeriod)
			emit(buf, stateEvent(EventTypeGraceStarted, e.cfg.Phase, record))
		}
	}
	if err := e.state.SaleRecordPut(record); err != nil {
		return nil, err
	}
	return receipt, nil
}

func wordOrZero(v *big.Int) *uint256.Int {
	word, err := toWord(v)
	if err != nil {
		return new(uint256.Int)
	}
	return word
}

// SetCap replaces the presale cap. The cap may not drop below the amount
// already paid. Setting it equal to the amount paid leaves the sale open with
// no headroom until the cap is raised again.
func (e *Engine) SetCap(caller common.Address, newCap *big.Int) error {
	if e == nil {
		return errNilState
	}
	return e.atomic(func(buf *events.Buffer) error {
		if e.cfg.Phase != PhasePresale {
			return ErrUnsupportedPhase
		}
		if caller != e.cfg.Controller {
			return ErrUnauthorized
		}
		if newCap == nil || newCap.Sign() <= 0 {
			return errInvalidAmount
		}
		if _, err := toWord(newCap); err != nil {
			return err
		}
		record, err := e.loadRecord()
		if err != nil {
			return err
		}
		if State(record.State) == StateClosed {
			return ErrSaleClosed
		}
		if newCap.Cmp(record.CumulativePaid) < 0 {
			return ErrCapBelowPaid
		}
		previous := new(big.Int).Set(record.Cap)
		record.Cap = new(big.Int).Set(newCap)
		emit(buf, capUpdatedEvent(e.cfg.Phase, previous, record.Cap))
		if State(record.State) == StateGracePeriod {
			record.State = uint8(StateOpen)
			emit(buf, stateEvent(EventTypeGraceEnded, e.cfg.Phase, record))
		}
		return e.state.SaleRecordPut(record)
	})
}

// BeginGracePeriod flags an open presale as renegotiating its cap.
// Contributions are still accepted against the cap read at call time.
func (e *Engine) BeginGracePeriod(caller common.Address) error {
	if e == nil {
		return errNilState
	}
	return e.atomic(func(buf *events.Buffer) error {
		if e.cfg.Phase != PhasePresale {
			return ErrUnsupportedPhase
		}
		if caller != e.cfg.Controller {
			return ErrUnauthorized
		}
		record, err := e.loadRecord()
		if err != nil {
			return err
		}
		switch State(record.State) {
		case StateClosed:
			return ErrSaleClosed
		case StateGracePeriod:
			return ErrAlreadyInGrace
		case StatePending:
			if e.now() < e.cfg.Begin {
				return ErrSaleNotStarted
			}
			record.OpenedAt = e.now()
			emit(buf, stateEvent(EventTypeSaleOpened, e.cfg.Phase, record))
		}
		record.State = uint8(StateGracePeriod)
		emit(buf, stateEvent(EventTypeGraceStarted, e.cfg.Phase, record))
		return e.state.SaleRecordPut(record)
	})
}

// SyncCeiling closes a general sale whose cap can no longer grow and is
// fully paid. Reveals call it so a final step that adds no headroom still
// ends the sale. It reports whether the sale is closed.
func (e *Engine) SyncCeiling() (bool, error) {
	if e == nil {
		return false, errNilState
	}
	if e.cfg.Phase != PhaseGeneral {
		return false, nil
	}
	closed := false
	err := e.atomic(func(buf *events.Buffer) error {
		record, err := e.loadRecord()
		if err != nil {
			return err
		}
		if State(record.State) == StateClosed {
			closed = true
			return nil
		}
		capValue, closable, err := e.effectiveCap(record)
		if err != nil {
			return err
		}
		if !closable || record.CumulativePaid.Cmp(capValue) < 0 {
			return nil
		}
		record.State = uint8(StateClosed)
		record.ClosedAt = e.now()
		record.Cap = new(big.Int).Set(capValue)
		emit(buf, closedEvent(e.cfg.Phase, record))
		closed = true
		return e.state.SaleRecordPut(record)
	})
	if err != nil {
		return false, err
	}
	return closed, nil
}

// Status reports the sale as of now. The cap is read fresh, so a general sale
// reflects reveals made since the last contribution.
func (e *Engine) Status() (*Status, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadRecord()
	if err != nil {
		return nil, err
	}
	capValue, closable, err := e.effectiveCap(record)
	if err != nil {
		return nil, err
	}
	state := State(record.State)
	if state == StatePending && e.now() >= e.cfg.Begin {
		state = StateOpen
	}
	if e.cfg.Phase == PhaseGeneral && closable && record.CumulativePaid.Cmp(capValue) >= 0 {
		state = StateClosed
	}
	remaining := new(big.Int).Sub(capValue, record.CumulativePaid)
	if remaining.Sign() < 0 || state == StateClosed {
		remaining.SetInt64(0)
	}
	limits := make([]*big.Int, len(e.cfg.Tiers))
	for i, tier := range e.cfg.Tiers {
		limits[i] = copyInt(tier.Limit)
	}
	return &Status{
		Phase:           e.cfg.Phase,
		State:           state,
		Cap:             capValue,
		CumulativePaid:  copyInt(record.CumulativePaid),
		Remaining:       remaining,
		Refunded:        copyInt(record.Refunded),
		Contributions:   record.Contributions,
		MinContribution: copyInt(e.cfg.MinContribution),
		MaxContribution: copyInt(e.cfg.MaxContribution),
		TierLimits:      limits,
		Begin:           e.cfg.Begin,
		End:             e.cfg.End,
		ClosedAt:        record.ClosedAt,
	}, nil
}
