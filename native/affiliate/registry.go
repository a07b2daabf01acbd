package affiliate

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/core/events"
	"crowdsale/core/types"
)

var (
	ErrUnauthorized     = errors.New("affiliate registry: caller is not the controller")
	ErrInvalidAffiliate = errors.New("affiliate registry: invalid affiliate referral")
	ErrAlreadyExists    = errors.New("affiliate registry: affiliate already registered")
	ErrZeroAddress      = errors.New("affiliate registry: zero address")

	errNilState       = errors.New("affiliate registry: state not configured")
	errNilCalculator  = errors.New("affiliate registry: calculator not configured")
	errInvalidAmount  = errors.New("affiliate registry: amount must be positive")
	errVolumeOverflow = errors.New("affiliate registry: referred volume overflow")
)

var maxVolume = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type registryState interface {
	AffiliateGet(addr common.Address) (*Affiliate, bool, error)
	AffiliatePut(entry *Affiliate) error
}

// Registry tracks approved affiliates and the volume each has referred.
type Registry struct {
	state      registryState
	emitter    events.Emitter
	calc       *Calculator
	controller common.Address
	nowFn      func() int64
}

// NewRegistry constructs a registry administered by controller.
func NewRegistry(controller common.Address, calc *Calculator) *Registry {
	return &Registry{
		emitter:    events.NoopEmitter{},
		calc:       calc,
		controller: controller,
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the persistence backend.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event sink.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the clock for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	r.nowFn = now
}

// Calculator exposes the tier calculator.
func (r *Registry) Calculator() *Calculator {
	if r == nil {
		return nil
	}
	return r.calc
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || evt == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(events.Wrap(evt))
}

// Register approves an affiliate. Only the controller may call it.
func (r *Registry) Register(caller, addr common.Address) (*Affiliate, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if caller != r.controller {
		return nil, ErrUnauthorized
	}
	if addr == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if _, ok, err := r.state.AffiliateGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyExists
	}
	now := r.nowFn()
	if now < 0 {
		now = 0
	}
	entry := &Affiliate{
		Address:        addr,
		ReferredVolume: big.NewInt(0),
		RegisteredAt:   uint64(now),
	}
	if err := r.state.AffiliatePut(entry); err != nil {
		return nil, err
	}
	r.emit(registeredEvent(addr))
	return entry.Clone(), nil
}

// Get returns the registry entry for addr.
func (r *Registry) Get(addr common.Address) (*Affiliate, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	entry, ok, err := r.state.AffiliateGet(addr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return entry.Clone(), true, nil
}

// IsAffiliate reports whether addr is a registered affiliate.
func (r *Registry) IsAffiliate(addr common.Address) (bool, error) {
	_, ok, err := r.Get(addr)
	return ok, err
}

// ReferredVolume returns the cumulative volume referred by addr, zero when unknown.
func (r *Registry) ReferredVolume(addr common.Address) (*big.Int, error) {
	entry, ok, err := r.Get(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return entry.ReferredVolume, nil
}

// Quote validates a referral of sender by affiliate and returns the bonus
// applicable given the affiliate's volume so far. Self referrals and unknown
// affiliates are rejected.
func (r *Registry) Quote(sender, addr common.Address) (Quote, error) {
	if r == nil || r.state == nil {
		return Quote{}, errNilState
	}
	if r.calc == nil {
		return Quote{}, errNilCalculator
	}
	if addr == (common.Address{}) || addr == sender {
		return Quote{}, ErrInvalidAffiliate
	}
	entry, ok, err := r.state.AffiliateGet(addr)
	if err != nil {
		return Quote{}, err
	}
	if !ok || entry == nil {
		return Quote{}, ErrInvalidAffiliate
	}
	tier := r.calc.TierFor(entry.ReferredVolume)
	return Quote{Affiliate: addr, Tier: tier, BonusBps: r.calc.BonusBps(tier)}, nil
}

// RecordReferral accrues accepted volume to the affiliate.
func (r *Registry) RecordReferral(addr common.Address, amount *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	entry, ok, err := r.state.AffiliateGet(addr)
	if err != nil {
		return err
	}
	if !ok || entry == nil {
		return ErrInvalidAffiliate
	}
	if entry.ReferredVolume == nil {
		entry.ReferredVolume = big.NewInt(0)
	}
	volume := new(big.Int).Add(entry.ReferredVolume, amount)
	if volume.Cmp(maxVolume) > 0 {
		return errVolumeOverflow
	}
	entry.ReferredVolume = volume
	entry.Referrals++
	if err := r.state.AffiliatePut(entry); err != nil {
		return err
	}
	r.emit(referralEvent(entry, amount.String(), r.calc.TierFor(volume)))
	return nil
}
