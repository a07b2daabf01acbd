package ceiling

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crowdsale/core/events"
	"crowdsale/core/types"
	"crowdsale/crypto"
)

var (
	ErrUnauthorized       = errors.New("ceiling oracle: caller is not the controller")
	ErrEmptyCommitments   = errors.New("ceiling oracle: no commitments supplied")
	ErrZeroCommitment     = errors.New("ceiling oracle: zero commitment hash")
	ErrNothingToReveal    = errors.New("ceiling oracle: no unrevealed commitment")
	ErrCommitmentMismatch = errors.New("ceiling oracle: reveal does not match next commitment")
	ErrFinalized          = errors.New("ceiling oracle: final step already revealed")
	ErrInvalidDelta       = errors.New("ceiling oracle: delta must be a 256-bit unsigned integer")
	ErrOverflow           = errors.New("ceiling oracle: cap overflow")

	errNilState = errors.New("ceiling oracle: state not configured")
)

type oracleState interface {
	CeilingRecordGet(name string) (*Record, bool, error)
	CeilingRecordPut(record *Record) error
}

// Oracle lets a single controller raise a sale cap in pre-committed steps. Each
// step is published as keccak256(delta, last, salt) and later revealed strictly
// in commit order.
type Oracle struct {
	name       string
	controller common.Address
	state      oracleState
	emitter    events.Emitter
}

// NewOracle constructs an oracle persisted under name.
func NewOracle(name string, controller common.Address) *Oracle {
	return &Oracle{
		name:       name,
		controller: controller,
		emitter:    events.NoopEmitter{},
	}
}

// SetState configures the persistence backend.
func (o *Oracle) SetState(state oracleState) { o.state = state }

// SetEmitter configures the event sink.
func (o *Oracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

// Name returns the storage name of the oracle.
func (o *Oracle) Name() string { return o.name }

// Controller returns the only identity allowed to commit and reveal.
func (o *Oracle) Controller() common.Address { return o.controller }

func (o *Oracle) emit(evt *types.Event) {
	if o == nil || evt == nil || o.emitter == nil {
		return
	}
	o.emitter.Emit(events.Wrap(evt))
}

func (o *Oracle) load() (*Record, error) {
	if o == nil || o.state == nil {
		return nil, errNilState
	}
	record, ok, err := o.state.CeilingRecordGet(o.name)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		return &Record{Name: o.name, Cap: big.NewInt(0)}, nil
	}
	if record.Cap == nil {
		record.Cap = big.NewInt(0)
	}
	return record, nil
}

// Commit appends hashes to the pending sequence.
func (o *Oracle) Commit(caller common.Address, hashes []common.Hash) error {
	record, err := o.load()
	if err != nil {
		return err
	}
	if caller != o.controller {
		return ErrUnauthorized
	}
	if len(hashes) == 0 {
		return ErrEmptyCommitments
	}
	if record.finalized() {
		return ErrFinalized
	}
	for _, hash := range hashes {
		if hash == (common.Hash{}) {
			return ErrZeroCommitment
		}
	}
	for _, hash := range hashes {
		record.Commitments = append(record.Commitments, Commitment{Hash: hash, Delta: big.NewInt(0)})
	}
	if err := o.state.CeilingRecordPut(record); err != nil {
		return err
	}
	o.emit(committedEvent(o.name, len(hashes), len(record.Commitments)))
	return nil
}

// RevealStep discloses the next committed step and raises the cap by delta. A
// failed reveal never moves the cursor.
func (o *Oracle) RevealStep(caller common.Address, delta *big.Int, last bool, salt common.Hash) (*big.Int, error) {
	record, err := o.load()
	if err != nil {
		return nil, err
	}
	if caller != o.controller {
		return nil, ErrUnauthorized
	}
	if record.finalized() {
		return nil, ErrFinalized
	}
	if record.Cursor >= uint64(len(record.Commitments)) {
		return nil, ErrNothingToReveal
	}
	hash, ok := crypto.CommitmentHash(delta, last, salt)
	if !ok {
		return nil, ErrInvalidDelta
	}
	next := &record.Commitments[record.Cursor]
	if hash != next.Hash {
		return nil, ErrCommitmentMismatch
	}
	current, overflow := uint256.FromBig(record.Cap)
	if overflow {
		return nil, ErrOverflow
	}
	step, _ := uint256.FromBig(delta)
	sum, overflow := new(uint256.Int).AddOverflow(current, step)
	if overflow {
		return nil, ErrOverflow
	}
	next.Revealed = true
	next.Delta = new(big.Int).Set(delta)
	next.Last = last
	index := record.Cursor
	record.Cursor++
	record.Cap = sum.ToBig()
	if err := o.state.CeilingRecordPut(record); err != nil {
		return nil, err
	}
	o.emit(revealedEvent(o.name, index, delta, record.Cap, last))
	return new(big.Int).Set(record.Cap), nil
}

// CurrentCap returns the sum of all revealed deltas.
func (o *Oracle) CurrentCap() (*big.Int, error) {
	record, err := o.load()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(record.Cap), nil
}

// Finalized reports whether the step flagged as last has been revealed.
func (o *Oracle) Finalized() (bool, error) {
	record, err := o.load()
	if err != nil {
		return false, err
	}
	return record.finalized(), nil
}

// Commitments returns a copy of the commitment sequence.
func (o *Oracle) Commitments() ([]Commitment, error) {
	record, err := o.load()
	if err != nil {
		return nil, err
	}
	return record.Clone().Commitments, nil
}

// Status returns a read-only summary.
func (o *Oracle) Status() (Status, error) {
	record, err := o.load()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Name:      o.name,
		Committed: uint64(len(record.Commitments)),
		Revealed:  record.Cursor,
		Cap:       new(big.Int).Set(record.Cap),
		Finalized: record.finalized(),
	}, nil
}

// CommitmentHash computes the commitment for a step. Operators use it to build
// the hashes passed to Commit.
func CommitmentHash(delta *big.Int, last bool, salt common.Hash) (common.Hash, error) {
	hash, ok := crypto.CommitmentHash(delta, last, salt)
	if !ok {
		return common.Hash{}, ErrInvalidDelta
	}
	return hash, nil
}
