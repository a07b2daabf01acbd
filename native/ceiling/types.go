package ceiling

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Commitment is one pre-committed cap increase. Delta and Last are only
// meaningful once Revealed is set.
type Commitment struct {
	Hash     common.Hash
	Revealed bool
	Delta    *big.Int
	Last     bool
}

// Record is the persisted oracle state.
type Record struct {
	Name        string
	Commitments []Commitment
	Cursor      uint64
	Cap         *big.Int
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := &Record{
		Name:        r.Name,
		Cursor:      r.Cursor,
		Cap:         new(big.Int),
		Commitments: make([]Commitment, len(r.Commitments)),
	}
	if r.Cap != nil {
		clone.Cap.Set(r.Cap)
	}
	for i, c := range r.Commitments {
		clone.Commitments[i] = Commitment{Hash: c.Hash, Revealed: c.Revealed, Last: c.Last, Delta: new(big.Int)}
		if c.Delta != nil {
			clone.Commitments[i].Delta.Set(c.Delta)
		}
	}
	return clone
}

func (r *Record) finalized() bool {
	if r == nil || r.Cursor == 0 || int(r.Cursor) > len(r.Commitments) {
		return false
	}
	return r.Commitments[r.Cursor-1].Last
}

// Status summarises the oracle for read-only callers.
type Status struct {
	Name      string
	Committed uint64
	Revealed  uint64
	Cap       *big.Int
	Finalized bool
}
