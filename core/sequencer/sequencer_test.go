package sequencer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"crowdsale/core/events"
	"crowdsale/core/state"
	"crowdsale/storage"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newTestSequencer(t *testing.T) (*Sequencer, *state.Manager, *storage.MemDB, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	mgr := state.NewManager(db)
	rec := &events.Recorder{}
	seq := New(mgr, rec)
	mgr.SetEmitter(seq.Emitter())
	return seq, mgr, db, rec
}

func TestApplyCommitsAndPublishes(t *testing.T) {
	seq, mgr, db, rec := newTestSequencer(t)

	err := seq.Apply(context.Background(), "fund", func() error {
		return mgr.Fund(account, big.NewInt(10))
	})
	require.NoError(t, err)
	require.NotZero(t, db.Len())
	require.Len(t, rec.OfType(events.TypeTransfer), 1)
	require.Equal(t, uint64(1), seq.Applied())
}

func TestApplyDiscardsFailedCall(t *testing.T) {
	seq, mgr, db, rec := newTestSequencer(t)
	var observed []error
	seq.SetObserver(func(op string, _ time.Duration, err error) { observed = append(observed, err) })

	boom := errors.New("boom")
	err := seq.Apply(context.Background(), "fund", func() error {
		if err := mgr.Fund(account, big.NewInt(10)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, db.Len())
	require.Empty(t, rec.Events())
	require.Zero(t, seq.Applied())
	require.Len(t, observed, 1)

	balance, err := mgr.ValueBalance(account)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestApplyRespectsCancelledContext(t *testing.T) {
	seq, _, _, _ := newTestSequencer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := seq.Apply(ctx, "noop", func() error { called = true; return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestApplySerialisesConcurrentCallers(t *testing.T) {
	seq, mgr, _, _ := newTestSequencer(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, seq.Apply(context.Background(), "fund", func() error {
				return mgr.Fund(account, big.NewInt(1))
			}))
		}()
	}
	wg.Wait()

	var balance *big.Int
	require.NoError(t, seq.View(func() error {
		var err error
		balance, err = mgr.ValueBalance(account)
		return err
	}))
	require.Equal(t, int64(32), balance.Int64())
	require.Equal(t, uint64(32), seq.Applied())
}
