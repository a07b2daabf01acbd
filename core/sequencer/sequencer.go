package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crowdsale/core/events"
)

var errNilState = errors.New("sequencer: state not configured")

// Committer persists or drops the writes made by a call.
type Committer interface {
	Commit() error
	Discard()
}

// Observer receives the outcome of every applied call.
type Observer func(op string, duration time.Duration, err error)

// Sequencer gives calls a single total order. Each call runs to completion
// under the lock; its writes are committed and its events published only when
// it succeeds.
type Sequencer struct {
	mu       sync.Mutex
	state    Committer
	buffer   *events.Buffer
	sink     events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	applied  uint64
}

// New returns a sequencer committing state and publishing to sink.
func New(state Committer, sink events.Emitter) *Sequencer {
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	return &Sequencer{
		state:  state,
		buffer: events.NewBuffer(),
		sink:   sink,
		logger: slog.Default(),
		tracer: otel.Tracer("crowdsale/sequencer"),
	}
}

// SetLogger overrides the logger.
func (s *Sequencer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetObserver installs a callback invoked after every call.
func (s *Sequencer) SetObserver(observer Observer) { s.observer = observer }

// Emitter is the sink engines must emit into so their events are held until
// the call commits.
func (s *Sequencer) Emitter() events.Emitter { return s.buffer }

// Applied reports the number of committed calls.
func (s *Sequencer) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Apply runs fn as one atomic call.
func (s *Sequencer) Apply(ctx context.Context, op string, fn func() error) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("sequencer.op", op)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.run(op, fn)
	if s.observer != nil {
		s.observer(op, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("call rejected", slog.String("op", op), slog.Any("error", err))
		return err
	}
	span.SetAttributes(attribute.Int64("sequencer.height", int64(s.applied)))
	span.SetStatus(codes.Ok, "committed")
	return nil
}

func (s *Sequencer) run(op string, fn func() error) error {
	if err := fn(); err != nil {
		s.state.Discard()
		s.buffer.Reset()
		return err
	}
	if err := s.state.Commit(); err != nil {
		s.state.Discard()
		s.buffer.Reset()
		s.logger.Error("commit failed", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("sequencer: commit %s: %w", op, err)
	}
	s.applied++
	s.buffer.Flush(s.sink)
	return nil
}

// View runs a read under the call lock so it never observes a call in flight.
func (s *Sequencer) View(fn func() error) error {
	if s == nil {
		return errNilState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
