package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unitroute/unitroute/internal/annotations"
	"github.com/unitroute/unitroute/internal/domain"
	"github.com/unitroute/unitroute/internal/dynamic"
	"github.com/unitroute/unitroute/internal/logger"
	"github.com/unitroute/unitroute/internal/output"
	"github.com/unitroute/unitroute/internal/state"
)

// maxRetryDelay caps the per-unit backoff after failed settles.
const maxRetryDelay = 30 * time.Second

// Inspector queries a unit's current state. Implemented by the bus
// connector; faked in tests.
type Inspector interface {
	Inspect(ctx context.Context, name string) (*domain.UnitSnapshot, error)
}

// Syncer applies a unit's document to the filesystem. Implemented by
// output.Synchronizer.
type Syncer interface {
	Apply(unit string, doc *dynamic.Document, lastHash string) (output.Result, error)
}

// Engine is the top-level driver: it consumes the connector's event
// stream, coalesces bursts per unit behind a settle window, and runs
// inspect -> parse -> build -> synchronize for each settled unit.
//
// All unit and output-record state lives in loop-owned tables; settles
// run on a bounded worker semaphore and report back as messages, so the
// same unit is never processed concurrently with itself while different
// units may overlap.
type Engine struct {
	inspector Inspector
	syncer    Syncer
	log       logger.Logger

	window time.Duration
	tables *state.Tables

	events   <-chan domain.Event
	settleCh chan settleMsg
	resultCh chan settleResult
	workers  chan struct{}
	done     chan struct{}
}

// settleMsg is one timer fire. The generation pins it to the arm that
// created it; a fire from an older arm is stale.
type settleMsg struct {
	unit string
	gen  int
}

type settleResult struct {
	unit string
	res  output.Result
	err  error
}

func New(
	events <-chan domain.Event,
	inspector Inspector,
	syncer Syncer,
	log logger.Logger,
	window time.Duration,
	workers int,
) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		inspector: inspector,
		syncer:    syncer,
		log:       log,
		window:    window,
		tables:    state.NewTables(),
		events:    events,
		settleCh:  make(chan settleMsg),
		resultCh:  make(chan settleResult),
		workers:   make(chan struct{}, workers),
		done:      make(chan struct{}),
	}
}

// Run drives the loop until ctx is canceled or the event stream closes.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.tables.StopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-e.events:
			if !ok {
				return nil
			}
			e.handleEvent(ctx, ev)

		case msg := <-e.settleCh:
			e.settle(ctx, msg)

		case res := <-e.resultCh:
			e.finish(ctx, res)
		}
	}
}

// handleEvent runs the per-unit state machine transition for one bus
// event.
func (e *Engine) handleEvent(ctx context.Context, ev domain.Event) {
	st := e.tables.Unit(ev.Unit)

	if ev.Kind == domain.UnitRemoved {
		st.Removed = true
		if st.Phase == state.Processing {
			st.Rearm = true
			return
		}
		// Deletion is unconditional and never debounced: a vanished
		// unit cannot be queried, so there is nothing to settle.
		if st.Timer != nil {
			st.Timer.Stop()
		}
		st.Phase = state.Processing
		e.dispatch(ctx, ev.Unit, true, e.tables.Record(ev.Unit))
		return
	}

	st.Removed = false
	if st.Phase == state.Processing {
		st.Rearm = true
		return
	}
	st.Phase = state.Pending
	e.arm(st, ev.Unit, e.window)
}

// arm (re)starts the settle timer, coalescing rapid event bursts for
// the unit into a single settle. Every arm bumps the generation and
// bakes it into the fire, so a previous timer that already went off and
// is blocked delivering its message cannot cut the fresh window short.
func (e *Engine) arm(st *state.UnitState, unit string, delay time.Duration) {
	if st.Timer != nil {
		st.Timer.Stop()
	}
	st.Gen++
	gen := st.Gen
	st.Timer = time.AfterFunc(delay, func() {
		select {
		case e.settleCh <- settleMsg{unit: unit, gen: gen}:
		case <-e.done:
		}
	})
}

// settle moves a unit whose window expired into Processing. Stale timer
// fires (the unit moved on or was re-armed in the meantime) are
// ignored.
func (e *Engine) settle(ctx context.Context, msg settleMsg) {
	st, ok := e.tables.Lookup(msg.unit)
	if !ok || st.Phase != state.Pending || msg.gen != st.Gen {
		return
	}
	st.Phase = state.Processing
	e.dispatch(ctx, msg.unit, st.Removed, e.tables.Record(msg.unit))
}

// dispatch hands one unit's settle to the worker pool. The removed flag
// and last-written hash are captured on the loop turn, so workers never
// touch the tables.
func (e *Engine) dispatch(ctx context.Context, unit string, removed bool, lastHash string) {
	go func() {
		select {
		case e.workers <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-e.workers }()

		res := settleResult{unit: unit}
		if removed {
			res.res, res.err = e.syncer.Apply(unit, nil, lastHash)
		} else {
			res.res, res.err = e.process(ctx, unit, lastHash)
		}

		select {
		case e.resultCh <- res:
		case <-ctx.Done():
		}
	}()
}

// process runs the translation pipeline for one settled unit.
func (e *Engine) process(ctx context.Context, unit string, lastHash string) (output.Result, error) {
	snap, err := e.inspector.Inspect(ctx, unit)
	if errors.Is(err, domain.ErrUnitNotFound) {
		// Lost the race with a removal; same outcome.
		return e.syncer.Apply(unit, nil, lastHash)
	}
	if err != nil {
		return output.Result{}, fmt.Errorf("inspect %s: %w", unit, err)
	}

	frag, diags := annotations.Parse(snap.Description)
	e.logDiagnostics(unit, diags)

	doc, buildDiags := dynamic.Build(frag, snap)
	e.logDiagnostics(unit, buildDiags)

	return e.syncer.Apply(unit, doc, lastHash)
}

// finish applies a worker's result on the loop turn: update the output
// record, clear or re-arm the state machine, schedule retries.
func (e *Engine) finish(ctx context.Context, res settleResult) {
	st, ok := e.tables.Lookup(res.unit)
	if !ok {
		return
	}

	if res.err != nil {
		st.Retries++
		delay := retryDelay(e.window, st.Retries)
		e.log.Warn("settle failed, scheduling retry",
			logger.String("unit", res.unit),
			logger.Int("retries", st.Retries),
			logger.Duration("delay", delay),
			logger.Error(res.err))
		st.Rearm = false
		st.Phase = state.Pending
		e.arm(st, res.unit, delay)
		return
	}

	st.Retries = 0
	e.tables.SetRecord(res.unit, res.res.Hash)
	e.log.Debug("settle complete",
		logger.String("unit", res.unit),
		logger.Bool("changed", res.res.Changed))

	if st.Rearm {
		st.Rearm = false
		if st.Removed {
			st.Phase = state.Processing
			e.dispatch(ctx, res.unit, true, e.tables.Record(res.unit))
		} else {
			st.Phase = state.Pending
			e.arm(st, res.unit, e.window)
		}
		return
	}

	st.Phase = state.Idle
	if st.Removed && e.tables.Record(res.unit) == "" {
		// Unit is gone and its output is confirmed absent.
		e.tables.Drop(res.unit)
	}
}

// retryDelay doubles the settle window per consecutive failure, capped.
func retryDelay(window time.Duration, retries int) time.Duration {
	delay := window
	if delay <= 0 {
		delay = time.Millisecond
	}
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (e *Engine) logDiagnostics(unit string, diags []annotations.Diagnostic) {
	for _, d := range diags {
		e.log.Warn("dropped annotation entry",
			logger.String("unit", unit),
			logger.String("key", d.Key),
			logger.String("reason", d.Reason))
	}
}
