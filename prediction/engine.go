// Package prediction runs the locally controlled entity ahead of the server
// and corrects it when an authoritative state disagrees.
package prediction

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/ticks"
)

// ErrRollbackBufferExhausted reports a confirmed state too old to replay
// from. The engine snaps to it instead.
var ErrRollbackBufferExhausted = errors.New("rollback buffer exhausted")

// Inputs is the local input history replayed during a rollback.
type Inputs interface {
	Actions(tick netconfig.Tick) (netconfig.ActionState, bool)
	Oldest() (netconfig.Tick, bool)
}

type Outcome uint8

const (
	// Initialized: the first confirmed state seeded the engine.
	Initialized Outcome = iota + 1
	// Matched: the prediction for the confirmed tick was within tolerance.
	Matched
	// RolledBack: the engine resimulated from the confirmed tick.
	RolledBack
	// Snapped: the engine jumped to the confirmed state without a replay.
	Snapped
)

func (o Outcome) String() string {
	switch o {
	case Initialized:
		return "initialized"
	case Matched:
		return "matched"
	case RolledBack:
		return "rolled-back"
	case Snapped:
		return "snapped"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

type Stats struct {
	Predicted int
	Matched   int
	Rollbacks int
	Exhausted int
}

type Options struct {
	Level    *movement.Level
	Tuning   movement.Tuning
	TickRate int
	// History is how many predicted ticks are retained for comparison.
	History int
	// Epsilon is the tolerance below which a confirmed state is treated as
	// equal to the prediction.
	Epsilon   float64
	Smoothing time.Duration
	Logger    *log.Logger
}

// Engine owns the predicted state of the local entity.
type Engine struct {
	level   *movement.Level
	tuning  movement.Tuning
	dt      float64
	epsilon float64
	inputs  Inputs
	logger  *log.Logger

	history     *ticks.Buffer[movement.State]
	current     movement.State
	tick        netconfig.Tick
	initialized bool

	smoother *Smoother
	stats    Stats
}

func NewEngine(inputs Inputs, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 64
	}
	if opts.History <= 0 {
		opts.History = 128
	}
	return &Engine{
		level:    opts.Level,
		tuning:   opts.Tuning,
		dt:       1 / float64(opts.TickRate),
		epsilon:  opts.Epsilon,
		inputs:   inputs,
		logger:   opts.Logger,
		history:  ticks.NewBuffer[movement.State](opts.History),
		smoother: NewSmoother(opts.Smoothing),
	}
}

// Initialized reports whether a confirmed state has seeded the engine.
func (e *Engine) Initialized() bool {
	return e.initialized
}

// Tick returns the tick of the current predicted state.
func (e *Engine) Tick() netconfig.Tick {
	return e.tick
}

// State returns the current predicted state.
func (e *Engine) State() movement.State {
	return e.current
}

// StateAt returns the predicted state retained for tick.
func (e *Engine) StateAt(tick netconfig.Tick) (movement.State, bool) {
	return e.history.Get(tick)
}

// Smoother returns the cosmetic correction layer.
func (e *Engine) Smoother() *Smoother {
	return e.smoother
}

func (e *Engine) Stats() Stats {
	return e.stats
}

// Predict advances the prediction to tick, applying actions on that tick.
// Skipped ticks are filled from the input history.
func (e *Engine) Predict(tick netconfig.Tick, actions netconfig.ActionState) movement.State {
	if !e.initialized || tick <= e.tick {
		return e.current
	}
	for t := e.tick + 1; t < tick; t++ {
		e.advance(t, e.actionsAt(t, actions))
	}
	e.advance(tick, actions)
	e.stats.Predicted++
	return e.current
}

func (e *Engine) advance(tick netconfig.Tick, actions netconfig.ActionState) {
	e.current = movement.Step(e.level, e.tuning, e.current, actions, e.dt)
	e.tick = tick
	e.history.Put(tick, e.current)
}

// actionsAt reads the recorded input of tick, falling back to fallback.
func (e *Engine) actionsAt(tick netconfig.Tick, fallback netconfig.ActionState) netconfig.ActionState {
	if a, ok := e.inputs.Actions(tick); ok {
		return a
	}
	return fallback
}

// Reconcile compares the authoritative state of tick with what was
// predicted for it. now is the client's current tick, used when the engine
// has not been seeded yet.
func (e *Engine) Reconcile(tick netconfig.Tick, confirmed movement.State, now netconfig.Tick) (Outcome, error) {
	if !e.initialized {
		e.initialized = true
		e.history.Clear()
		if now < tick {
			now = tick
		}
		e.tick = now
		e.Resimulate(tick, confirmed)
		return Initialized, nil
	}

	if tick > e.tick {
		// The client clock fell behind the server; nothing to compare with.
		e.logger.Printf("[prediction] confirmed tick %d ahead of predicted tick %d, resetting", tick, e.tick)
		e.history.Clear()
		e.smoother.Reset()
		e.current, e.tick = confirmed, tick
		e.history.Put(tick, confirmed)
		return Snapped, nil
	}

	predicted, ok := e.history.Get(tick)
	oldest, haveInputs := e.inputs.Oldest()
	if !ok || !haveInputs || oldest > tick+1 {
		e.smoother.Reset()
		e.Resimulate(tick, confirmed)
		e.stats.Exhausted++
		return Snapped, fmt.Errorf("confirmed tick %d: %w", tick, ErrRollbackBufferExhausted)
	}

	if predicted.Within(confirmed, e.epsilon) {
		e.stats.Matched++
		return Matched, nil
	}

	before := e.current.Position
	e.Resimulate(tick, confirmed)
	e.smoother.Add(before.Sub(e.current.Position))
	e.stats.Rollbacks++
	e.logger.Printf("[prediction] rollback at tick %d, replayed %d ticks", tick, e.tick-tick)
	return RolledBack, nil
}

// Resimulate resets to confirmed at tick and replays the retained inputs up
// to the current predicted tick. A tick with no recorded input holds the
// previous one, as the server does.
func (e *Engine) Resimulate(tick netconfig.Tick, confirmed movement.State) {
	e.history.Put(tick, confirmed)
	held, _ := e.inputs.Actions(tick)
	s := confirmed
	for t := tick + 1; t <= e.tick; t++ {
		held = e.actionsAt(t, held)
		s = movement.Step(e.level, e.tuning, s, held, e.dt)
		e.history.Put(t, s)
	}
	e.current = s
	if e.tick < tick {
		e.tick = tick
	}
}

// Update advances the cosmetic smoothing by dt seconds.
func (e *Engine) Update(dt float64) {
	e.smoother.Update(dt)
}

// RenderState returns the predicted state with the smoothing offset applied.
func (e *Engine) RenderState() movement.State {
	s := e.current
	s.Position = s.Position.Add(e.smoother.Offset())
	return s
}
