package playback

import (
	"log/slog"

	"github.com/hapticdef/hapticdef/internal/schedule"
)

// Sink receives fired cues. Send must not block; an error means the cue is lost.
type Sink interface {
	Send(message string) error
}

type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// Cursor tracks dispatch progress through the armed schedule.
type Cursor struct {
	LastSampledTime  float64
	NextPendingIndex int
}

// Stats counts emissions since the engine was created. Fired counts cues the
// sink accepted; Dropped counts cues it refused.
type Stats struct {
	Fired   int `json:"fired"`
	Dropped int `json:"dropped"`
	Seeks   int `json:"seeks"`
}

// Engine fires schedule cues as playback time advances. It is driven by one
// sample at a time and is not safe for concurrent use: the owning session
// serializes every call, so Disarm returning means no further Send happens.
type Engine struct {
	clock    Clock
	sink     Sink
	state    State
	schedule schedule.Schedule
	cursor   Cursor
	stats    Stats
}

func NewEngine(clock Clock, sink Sink) *Engine {
	return &Engine{clock: clock, sink: sink}
}

// Arm replaces the current schedule and rewinds the cursor.
func (e *Engine) Arm(s schedule.Schedule) {
	e.schedule = s
	e.cursor = Cursor{}
	e.state = Armed
}

func (e *Engine) Disarm() {
	e.schedule = schedule.Schedule{}
	e.cursor = Cursor{}
	e.state = Idle
}

func (e *Engine) State() State { return e.state }

func (e *Engine) Cursor() Cursor { return e.cursor }

func (e *Engine) Stats() Stats { return e.stats }

// OnTick processes one media time sample and returns the cues the sink
// accepted for it. Dropped cues still advance the cursor. Seek samples reposition the cursor past every cue at or before the new
// time and fire nothing.
func (e *Engine) OnTick(current float64) []schedule.ActionEvent {
	if e.state != Armed {
		return nil
	}

	var fired []schedule.ActionEvent
	if e.clock.IsSeek(e.cursor.LastSampledTime, current) {
		e.cursor.NextPendingIndex = e.schedule.FirstAfter(current)
		e.stats.Seeks++
	} else {
		for e.cursor.NextPendingIndex < e.schedule.Len() {
			ev := e.schedule.At(e.cursor.NextPendingIndex)
			if ev.Offset > current {
				break
			}
			if e.emit(ev) {
				fired = append(fired, ev)
			}
			e.cursor.NextPendingIndex++
		}
	}

	e.cursor.LastSampledTime = current
	return fired
}

func (e *Engine) emit(ev schedule.ActionEvent) bool {
	if e.sink == nil {
		e.stats.Dropped++
		return false
	}
	if err := e.sink.Send(ev.WireMessage()); err != nil {
		e.stats.Dropped++
		slog.Debug("playback: cue dropped", "cue", ev.WireMessage(), "offset", ev.Offset, "error", err)
		return false
	}
	e.stats.Fired++
	return true
}
