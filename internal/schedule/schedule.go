package schedule

import (
	"fmt"
	"sort"
)

// RawRecord is one cue as returned by the analysis backend.
type RawRecord struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	BodyPart  string `json:"body_part"`
}

// ActionEvent is a validated cue tied to a playback offset.
type ActionEvent struct {
	Offset   float64 `json:"offset"`
	Action   string  `json:"action"`
	BodyPart string  `json:"bodyPart"`
}

// WireMessage is the string pushed to the live sink.
func (e ActionEvent) WireMessage() string {
	return fmt.Sprintf("%s-%s", e.Action, e.BodyPart)
}

// Schedule is an immutable, offset-ordered list of cues. Build one with Parse
// or New; a new video gets a new Schedule.
type Schedule struct {
	events []ActionEvent
}

// New builds a Schedule from already validated events, stable-sorting them by offset.
func New(events []ActionEvent) Schedule {
	sorted := make([]ActionEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})
	return Schedule{events: sorted}
}

func (s Schedule) Len() int { return len(s.events) }

func (s Schedule) At(i int) ActionEvent { return s.events[i] }

// Events returns a copy of the ordered cues.
func (s Schedule) Events() []ActionEvent {
	out := make([]ActionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// FirstAfter returns the index of the first cue whose offset is strictly greater than t,
// or Len() when there is none.
func (s Schedule) FirstAfter(t float64) int {
	return sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Offset > t
	})
}
