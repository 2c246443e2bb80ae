package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hapticdef/hapticdef/internal/validate"
)

// ErrEmptySchedule is returned by Parse when no record survives validation.
// The accompanying Schedule is empty but usable: playback just fires nothing.
var ErrEmptySchedule = errors.New("schedule has no valid events")

var timestampPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ParseWarning describes a record that was dropped.
type ParseWarning struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("record %d (%q): %s", w.Index, w.Timestamp, w.Reason)
}

// ParseTimestamp converts "mm:ss" into whole seconds. Seconds must be 0-59.
func ParseTimestamp(s string) (int, error) {
	if !timestampPattern.MatchString(s) {
		return 0, fmt.Errorf("timestamp %q is not mm:ss", s)
	}
	minutes, _ := strconv.Atoi(s[:2])
	seconds, _ := strconv.Atoi(s[3:])
	if seconds > 59 {
		return 0, fmt.Errorf("timestamp %q has seconds out of range", s)
	}
	return minutes*60 + seconds, nil
}

// FormatTimestamp renders whole seconds as "mm:ss".
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Parse validates raw records into a Schedule. Malformed records are dropped and
// reported as warnings; the batch is never rejected because of a single record.
func Parse(raw []RawRecord) (Schedule, []ParseWarning, error) {
	var warnings []ParseWarning
	events := make([]ActionEvent, 0, len(raw))

	for i, rec := range raw {
		offset, err := ParseTimestamp(rec.Timestamp)
		if err != nil {
			warnings = append(warnings, ParseWarning{Index: i, Timestamp: rec.Timestamp, Reason: "malformed timestamp"})
			continue
		}
		action := strings.TrimSpace(rec.Action)
		if action == "" {
			warnings = append(warnings, ParseWarning{Index: i, Timestamp: rec.Timestamp, Reason: "missing action"})
			continue
		}
		bodyPart := strings.TrimSpace(rec.BodyPart)
		if bodyPart == "" {
			warnings = append(warnings, ParseWarning{Index: i, Timestamp: rec.Timestamp, Reason: "missing body part"})
			continue
		}
		if reason := firstNonEmpty(validate.Action(action), validate.BodyPart(bodyPart)); reason != "" {
			warnings = append(warnings, ParseWarning{Index: i, Timestamp: rec.Timestamp, Reason: reason})
			continue
		}
		events = append(events, ActionEvent{Offset: float64(offset), Action: action, BodyPart: bodyPart})
	}

	s := New(events)
	if s.Len() == 0 {
		return s, warnings, ErrEmptySchedule
	}
	return s, warnings, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
