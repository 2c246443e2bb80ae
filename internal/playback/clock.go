package playback

// Default seek classification thresholds, in seconds.
const (
	DefaultJumpThreshold = 1.5
	DefaultEpsilon       = 0.05
)

// Clock classifies media time samples as monotonic progress or seeks.
// A forward jump larger than JumpThreshold counts as a seek so skipped cues
// are never flushed in a burst.
type Clock struct {
	JumpThreshold float64
	Epsilon       float64
}

func NewClock(jumpThreshold float64) Clock {
	if jumpThreshold <= 0 {
		jumpThreshold = DefaultJumpThreshold
	}
	return Clock{JumpThreshold: jumpThreshold, Epsilon: DefaultEpsilon}
}

// IsSeek reports whether moving from last to current is a seek.
func (c Clock) IsSeek(last, current float64) bool {
	if current < last-c.Epsilon {
		return true
	}
	return current-last > c.JumpThreshold
}
