package bridge

import (
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Bridge writes routed cues to the attached haptic devices.
type Bridge struct {
	mu      sync.Mutex
	devices map[string]io.Writer
	names   []string
}

// New attaches devices keyed by DeviceVest or DeviceHands. Either may be
// missing; cues for a missing device are skipped.
func New(devices map[string]io.Writer) *Bridge {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Bridge{devices: devices, names: names}
}

// Handle routes one relayed message and returns how many devices received it.
func (b *Bridge) Handle(message string) int {
	cmd, ok := Route(message)
	if !ok {
		slog.Debug("bridge: ignoring message", "message", message)
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	targets := []string{cmd.Device}
	if cmd.Device == AllDevices {
		targets = b.names
	}

	written := 0
	for _, name := range targets {
		dev, ok := b.devices[name]
		if !ok {
			slog.Debug("bridge: device not attached", "device", name, "message", message)
			continue
		}
		if _, err := io.WriteString(dev, cmd.Payload); err != nil {
			slog.Warn("bridge: device write failed", "device", name, "error", err)
			continue
		}
		written++
	}
	slog.Info("bridge: cue delivered", "message", message, "payload", cmd.Payload, "devices", written)
	return written
}
