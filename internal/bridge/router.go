package bridge

import "strings"

const (
	DeviceVest  = "vest"
	DeviceHands = "hands"

	// AllDevices addresses every connected device.
	AllDevices = ""
)

// Command is a payload destined for one device or for all of them.
type Command struct {
	Device  string
	Payload string
}

// Route maps a relayed cue onto a device command. ok is false for messages
// no device understands.
//
//	ping              -> every device, "ping"
//	{action}-chest    -> every device, "2"
//	hot-left_hand     -> vest, "1" (any other action sends "0")
//	hot-right_hand    -> hands, "1" (any other action sends "0")
func Route(message string) (cmd Command, ok bool) {
	if message == "ping" {
		return Command{Device: AllDevices, Payload: "ping"}, true
	}

	action, part, found := strings.Cut(message, "-")
	if !found || action == "" || strings.Contains(part, "-") {
		return Command{}, false
	}

	switch part {
	case "chest":
		return Command{Device: AllDevices, Payload: "2"}, true
	case "left_hand":
		return Command{Device: DeviceVest, Payload: handPayload(action)}, true
	case "right_hand":
		return Command{Device: DeviceHands, Payload: handPayload(action)}, true
	}
	return Command{}, false
}

func handPayload(action string) string {
	if action == "hot" {
		return "1"
	}
	return "0"
}
