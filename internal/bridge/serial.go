package bridge

import (
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const DefaultBaudRate = 115200

// USB vendor IDs of the boards the actuators run on: Arduino, WCH CH340,
// Silicon Labs CP210x, FTDI and the Arduino.org clones.
var preferredVIDs = map[string]bool{
	"2341": true,
	"1A86": true,
	"10C4": true,
	"0403": true,
	"2A03": true,
}

var listPorts = enumerator.GetDetailedPortsList

// OpenSerial opens port at baud. A port of "auto" picks the first USB port
// not already in taken.
func OpenSerial(port string, baud int, taken map[string]bool) (serial.Port, string, error) {
	if port == "auto" {
		name, err := autoSelectPort(taken)
		if err != nil {
			return nil, "", fmt.Errorf("auto-select: %w", err)
		}
		port = name
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, "", fmt.Errorf("open serial %s: %w", port, err)
	}
	slog.Info("bridge: serial port open", "port", port, "baud", baud)
	return p, port, nil
}

func autoSelectPort(taken map[string]bool) (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB && !taken[p.Name] && preferredVIDs[strings.ToUpper(p.VID)] {
			return p.Name, nil
		}
	}
	for _, p := range ports {
		if p.IsUSB && !taken[p.Name] {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no free USB serial port found")
}
