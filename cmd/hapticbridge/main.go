package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hapticdef/hapticdef/internal/bridge"
	"github.com/hapticdef/hapticdef/internal/sink"
)

type Flags struct {
	Server   string
	Vest     string
	Hands    string
	BaudRate int
	Verbose  bool
}

func getFlags() *Flags {
	flags := &Flags{}
	flag.StringVar(&flags.Server, "server", "ws://localhost:8080/ws", "relay websocket URL")
	flag.StringVar(&flags.Vest, "vest", "auto", "vest serial device path, 'auto' or '' to skip")
	flag.StringVar(&flags.Hands, "hands", "auto", "hands serial device path, 'auto' or '' to skip")
	flag.IntVar(&flags.BaudRate, "baud", bridge.DefaultBaudRate, "baud rate")
	flag.BoolVar(&flags.Verbose, "v", false, "log ignored messages")
	flag.Parse()
	return flags
}

func main() {
	flags := getFlags()
	if flags.Verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	devices := map[string]io.Writer{}
	taken := map[string]bool{}
	for _, d := range []struct{ name, port string }{
		{bridge.DeviceVest, flags.Vest},
		{bridge.DeviceHands, flags.Hands},
	} {
		if d.port == "" {
			continue
		}
		port, name, err := bridge.OpenSerial(d.port, flags.BaudRate, taken)
		if err != nil {
			slog.Warn("device unavailable", "device", d.name, "error", err)
			continue
		}
		defer port.Close()
		taken[name] = true
		devices[d.name] = port
	}
	if len(devices) == 0 {
		log.Fatal("no haptic devices found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(devices)
	remote := sink.NewRemote(flags.Server)
	remote.OnMessage(func(msg string) { b.Handle(msg) })

	log.Printf("bridging %s to %d device(s)", flags.Server, len(devices))
	remote.Run(ctx)
	log.Println("bridge stopped")
}
