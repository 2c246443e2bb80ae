package main

import (
	"flag"
	"time"
)

type Flags struct {
	Server    string
	SinkURL   string
	File      string
	Records   string
	Speed     float64
	Tick      time.Duration
	Seeks     string
	Jump      float64
	Timeout   time.Duration
	TailAfter float64
}

func getFlags() *Flags {
	flags := &Flags{}
	flag.StringVar(&flags.Server, "server", "http://localhost:8080", "hapticdef server base URL")
	flag.StringVar(&flags.SinkURL, "sink", "", "relay websocket URL (default: derived from -server)")
	flag.StringVar(&flags.File, "file", "", "mp4 to upload and replay")
	flag.StringVar(&flags.Records, "records", "", "JSON cue array to replay instead of uploading")
	flag.Float64Var(&flags.Speed, "speed", 1.0, "playback speed multiplier (0 = as fast as possible)")
	flag.DurationVar(&flags.Tick, "tick", 250*time.Millisecond, "interval between time samples")
	flag.StringVar(&flags.Seeks, "seek", "", "seek script, e.g. '10:3,20:45' jumps from 10s to 3s and from 20s to 45s")
	flag.Float64Var(&flags.Jump, "jump", 1.5, "forward gap in seconds treated as a seek")
	flag.DurationVar(&flags.Timeout, "timeout", 5*time.Minute, "upload and analysis timeout")
	flag.Float64Var(&flags.TailAfter, "tail", 1.0, "seconds to keep playing after the last cue")
	flag.Parse()
	return flags
}
