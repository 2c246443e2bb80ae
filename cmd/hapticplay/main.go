package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hapticdef/hapticdef/internal/gateway"
	"github.com/hapticdef/hapticdef/internal/playback"
	"github.com/hapticdef/hapticdef/internal/schedule"
	"github.com/hapticdef/hapticdef/internal/sink"
)

func main() {
	flags := getFlags()

	seeks, err := parseSeeks(flags.Seeks)
	if err != nil {
		log.Fatalf("invalid -seek: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := loadRecords(ctx, flags)
	if err != nil {
		log.Fatal(err)
	}

	sched, warnings, err := schedule.Parse(records)
	for _, w := range warnings {
		slog.Warn("dropped record", "warning", w.String())
	}
	if err != nil {
		log.Fatalf("nothing to replay: %v", err)
	}

	sinkURL := flags.SinkURL
	if sinkURL == "" {
		if sinkURL, err = relayURL(flags.Server); err != nil {
			log.Fatalf("invalid -server: %v", err)
		}
	}
	remote := sink.NewRemote(sinkURL)
	go remote.Run(ctx)
	waitConnected(ctx, remote, 5*time.Second)

	engine := playback.NewEngine(playback.NewClock(flags.Jump), remote)
	engine.Arm(sched)

	r := &replayer{
		engine: engine,
		tick:   flags.Tick,
		speed:  flags.Speed,
		seeks:  seeks,
		end:    lastOffset(sched) + flags.TailAfter,
		sleep:  sleepContext,
		onFire: func(now float64, ev schedule.ActionEvent) {
			fmt.Printf("%6.2fs  %s (cue at %s)\n", now, ev.WireMessage(), schedule.FormatTimestamp(int(ev.Offset)))
		},
	}

	log.Printf("replaying %d cues", sched.Len())
	if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
	engine.Disarm()

	st := engine.Stats()
	log.Printf("done: %d fired, %d dropped, %d seeks", st.Fired, st.Dropped, st.Seeks)
}

func loadRecords(ctx context.Context, flags *Flags) ([]schedule.RawRecord, error) {
	if flags.Records != "" {
		data, err := os.ReadFile(flags.Records)
		if err != nil {
			return nil, fmt.Errorf("read records: %w", err)
		}
		var records []schedule.RawRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return records, nil
	}
	if flags.File == "" {
		return nil, errors.New("one of -file or -records is required")
	}

	res, err := gateway.NewClient(flags.Server, flags.Timeout).Upload(ctx, flags.File)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	log.Printf("analysis %s returned %d records", res.AnalysisID, len(res.Records))
	return res.Records, nil
}

// relayURL maps http(s)://host to ws(s)://host/ws.
func relayURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func waitConnected(ctx context.Context, remote *sink.Remote, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for !remote.Connected() {
		if time.Now().After(deadline) || ctx.Err() != nil {
			slog.Warn("relay not connected; cues will be dropped until it is")
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
