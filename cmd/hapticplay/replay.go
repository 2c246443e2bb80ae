package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hapticdef/hapticdef/internal/playback"
	"github.com/hapticdef/hapticdef/internal/schedule"
)

// seekPoint moves the simulated playhead to To once it first reaches At.
type seekPoint struct {
	At float64
	To float64
}

func parseSeeks(script string) ([]seekPoint, error) {
	var points []seekPoint
	for _, item := range strings.Split(script, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		at, to, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("seek %q: want at:to", item)
		}
		atSec, err := strconv.ParseFloat(at, 64)
		if err != nil || atSec < 0 {
			return nil, fmt.Errorf("seek %q: bad start %q", item, at)
		}
		toSec, err := strconv.ParseFloat(to, 64)
		if err != nil || toSec < 0 {
			return nil, fmt.Errorf("seek %q: bad target %q", item, to)
		}
		points = append(points, seekPoint{At: atSec, To: toSec})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].At < points[j].At })
	return points, nil
}

type replayer struct {
	engine *playback.Engine
	tick   time.Duration
	speed  float64
	seeks  []seekPoint
	end    float64
	sleep  func(context.Context, time.Duration) error
	onFire func(now float64, ev schedule.ActionEvent)
}

// run samples the engine from 0 to end, advancing tick*speed media seconds
// per sample. Each seek point fires at most once.
func (r *replayer) run(ctx context.Context) error {
	step := r.tick.Seconds() * r.speed
	if r.speed <= 0 {
		step = r.tick.Seconds()
	}
	pending := append([]seekPoint(nil), r.seeks...)

	for now := 0.0; now <= r.end; now += step {
		if len(pending) > 0 && now >= pending[0].At {
			now = pending[0].To
			pending = pending[1:]
		}
		for _, ev := range r.engine.OnTick(now) {
			if r.onFire != nil {
				r.onFire(now, ev)
			}
		}
		if r.speed > 0 {
			if err := r.sleep(ctx, r.tick); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lastOffset(s schedule.Schedule) float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.At(s.Len() - 1).Offset
}
