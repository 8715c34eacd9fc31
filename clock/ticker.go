package clock

import (
	"context"
	"time"
)

// Event is emitted on every tick. PhaseChanged is set when the reveal flag
// flipped or a new interval began since the previous event.
type Event struct {
	Info         Info
	PhaseChanged bool
}

// Ticker samples a Clock at a fixed cadence and publishes events on a single
// channel. Slow consumers miss intermediate ticks rather than blocking the loop.
type Ticker struct {
	clock *Clock
	every time.Duration
	now   func() time.Time
	out   chan Event
}

func NewTicker(c *Clock, every time.Duration, now func() time.Time) *Ticker {
	if every <= 0 {
		every = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Ticker{clock: c, every: every, now: now, out: make(chan Event, 1)}
}

func (t *Ticker) Events() <-chan Event { return t.out }

// Run emits until ctx is done, then closes the channel.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.out)
	tk := time.NewTicker(t.every)
	defer tk.Stop()

	var last Info
	first := true
	emit := func() {
		info := t.clock.At(t.now())
		ev := Event{Info: info, PhaseChanged: first || changed(last, info)}
		first = false
		last = info
		select {
		case t.out <- ev:
		default:
			// replace the unread event, keeping its phase flag
			select {
			case old := <-t.out:
				ev.PhaseChanged = ev.PhaseChanged || old.PhaseChanged
			default:
			}
			select {
			case t.out <- ev:
			default:
			}
		}
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			emit()
		}
	}
}

func changed(prev, cur Info) bool {
	return prev.InReveal != cur.InReveal || prev.RevealRoundID != cur.RevealRoundID
}
