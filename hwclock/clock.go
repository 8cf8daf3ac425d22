package hwclock

import (
	"fmt"
	"sync"
	"time"
)

// Clock is the time source injected into every consensus component.
//
// Production code uses [WallClock]; tests use [VirtualClock].
type Clock interface {
	// Now returns the current tick.
	Now() Tick

	// NewTimer returns an unarmed timer owned by the caller.
	NewTimer() Timer
}

// Timer delivers a single wakeup at a scheduled tick,
// following the shape of [time.Timer].
//
// A timer is owned by exactly one task;
// its methods must not be called concurrently with each other.
type Timer interface {
	// C returns the channel on which the scheduled tick is delivered.
	// The channel identity is stable for the life of the timer.
	C() <-chan Tick

	// Reset arms the timer to fire at the given tick,
	// replacing any previously scheduled wakeup.
	// A tick at or before the current time fires promptly.
	Reset(t Tick)

	// Stop disarms the timer. It is safe to call on an unarmed timer.
	Stop()
}

// WallClock implements [Clock] over the time package,
// using a [Converter] to express real time in ticks.
type WallClock struct {
	conv Converter
}

// NewWallClock returns a WallClock for the given converter.
func NewWallClock(conv Converter) (*WallClock, error) {
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid converter: %w", err)
	}
	return &WallClock{conv: conv}, nil
}

// Now returns the tick containing the current wall-clock instant.
func (w *WallClock) Now() Tick {
	return w.conv.ToTick(time.Now())
}

// NewTimer returns a timer backed by [time.AfterFunc].
func (w *WallClock) NewTimer() Timer {
	return &wallTimer{
		conv: w.conv,
		c:    make(chan Tick, 1),
	}
}

type wallTimer struct {
	conv Converter

	// 1-buffered like time.Timer's channel;
	// the owner is expected to drain it between wakeups.
	c chan Tick

	mu sync.Mutex
	t  *time.Timer
}

func (wt *wallTimer) C() <-chan Tick { return wt.c }

func (wt *wallTimer) Reset(t Tick) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.t != nil {
		wt.t.Stop()
	}

	d := time.Until(wt.conv.ToInstant(t))
	if d < 0 {
		d = 0
	}
	wt.t = time.AfterFunc(d, func() {
		select {
		case wt.c <- t:
		default:
			// Owner has not drained the previous wakeup;
			// it will resynchronize from Now on its next pass.
		}
	})
}

func (wt *wallTimer) Stop() {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.t != nil {
		wt.t.Stop()
		wt.t = nil
	}
}
