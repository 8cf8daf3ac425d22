package hwclock

import (
	"errors"
	"fmt"
	"time"
)

// Tick is a count of whole configured time units since the genesis instant.
//
// Ticks are plain unsigned integers so that round and era boundary math
// stays exact; float arithmetic never enters tick computations.
type Tick uint64

// Converter maps wall-clock instants to and from ticks.
//
// The zero tick is the genesis instant;
// instants before genesis have no tick representation
// and are clamped to zero by ToTick.
type Converter struct {
	// Genesis is the instant at which tick zero begins.
	Genesis time.Time

	// Unit is the real-time length of one tick.
	Unit time.Duration
}

// Validate reports whether the converter's fields are usable.
func (c Converter) Validate() error {
	if c.Unit <= 0 {
		return fmt.Errorf("time unit must be positive (got %s)", c.Unit)
	}
	if c.Genesis.IsZero() {
		return errors.New("genesis instant must be set")
	}
	return nil
}

// ToTick converts an instant to the tick containing it,
// truncating toward genesis.
func (c Converter) ToTick(t time.Time) Tick {
	d := t.Sub(c.Genesis)
	if d < 0 {
		return 0
	}
	return Tick(d / c.Unit)
}

// ToInstant converts a tick back to the instant at which it begins.
//
// For any tick t, c.ToTick(c.ToInstant(t)) == t.
func (c Converter) ToInstant(t Tick) time.Time {
	return c.Genesis.Add(time.Duration(t) * c.Unit)
}

// Ticks converts a duration to a whole number of ticks, truncating.
func (c Converter) Ticks(d time.Duration) Tick {
	if d < 0 {
		return 0
	}
	return Tick(d / c.Unit)
}
