package hwconsensus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/cuda-data/CasperLabs/hwclock"
)

// Fraction is a ratio in [0, 1] used for time-fraction windows
// and stake thresholds. Keeping it rational keeps tick math exact.
type Fraction struct {
	Num, Den uint64
}

// Frac is shorthand for constructing a Fraction.
func Frac(num, den uint64) Fraction { return Fraction{Num: num, Den: den} }

// Validate reports whether the fraction is a well-formed ratio in [0, 1].
func (f Fraction) Validate() error {
	if f.Den == 0 {
		return errors.New("fraction denominator must not be zero")
	}
	if f.Num > f.Den {
		return fmt.Errorf("fraction %d/%d exceeds 1", f.Num, f.Den)
	}
	return nil
}

// Less reports whether f < g.
// The cross-multiplication is carried in 128 bits so large
// numerators and denominators compare exactly.
func (f Fraction) Less(g Fraction) bool {
	hi1, lo1 := bits.Mul64(f.Num, g.Den)
	hi2, lo2 := bits.Mul64(g.Num, f.Den)
	return hi1 < hi2 || (hi1 == hi2 && lo1 < lo2)
}

// Reached reports whether part/whole >= f, computed without overflow.
func (f Fraction) Reached(part, whole uint64) bool {
	hi1, lo1 := bits.Mul64(part, f.Den)
	hi2, lo2 := bits.Mul64(whole, f.Num)
	return hi1 > hi2 || (hi1 == hi2 && lo1 >= lo2)
}

// Of returns floor(f * n) in ticks.
// f must be a well-formed ratio in [0, 1]; the 128-bit intermediate
// keeps the result exact for ticks of any magnitude.
func (f Fraction) Of(n hwclock.Tick) hwclock.Tick {
	hi, lo := bits.Mul64(uint64(n), f.Num)
	q, _ := bits.Div64(hi, lo, f.Den)
	return hwclock.Tick(q)
}

// EraDurationMode determines how long an era's active phase lasts.
//
// The two modes are [FixedEraLength] and [ByBookingBlock];
// which one a chain runs is a configuration decision.
type EraDurationMode interface {
	// EraEnd computes the end tick of an era starting at the given
	// tick, given the era's booking-block hash.
	// It is a pure function of its inputs.
	EraEnd(conv hwclock.Converter, start hwclock.Tick, booking Hash) hwclock.Tick
}

// FixedEraLength runs every era for the same wall-clock duration.
type FixedEraLength struct {
	Duration time.Duration
}

func (m FixedEraLength) EraEnd(conv hwclock.Converter, start hwclock.Tick, _ Hash) hwclock.Tick {
	return start + conv.Ticks(m.Duration)
}

// ByBookingBlock derives the era length from the era's booking-block
// hash, drawing uniformly from [MinDuration, MaxDuration].
// Because the booking block is sampled at a fixed offset into the
// parent era, the drawn length is decorrelated from block production
// noise near the era boundary.
type ByBookingBlock struct {
	MinDuration, MaxDuration time.Duration
}

func (m ByBookingBlock) EraEnd(conv hwclock.Converter, start hwclock.Tick, booking Hash) hwclock.Tick {
	min := conv.Ticks(m.MinDuration)
	max := conv.Ticks(m.MaxDuration)
	if max <= min {
		return start + min
	}

	sum := blake2b.Sum256([]byte(booking))
	span := uint64(max-min) + 1
	offset := binary.BigEndian.Uint64(sum[:8]) % span
	return start + min + hwclock.Tick(offset)
}

// VotingDurationMode determines how long an era keeps collecting votes
// after its active phase ends.
type VotingDurationMode interface {
	isVotingDurationMode()
}

// FixedVotingDuration keeps the post-era voting window open
// for a fixed wall-clock duration past the era's end tick.
type FixedVotingDuration struct {
	Duration time.Duration
}

func (FixedVotingDuration) isVotingDurationMode() {}

// VoteUntilFinalized keeps the post-era voting window open until the
// era's finality condition is met: a block at or past the era's last
// round has accumulated the required stake-weighted agreement.
type VoteUntilFinalized struct{}

func (VoteUntilFinalized) isVotingDurationMode() {}

// EraConfig is the static configuration governing every era's timing:
// the tick unit, era length, booking and entropy collection offsets,
// the post-era voting mode, and the omega-vote window.
//
// A single EraConfig is shared by all eras of a run.
type EraConfig struct {
	// Unit is the real-time length of one tick.
	Unit time.Duration

	// GenesisStart is the instant at which the genesis era
	// (and tick zero) begins.
	GenesisStart time.Time

	// EraDuration determines each era's active-phase length.
	EraDuration EraDurationMode

	// BookingDuration is the offset into an era at which the booking
	// block for the next era is sampled from the fork-choice tip.
	BookingDuration time.Duration

	// EntropyDuration is the entropy-collection window extending past
	// the booking offset. It is part of the recognized configuration
	// surface and is range-checked, but no core operation consumes it:
	// the child era's seed is the booking hash alone.
	EntropyDuration time.Duration

	// VotingDuration determines when the post-era voting window closes.
	VotingDuration VotingDurationMode

	// OmegaStart and OmegaEnd bound the omega-vote window
	// as fractions of a round's length: a validator votes once per
	// round while the current tick is in [start, end) of the round.
	OmegaStart, OmegaEnd Fraction

	// InitialRoundExponent is each era runtime's starting round
	// exponent; round length is 2^exponent ticks.
	InitialRoundExponent uint8
}

// Converter returns the tick converter implied by the config.
func (c EraConfig) Converter() hwclock.Converter {
	return hwclock.Converter{Genesis: c.GenesisStart, Unit: c.Unit}
}

// Validate checks the configuration.
// Any failure here is fatal at startup.
func (c EraConfig) Validate() error {
	if err := c.Converter().Validate(); err != nil {
		return err
	}

	if c.EraDuration == nil {
		return errors.New("era duration mode must be set")
	}
	if c.VotingDuration == nil {
		return errors.New("voting duration mode must be set")
	}

	if err := c.OmegaStart.Validate(); err != nil {
		return fmt.Errorf("invalid omega window start: %w", err)
	}
	if err := c.OmegaEnd.Validate(); err != nil {
		return fmt.Errorf("invalid omega window end: %w", err)
	}
	if !c.OmegaStart.Less(c.OmegaEnd) {
		return fmt.Errorf(
			"omega window start %d/%d must be before end %d/%d",
			c.OmegaStart.Num, c.OmegaStart.Den, c.OmegaEnd.Num, c.OmegaEnd.Den,
		)
	}

	if c.BookingDuration < 0 {
		return errors.New("booking duration must not be negative")
	}
	if c.EntropyDuration < 0 {
		return errors.New("entropy duration must not be negative")
	}
	if fixed, ok := c.EraDuration.(FixedEraLength); ok {
		if fixed.Duration <= 0 {
			return errors.New("fixed era length must be positive")
		}
		if c.BookingDuration > fixed.Duration {
			return fmt.Errorf(
				"booking duration %s exceeds era duration %s",
				c.BookingDuration, fixed.Duration,
			)
		}
	}
	if dyn, ok := c.EraDuration.(ByBookingBlock); ok {
		if dyn.MinDuration <= 0 || dyn.MaxDuration < dyn.MinDuration {
			return errors.New("booking-block era length bounds must satisfy 0 < min <= max")
		}
		if c.BookingDuration > dyn.MinDuration {
			return fmt.Errorf(
				"booking duration %s exceeds minimum era duration %s",
				c.BookingDuration, dyn.MinDuration,
			)
		}
	}

	return nil
}

// RoundLength returns the round length in ticks for an exponent.
func RoundLength(exponent uint8) hwclock.Tick {
	return hwclock.Tick(1) << exponent
}

// RoundID returns the id of the round containing the given tick:
// the tick at which the round starts.
// Rounds are aligned to tick zero, so all validators agree on round
// boundaries regardless of when their eras started.
func RoundID(tick hwclock.Tick, exponent uint8) hwclock.Tick {
	return tick &^ (RoundLength(exponent) - 1)
}

// OmegaWindow returns the half-open tick interval [start, end) within
// the given round during which an omega vote may be produced.
func (c EraConfig) OmegaWindow(roundID hwclock.Tick, exponent uint8) (start, end hwclock.Tick) {
	length := RoundLength(exponent)
	return roundID + c.OmegaStart.Of(length), roundID + c.OmegaEnd.Of(length)
}

// InOmegaWindow reports whether the tick falls inside the omega window
// of the round containing it.
func (c EraConfig) InOmegaWindow(tick hwclock.Tick, exponent uint8) bool {
	start, end := c.OmegaWindow(RoundID(tick, exponent), exponent)
	return tick >= start && tick < end
}

// EraEnd computes the end tick of an era starting at the given tick.
func (c EraConfig) EraEnd(start hwclock.Tick, booking Hash) hwclock.Tick {
	return c.EraDuration.EraEnd(c.Converter(), start, booking)
}

// BookingTick returns the tick at which an era starting at the given
// tick samples the booking block for its child era.
func (c EraConfig) BookingTick(start hwclock.Tick) hwclock.Tick {
	return start + c.Converter().Ticks(c.BookingDuration)
}
