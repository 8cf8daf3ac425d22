package hwengine

import (
	"errors"
	"fmt"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// ExponentPolicy adapts a runtime's round exponent to observed network
// conditions. The runtime feeds it the round id of every accepted peer
// message and asks for a recommendation when entering a new round.
//
// Implementations are owned by a single runtime kernel and need not be
// safe for concurrent use.
type ExponentPolicy interface {
	// Observe records a peer message's round id against the local
	// runtime's current round.
	Observe(localRound, msgRound hwclock.Tick)

	// Recommend returns the exponent the runtime should use next.
	// Returning current means no change.
	Recommend(current uint8) uint8
}

// HysteresisConfig parameterizes [HysteresisPolicy].
// All thresholds are configuration, not constants:
// the right values depend on the network's latency profile.
type HysteresisConfig struct {
	// Min and Max bound the exponent.
	Min, Max uint8

	// Window is the number of observations per evaluation.
	Window int

	// RaiseThreshold is the fraction of a window's observations that
	// must lag the local round before a raise counts toward hysteresis.
	RaiseThreshold hwconsensus.Fraction

	// LowerThreshold is the fraction that must run ahead of the local
	// round before a lowering counts.
	LowerThreshold hwconsensus.Fraction

	// ConfirmWindows is how many consecutive windows must agree
	// before the exponent actually moves. This is the hysteresis
	// guard against oscillation.
	ConfirmWindows int
}

// Validate checks the configuration; failures are fatal at startup.
func (c HysteresisConfig) Validate() error {
	if c.Max < c.Min {
		return fmt.Errorf("exponent bounds inverted: min %d > max %d", c.Min, c.Max)
	}
	if c.Window <= 0 {
		return errors.New("observation window must be positive")
	}
	if c.ConfirmWindows <= 0 {
		return errors.New("confirmation window count must be positive")
	}
	if err := c.RaiseThreshold.Validate(); err != nil {
		return fmt.Errorf("invalid raise threshold: %w", err)
	}
	if err := c.LowerThreshold.Validate(); err != nil {
		return fmt.Errorf("invalid lower threshold: %w", err)
	}
	return nil
}

// HysteresisPolicy is the shipped [ExponentPolicy]:
// raise the exponent (lengthen rounds) when enough peers lag behind
// the local round, lower it (shorten rounds) when enough run ahead,
// and only after the signal persists for ConfirmWindows windows.
type HysteresisPolicy struct {
	cfg HysteresisConfig

	seen, behind, ahead int

	raiseStreak, lowerStreak int
}

// NewHysteresisPolicy returns a policy for the given configuration.
func NewHysteresisPolicy(cfg HysteresisConfig) (*HysteresisPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HysteresisPolicy{cfg: cfg}, nil
}

func (p *HysteresisPolicy) Observe(localRound, msgRound hwclock.Tick) {
	p.seen++
	switch {
	case msgRound < localRound:
		p.behind++
	case msgRound > localRound:
		p.ahead++
	}
}

func (p *HysteresisPolicy) Recommend(current uint8) uint8 {
	if p.seen < p.cfg.Window {
		return current
	}

	raise := p.cfg.RaiseThreshold.Reached(uint64(p.behind), uint64(p.seen))
	lower := p.cfg.LowerThreshold.Reached(uint64(p.ahead), uint64(p.seen))
	p.seen, p.behind, p.ahead = 0, 0, 0

	switch {
	case raise && !lower:
		p.raiseStreak++
		p.lowerStreak = 0
	case lower && !raise:
		p.lowerStreak++
		p.raiseStreak = 0
	default:
		p.raiseStreak, p.lowerStreak = 0, 0
	}

	if p.raiseStreak >= p.cfg.ConfirmWindows && current < p.cfg.Max {
		p.raiseStreak = 0
		return current + 1
	}
	if p.lowerStreak >= p.cfg.ConfirmWindows && current > p.cfg.Min {
		p.lowerStreak = 0
		return current - 1
	}
	return current
}
