package hwconsensus

import (
	"errors"
	"fmt"

	"github.com/cuda-data/CasperLabs/hwclock"
)

// Era is one fixed-validator-set epoch of the chain.
//
// An era is identified by the hash of its key block,
// the block whose appearance triggered the era's creation.
// Its active phase covers the half-open tick interval [Start, End);
// its parent's active phase ends exactly where this one begins.
type Era struct {
	// ID is the key-block hash identifying the era.
	ID Hash

	// ParentID is the parent era's id, empty only for the genesis era.
	ParentID Hash

	// Start and End bound the era's active (block-producing) phase.
	Start, End hwclock.Tick

	// Bonds is the validator set, immutable for the era's lifetime.
	Bonds BondSet

	// BookingHash seeds the era's leader randomness.
	// It is the hash of the booking block sampled at a configured
	// offset into the parent era.
	BookingHash Hash
}

// Validate reports structural problems with the era.
// Failures here are fatal to era creation.
func (e Era) Validate() error {
	if e.ID == "" {
		return errors.New("era id must not be empty")
	}
	if e.End <= e.Start {
		return fmt.Errorf("era end tick %d must be after start tick %d", e.End, e.Start)
	}
	if e.Bonds.Len() == 0 {
		return errors.New("era must have at least one bond")
	}
	return nil
}
