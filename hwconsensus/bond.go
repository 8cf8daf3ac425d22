package hwconsensus

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
)

// Bond is a validator's stake entry in an era:
// the public key it signs with and the weight its votes carry.
type Bond struct {
	PubKey ed25519.PublicKey
	Stake  uint64
}

// BondSet is an era's validator set, ordered by public key.
//
// The set is immutable for the era's lifetime;
// construct one with [NewBondSet] and treat it as read-only.
type BondSet struct {
	bonds []Bond
	total uint64
}

// NewBondSet validates and orders the given bonds.
//
// Every bond must have a non-empty key and positive stake,
// and no key may appear twice.
// These are configuration errors, fatal at startup.
func NewBondSet(bonds []Bond) (BondSet, error) {
	if len(bonds) == 0 {
		return BondSet{}, errors.New("bond set must not be empty")
	}

	sorted := make([]Bond, len(bonds))
	copy(sorted, bonds)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].PubKey, sorted[j].PubKey) < 0
	})

	var total uint64
	for i, b := range sorted {
		if len(b.PubKey) == 0 {
			return BondSet{}, fmt.Errorf("bond %d has empty public key", i)
		}
		if b.Stake == 0 {
			return BondSet{}, fmt.Errorf("bond for key %x has zero stake", b.PubKey)
		}
		if i > 0 && bytes.Equal(sorted[i-1].PubKey, b.PubKey) {
			return BondSet{}, fmt.Errorf("duplicate bond for key %x", b.PubKey)
		}
		total += b.Stake
	}

	return BondSet{bonds: sorted, total: total}, nil
}

// Len returns the number of bonded validators.
func (s BondSet) Len() int { return len(s.bonds) }

// At returns the bond at index i in key order.
func (s BondSet) At(i int) Bond { return s.bonds[i] }

// TotalStake returns the sum of all stakes.
func (s BondSet) TotalStake() uint64 { return s.total }

// IndexOf returns the key-order index of the given public key,
// or -1 if the key is not bonded.
func (s BondSet) IndexOf(pub ed25519.PublicKey) int {
	i := sort.Search(len(s.bonds), func(i int) bool {
		return bytes.Compare(s.bonds[i].PubKey, pub) >= 0
	})
	if i < len(s.bonds) && bytes.Equal(s.bonds[i].PubKey, pub) {
		return i
	}
	return -1
}

// Contains reports whether the given public key is bonded.
func (s BondSet) Contains(pub ed25519.PublicKey) bool {
	return s.IndexOf(pub) >= 0
}
