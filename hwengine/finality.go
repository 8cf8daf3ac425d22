package hwengine

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// finalityTracker accumulates stake-weighted votes per block and
// reports when a block crosses the configured agreement threshold.
//
// Finality is monotonic: once a block enters the finalized set it
// never leaves. Owned by a single runtime kernel; not concurrent-safe.
type finalityTracker struct {
	bonds     hwconsensus.BondSet
	threshold hwconsensus.Fraction

	// One bit per bonded validator, by bond-set index.
	voters map[hwconsensus.Hash]*bitset.BitSet

	// Block hash -> round id of the vote that finalized it.
	finalized map[hwconsensus.Hash]hwclock.Tick

	maxFinalizedRound hwclock.Tick
	anyFinalized      bool
}

func newFinalityTracker(bonds hwconsensus.BondSet, threshold hwconsensus.Fraction) *finalityTracker {
	return &finalityTracker{
		bonds:     bonds,
		threshold: threshold,
		voters:    make(map[hwconsensus.Hash]*bitset.BitSet),
		finalized: make(map[hwconsensus.Hash]hwclock.Tick),
	}
}

// AddVote records validator voterIdx's vote for the block,
// cast in the given round.
// It returns true when this vote newly finalizes the block.
func (t *finalityTracker) AddVote(block hwconsensus.Hash, voterIdx int, round hwclock.Tick) bool {
	if block == "" {
		return false
	}

	bs, ok := t.voters[block]
	if !ok {
		bs = bitset.New(uint(t.bonds.Len()))
		t.voters[block] = bs
	}
	if bs.Test(uint(voterIdx)) {
		return false
	}
	bs.Set(uint(voterIdx))

	if _, done := t.finalized[block]; done {
		return false
	}

	// The threshold is applied as an exact rational:
	// agreed/total >= threshold, overflow-safe for any stake scale.
	agreed := t.stakeOf(bs)
	if !t.threshold.Reached(agreed, t.bonds.TotalStake()) {
		return false
	}

	t.finalized[block] = round
	if !t.anyFinalized || round > t.maxFinalizedRound {
		t.maxFinalizedRound = round
	}
	t.anyFinalized = true
	return true
}

// IsFinalized reports whether the block has been finalized.
func (t *finalityTracker) IsFinalized(block hwconsensus.Hash) bool {
	_, ok := t.finalized[block]
	return ok
}

// FinalizedCount returns the number of finalized blocks.
func (t *finalityTracker) FinalizedCount() int {
	return len(t.finalized)
}

// LatestFinalizedRound returns the highest round id whose vote
// finalized a block, and whether anything has finalized at all.
func (t *finalityTracker) LatestFinalizedRound() (hwclock.Tick, bool) {
	return t.maxFinalizedRound, t.anyFinalized
}

func (t *finalityTracker) stakeOf(bs *bitset.BitSet) uint64 {
	var acc uint64
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		acc += t.bonds.At(int(i)).Stake
	}
	return acc
}
