package hwconsensus

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/cuda-data/CasperLabs/hwclock"
)

// Leader returns the round leader for the given round of an era.
//
// The draw hashes the era's booking hash together with the round id
// and maps the result onto the bond set's cumulative stake,
// so a validator's chance of leading is proportional to its stake.
// The result depends only on the arguments: repeated calls,
// in any order and from any process, yield the same leader.
func Leader(bonds BondSet, booking Hash, roundID hwclock.Tick) Bond {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte(booking))
	writeTick(h, roundID)
	sum := h.Sum(nil)

	// Modulo bias is negligible against a 64-bit draw.
	target := binary.BigEndian.Uint64(sum[:8]) % bonds.TotalStake()

	var acc uint64
	for i := 0; i < bonds.Len(); i++ {
		b := bonds.At(i)
		acc += b.Stake
		if target < acc {
			return b
		}
	}

	// Unreachable: target < TotalStake and stakes sum to TotalStake.
	return bonds.At(bonds.Len() - 1)
}
