// Package hwconsensustest provides deterministic fixtures and
// collaborator fakes for exercising the consensus core in tests.
package hwconsensustest

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// PrivBond pairs a bond with the private key able to sign for it.
type PrivBond struct {
	Bond hwconsensus.Bond
	Priv ed25519.PrivateKey
}

// PrivBonds is an ordered set of PrivBond, to be converted to a
// BondSet once tests have fixed the stakes they want.
type PrivBonds []PrivBond

// DeterministicBonds returns n bonds with deterministic ed25519 keys.
//
// Deterministic keys keep logs stable across runs of the same test,
// which simplifies debugging timing-sensitive scenarios.
// Stakes descend from 100_000 so that validator order by stake matches
// the fixture index order.
func DeterministicBonds(n int) PrivBonds {
	res := make(PrivBonds, n)
	for i := range res {
		seed := blake2b.Sum256([]byte(fmt.Sprintf("hwconsensustest:%d", i)))
		priv := ed25519.NewKeyFromSeed(seed[:])
		res[i] = PrivBond{
			Bond: hwconsensus.Bond{
				PubKey: priv.Public().(ed25519.PublicKey),
				Stake:  uint64(100_000 - i),
			},
			Priv: priv,
		}
	}
	return res
}

// WithStakes returns a copy of the bonds with the given stakes applied
// index-wise. It panics if the lengths differ; that is a test bug.
func (ps PrivBonds) WithStakes(stakes ...uint64) PrivBonds {
	if len(stakes) != len(ps) {
		panic(fmt.Sprintf("got %d stakes for %d bonds", len(stakes), len(ps)))
	}
	res := make(PrivBonds, len(ps))
	for i, p := range ps {
		p.Bond.Stake = stakes[i]
		res[i] = p
	}
	return res
}

// BondSet assembles the fixture bonds into a validated BondSet,
// panicking on error since fixture bonds are valid by construction.
func (ps PrivBonds) BondSet() hwconsensus.BondSet {
	bonds := make([]hwconsensus.Bond, len(ps))
	for i, p := range ps {
		bonds[i] = p.Bond
	}
	s, err := hwconsensus.NewBondSet(bonds)
	if err != nil {
		panic(err)
	}
	return s
}
