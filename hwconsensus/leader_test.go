package hwconsensus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwconsensus/hwconsensustest"
)

func TestLeader_Deterministic(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(3).WithStakes(3000, 4000, 5000)
	set := pbs.BondSet()

	for _, round := range []hwclock.Tick{0, 1, 64, 604800} {
		first := hwconsensus.Leader(set, "booking", round)
		for i := 0; i < 5; i++ {
			require.Equal(t, first, hwconsensus.Leader(set, "booking", round))
		}
	}
}

func TestLeader_IndependentOfConstructionOrder(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(4)
	bonds := []hwconsensus.Bond{
		pbs[0].Bond, pbs[1].Bond, pbs[2].Bond, pbs[3].Bond,
	}
	reversed := []hwconsensus.Bond{
		pbs[3].Bond, pbs[2].Bond, pbs[1].Bond, pbs[0].Bond,
	}

	a, err := hwconsensus.NewBondSet(bonds)
	require.NoError(t, err)
	b, err := hwconsensus.NewBondSet(reversed)
	require.NoError(t, err)

	for round := hwclock.Tick(0); round < 100; round++ {
		require.Equal(t,
			hwconsensus.Leader(a, "seed", round),
			hwconsensus.Leader(b, "seed", round),
		)
	}
}

func TestLeader_WeightedByStake(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(2).WithStakes(1, 1_000_000)
	set := pbs.BondSet()
	heavy := pbs[1].Bond.PubKey

	heavyWins := 0
	for round := hwclock.Tick(0); round < 1000; round++ {
		leader := hwconsensus.Leader(set, "seed", round)
		if string(leader.PubKey) == string(heavy) {
			heavyWins++
		}
	}

	// The light validator holds one millionth of the stake;
	// the heavy one should lead essentially every round.
	require.GreaterOrEqual(t, heavyWins, 990)
}

func TestLeader_AllValidatorsReachable(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(4).WithStakes(100, 100, 100, 100)
	set := pbs.BondSet()

	seen := make(map[string]bool)
	for round := hwclock.Tick(0); round < 500; round++ {
		seen[string(hwconsensus.Leader(set, "seed", round).PubKey)] = true
	}

	require.Len(t, seen, 4, "every equal-stake validator should lead some round")
}

func TestLeader_DependsOnBookingHash(t *testing.T) {
	t.Parallel()

	set := hwconsensustest.DeterministicBonds(8).BondSet()

	differs := false
	for round := hwclock.Tick(0); round < 64; round++ {
		a := hwconsensus.Leader(set, "booking-a", round)
		b := hwconsensus.Leader(set, "booking-b", round)
		if string(a.PubKey) != string(b.PubKey) {
			differs = true
			break
		}
	}
	require.True(t, differs, "distinct booking hashes should yield distinct schedules")
}
