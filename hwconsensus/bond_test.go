package hwconsensus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwconsensus/hwconsensustest"
)

func TestNewBondSet_Valid(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(3).WithStakes(3000, 4000, 5000)
	bonds := []hwconsensus.Bond{pbs[2].Bond, pbs[0].Bond, pbs[1].Bond}

	set, err := hwconsensus.NewBondSet(bonds)
	require.NoError(t, err)

	require.Equal(t, 3, set.Len())
	require.Equal(t, uint64(12000), set.TotalStake())

	// Insertion order must not matter: entries are key-sorted.
	for i := 0; i < set.Len()-1; i++ {
		require.Less(t, string(set.At(i).PubKey), string(set.At(i+1).PubKey))
	}
}

func TestNewBondSet_Rejections(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(2)

	_, err := hwconsensus.NewBondSet(nil)
	require.Error(t, err, "empty set")

	_, err = hwconsensus.NewBondSet([]hwconsensus.Bond{
		{PubKey: pbs[0].Bond.PubKey, Stake: 0},
	})
	require.Error(t, err, "zero stake")

	_, err = hwconsensus.NewBondSet([]hwconsensus.Bond{
		{PubKey: nil, Stake: 10},
	})
	require.Error(t, err, "empty key")

	_, err = hwconsensus.NewBondSet([]hwconsensus.Bond{
		pbs[0].Bond, pbs[0].Bond,
	})
	require.Error(t, err, "duplicate key")
}

func TestBondSet_IndexOf(t *testing.T) {
	t.Parallel()

	pbs := hwconsensustest.DeterministicBonds(4)
	set := pbs.BondSet()

	for _, pb := range pbs {
		idx := set.IndexOf(pb.Bond.PubKey)
		require.GreaterOrEqual(t, idx, 0)
		require.Equal(t, pb.Bond.PubKey, set.At(idx).PubKey)
		require.True(t, set.Contains(pb.Bond.PubKey))
	}

	stranger := hwconsensustest.DeterministicBonds(5)[4]
	require.Equal(t, -1, set.IndexOf(stranger.Bond.PubKey))
	require.False(t, set.Contains(stranger.Bond.PubKey))
}
