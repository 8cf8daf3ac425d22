package hwconsensus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwconsensus/hwconsensustest"
)

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	creator := hwconsensustest.DeterministicBonds(1)[0].Bond.PubKey

	block := hwconsensus.Message{
		Kind:    hwconsensus.KindBlock,
		Era:     "era-1",
		Round:   8,
		Creator: creator,
		Parent:  "parent",
	}
	require.NoError(t, block.Validate())

	vote := hwconsensus.Message{
		Kind:           hwconsensus.KindVote,
		Era:            "era-1",
		Round:          8,
		Creator:        creator,
		Justifications: []hwconsensus.Hash{"tip"},
	}
	require.NoError(t, vote.Validate())

	bad := vote
	bad.Justifications = nil
	require.Error(t, bad.Validate(), "vote without an endorsed tip")

	bad = block
	bad.Era = ""
	require.Error(t, bad.Validate(), "missing era")

	bad = block
	bad.Creator = nil
	require.Error(t, bad.Validate(), "missing creator")

	bad = block
	bad.Kind = 0
	require.Error(t, bad.Validate(), "unknown kind")
}

func TestMessageID_SensitiveToContent(t *testing.T) {
	t.Parallel()

	creator := hwconsensustest.DeterministicBonds(1)[0].Bond.PubKey

	base := hwconsensus.Message{
		Kind:           hwconsensus.KindBlock,
		Era:            "era-1",
		Round:          8,
		Creator:        creator,
		Parent:         "parent",
		Justifications: []hwconsensus.Hash{"j1"},
	}

	require.Equal(t, hwconsensus.MessageID(base), hwconsensus.MessageID(base))

	other := base
	other.Round = 16
	require.NotEqual(t, hwconsensus.MessageID(base), hwconsensus.MessageID(other))

	other = base
	other.Parent = "other-parent"
	require.NotEqual(t, hwconsensus.MessageID(base), hwconsensus.MessageID(other))
}

func TestSyncFlag(t *testing.T) {
	t.Parallel()

	f := hwconsensus.NewSyncFlag(false)
	require.False(t, f.IsSynchronized())

	f.SetSynchronized(true)
	require.True(t, f.IsSynchronized())

	f.SetSynchronized(false)
	require.False(t, f.IsSynchronized())
}
