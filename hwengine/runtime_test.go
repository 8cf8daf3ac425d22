package hwengine_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwconsensus/hwconsensustest"
	"github.com/cuda-data/CasperLabs/hwengine"
	"github.com/cuda-data/CasperLabs/hwstore/hwmemstore"
)

// validRuntimeEraConfig covers two rounds of 128 ticks per era:
// era ends at tick 256, booking is sampled at 128, the omega window of
// each round is [roundID+64, roundID+96), and voting stays open for a
// further 128 ticks past the end.
func validRuntimeEraConfig() hwconsensus.EraConfig {
	return hwconsensus.EraConfig{
		Unit:         time.Second,
		GenesisStart: time.Date(2019, 12, 30, 0, 0, 0, 0, time.UTC),

		EraDuration:     hwconsensus.FixedEraLength{Duration: 256 * time.Second},
		BookingDuration: 128 * time.Second,
		VotingDuration:  hwconsensus.FixedVotingDuration{Duration: 128 * time.Second},

		OmegaStart: hwconsensus.Frac(1, 2),
		OmegaEnd:   hwconsensus.Frac(3, 4),

		InitialRoundExponent: 7,
	}
}

type runtimeHarness struct {
	clock    *hwclock.VirtualClock
	producer *hwconsensustest.FakeProducer
	fc       *hwconsensustest.FakeForkChoice
	relayer  *hwconsensustest.FakeRelayer
	sync     *hwconsensus.SyncFlag
	store    *hwmemstore.Store
	events   chan hwengine.Event

	era hwconsensus.Era
	rt  *hwengine.Runtime
}

func startRuntime(
	ctx context.Context,
	t *testing.T,
	self ed25519.PublicKey,
	bonds hwconsensus.BondSet,
	synchronized bool,
) *runtimeHarness {
	t.Helper()

	h := &runtimeHarness{
		clock:    hwclock.NewVirtualClock(0),
		producer: &hwconsensustest.FakeProducer{Creator: self},
		fc:       hwconsensustest.NewFakeForkChoice("tip-1"),
		relayer:  new(hwconsensustest.FakeRelayer),
		sync:     hwconsensus.NewSyncFlag(synchronized),
		store:    hwmemstore.NewStore(),
		events:   make(chan hwengine.Event, 16),
	}

	h.era = hwconsensus.Era{
		ID:          "era-1",
		Start:       0,
		End:         256,
		Bonds:       bonds,
		BookingHash: "booking-seed",
	}

	rt, err := hwengine.NewRuntime(ctx, slogt.New(t), hwengine.RuntimeConfig{
		Era:               h.era,
		EraConfig:         validRuntimeEraConfig(),
		Self:              self,
		Clock:             h.clock,
		MessageStore:      h.store,
		Producer:          h.producer,
		ForkChoice:        h.fc,
		Relayer:           h.relayer,
		SyncStatus:        h.sync,
		FinalityThreshold: hwconsensus.Frac(2, 3),
		EventsOut:         h.events,
	})
	require.NoError(t, err)
	h.rt = rt

	// Round-trip a state request so the kernel has finished its initial
	// decision, and armed its timer, before the test advances the clock.
	_, err = rt.State(ctx)
	require.NoError(t, err)

	return h
}

// waitEvent reads events until one of type T arrives, skipping others.
func waitEvent[T hwengine.Event](t *testing.T, ch <-chan hwengine.Event) T {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %T event", *new(T))
		}
	}
}

// notRoundLeader returns a bonded key that does not lead the round.
func notRoundLeader(
	t *testing.T,
	bonds hwconsensus.BondSet,
	booking hwconsensus.Hash,
	roundID hwclock.Tick,
) ed25519.PublicKey {
	t.Helper()

	leader := hwconsensus.Leader(bonds, booking, roundID)
	for i := 0; i < bonds.Len(); i++ {
		if !leader.PubKey.Equal(bonds.At(i).PubKey) {
			return bonds.At(i).PubKey
		}
	}
	t.Fatal("bond set has a single validator; cannot pick a non-leader")
	return nil
}

func TestRuntime_OmegaVoteOncePerRound(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bonds := hwconsensustest.DeterministicBonds(3).WithStakes(1000, 1000, 1000).BondSet()
	self := bonds.At(1).PubKey
	h := startRuntime(ctx, t, self, bonds, true)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	require.Empty(t, h.producer.Votes(), "no vote before the omega window opens")

	// Tick 64 opens round 0's omega window.
	h.clock.Advance(64)
	votes := h.producer.Votes()
	require.Len(t, votes, 1)
	require.Equal(t, hwclock.Tick(0), votes[0].Round)
	require.Equal(t, h.era.ID, votes[0].Era)
	require.Equal(t, hwconsensus.Hash("tip-1"), votes[0].VotedBlock())

	// Still round 0: the window closes at 96 and no second vote is cast.
	h.clock.Advance(100)
	require.Len(t, h.producer.Votes(), 1)

	// Round 128's window opens at 192.
	h.clock.Advance(192)
	votes = h.producer.Votes()
	require.Len(t, votes, 2)
	require.Equal(t, hwclock.Tick(128), votes[1].Round)

	st, err := h.rt.State(ctx)
	require.NoError(t, err)
	require.True(t, st.HasVoted)
	require.Equal(t, hwclock.Tick(128), st.LastVotedRound)
	require.Equal(t, hwclock.Tick(128), st.CurrentRound)

	// Every vote was stored and relayed.
	require.Len(t, h.store.Messages(), len(h.producer.Votes())+len(h.producer.Blocks()))
	require.Len(t, h.relayer.Relayed(), len(h.store.Messages()))
}

func TestRuntime_LeaderProducesOneBlockPerRound(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bonds := hwconsensustest.DeterministicBonds(3).BondSet()
	self := hwconsensus.Leader(bonds, "booking-seed", 0).PubKey
	h := startRuntime(ctx, t, self, bonds, true)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	// The initial decision at tick 0 already produced round 0's block.
	blocks := h.producer.Blocks()
	require.Len(t, blocks, 1)
	require.Equal(t, hwclock.Tick(0), blocks[0].Round)
	require.Equal(t, hwconsensus.Hash("tip-1"), blocks[0].Parent)
	require.Equal(t, h.era.ID, blocks[0].Era)

	// Later wakeups within round 0 do not produce again.
	h.clock.Advance(100)
	require.Len(t, h.producer.Blocks(), 1)
}

func TestRuntime_UnsynchronizedProducesNothing(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bonds := hwconsensustest.DeterministicBonds(3).BondSet()
	h := startRuntime(ctx, t, bonds.At(0).PubKey, bonds, false)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	// Two rounds pass; round bookkeeping advances but nothing is made.
	h.clock.Advance(200)
	require.Empty(t, h.producer.Blocks())
	require.Empty(t, h.producer.Votes())

	st, err := h.rt.State(ctx)
	require.NoError(t, err)
	require.Equal(t, hwclock.Tick(128), st.CurrentRound)
	require.False(t, st.HasVoted)

	// Once synchronized, voting resumes at the next omega window.
	h.sync.SetSynchronized(true)
	h.clock.Advance(320)
	votes := h.producer.Votes()
	require.Len(t, votes, 1)
	require.Equal(t, hwclock.Tick(256), votes[0].Round)
}

func TestRuntime_ProducerFailureReportedAndRecovered(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bonds := hwconsensustest.DeterministicBonds(3).BondSet()
	self := notRoundLeader(t, bonds, "booking-seed", 0)
	h := startRuntime(ctx, t, self, bonds, true)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	sentinel := errors.New("signer unavailable")
	h.producer.SetErr(sentinel)

	h.clock.Advance(64)
	ev := waitEvent[hwengine.RuntimeError](t, h.events)
	require.Equal(t, h.era.ID, ev.Era)
	require.ErrorIs(t, ev.Err, sentinel)
	require.Empty(t, h.producer.Votes())

	// The failure does not stick: the next round's window votes fine.
	h.producer.SetErr(nil)
	h.clock.Advance(192)
	votes := h.producer.Votes()
	require.Len(t, votes, 1)
	require.Equal(t, hwclock.Tick(128), votes[0].Round)
}

func TestRuntime_PeerVotesDriveFinality(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := hwconsensustest.DeterministicBonds(4).WithStakes(1000, 1000, 1000, 1)
	bonds := all[:3].BondSet()
	stranger := all[3].Bond.PubKey

	h := startRuntime(ctx, t, stranger, bonds, true)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	vote := func(creator ed25519.PublicKey, block hwconsensus.Hash, round hwclock.Tick) hwconsensus.Message {
		return hwconsensus.Message{
			Kind:           hwconsensus.KindVote,
			Era:            h.era.ID,
			Round:          round,
			Creator:        creator,
			Justifications: []hwconsensus.Hash{block},
		}
	}

	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(0).PubKey, "block-1", 0)))
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(1).PubKey, "block-1", 0)))

	// 2000 of 3000 stake meets the 2/3 threshold exactly.
	fin := waitEvent[hwengine.BlockFinalized](t, h.events)
	require.Equal(t, h.era.ID, fin.Era)
	require.Equal(t, hwconsensus.Hash("block-1"), fin.Block)

	// A repeated (creator, round) pair is rejected as a duplicate.
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(0).PubKey, "block-1", 0)))
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(0).PubKey, "block-2", 0)))

	// Fresh votes in the next round finalize a second block.
	h.clock.Advance(128)
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(0).PubKey, "block-2", 128)))
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(2).PubKey, "block-2", 128)))

	fin = waitEvent[hwengine.BlockFinalized](t, h.events)
	require.Equal(t, hwconsensus.Hash("block-2"), fin.Block)

	st, err := h.rt.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.FinalizedBlocks)
}

func TestRuntime_RejectsInvalidMessages(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := hwconsensustest.DeterministicBonds(4).WithStakes(1000, 1000, 1000, 1)
	bonds := all[:3].BondSet()
	stranger := all[3].Bond.PubKey

	h := startRuntime(ctx, t, stranger, bonds, true)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	vote := func(creator ed25519.PublicKey, era, block hwconsensus.Hash, round hwclock.Tick) hwconsensus.Message {
		return hwconsensus.Message{
			Kind:           hwconsensus.KindVote,
			Era:            era,
			Round:          round,
			Creator:        creator,
			Justifications: []hwconsensus.Hash{block},
		}
	}

	// Each rejected vote endorses "bx"; if any were accepted, "bx"
	// would accumulate stake it must not have.
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(0).PubKey, "era-2", "bx", 0)))
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(1).PubKey, h.era.ID, "bx", 999)))
	require.NoError(t, h.rt.HandleMessage(ctx, vote(stranger, h.era.ID, "bx", 0)))
	require.NoError(t, h.rt.HandleMessage(ctx, hwconsensus.Message{
		Kind:    hwconsensus.KindVote,
		Era:     h.era.ID,
		Round:   0,
		Creator: bonds.At(2).PubKey,
	}))

	// Two valid votes finalize "by"; the inbox is ordered, so this
	// event also proves the invalid votes above were processed.
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(0).PubKey, h.era.ID, "by", 0)))
	require.NoError(t, h.rt.HandleMessage(ctx, vote(bonds.At(1).PubKey, h.era.ID, "by", 0)))

	fin := waitEvent[hwengine.BlockFinalized](t, h.events)
	require.Equal(t, hwconsensus.Hash("by"), fin.Block)

	st, err := h.rt.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.FinalizedBlocks)
}

func TestRuntime_EraLifecycle(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := hwconsensustest.DeterministicBonds(4)
	bonds := all[:3].BondSet()
	stranger := all[3].Bond.PubKey

	h := startRuntime(ctx, t, stranger, bonds, true)
	t.Cleanup(func() { cancel(); h.rt.Wait() })

	// Tick 256 ends the active phase. Booking was sampled at 128.
	h.clock.Advance(256)
	ended := waitEvent[hwengine.EraEnded](t, h.events)
	require.Equal(t, h.era.ID, ended.Era)
	require.Equal(t, hwclock.Tick(256), ended.End)
	require.Equal(t, hwconsensus.Hash("tip-1"), ended.KeyBlock)
	require.Equal(t, hwconsensus.Hash("tip-1"), ended.BookingHash)

	st, err := h.rt.State(ctx)
	require.NoError(t, err)
	require.Equal(t, hwengine.PhaseVotingOnly, st.Phase)
	require.Equal(t, hwconsensus.Hash("tip-1"), st.BookingHash)

	// The fixed voting window closes at 384.
	h.clock.Advance(384)
	dormant := waitEvent[hwengine.EraDormant](t, h.events)
	require.Equal(t, h.era.ID, dormant.Era)

	st, err = h.rt.State(ctx)
	require.NoError(t, err)
	require.Equal(t, hwengine.PhaseDormant, st.Phase)

	// A dormant era drops deliveries instead of counting them.
	require.NoError(t, h.rt.HandleMessage(ctx, hwconsensus.Message{
		Kind:           hwconsensus.KindVote,
		Era:            h.era.ID,
		Round:          0,
		Creator:        bonds.At(0).PubKey,
		Justifications: []hwconsensus.Hash{"late"},
	}))
	st, err = h.rt.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.FinalizedBlocks)
}

func TestRuntimeConfig_Validate(t *testing.T) {
	t.Parallel()

	bonds := hwconsensustest.DeterministicBonds(3).BondSet()
	valid := hwengine.RuntimeConfig{
		Era: hwconsensus.Era{
			ID:    "era-1",
			Start: 0,
			End:   256,
			Bonds: bonds,
		},
		EraConfig:         validRuntimeEraConfig(),
		Self:              bonds.At(0).PubKey,
		Clock:             hwclock.NewVirtualClock(0),
		MessageStore:      hwmemstore.NewStore(),
		Producer:          new(hwconsensustest.FakeProducer),
		ForkChoice:        hwconsensustest.NewFakeForkChoice("tip"),
		Relayer:           new(hwconsensustest.FakeRelayer),
		SyncStatus:        hwconsensus.NewSyncFlag(true),
		FinalityThreshold: hwconsensus.Frac(2, 3),
	}
	require.NoError(t, valid.Validate())

	c := valid
	c.Clock = nil
	require.Error(t, c.Validate(), "nil clock")

	c = valid
	c.Producer = nil
	require.Error(t, c.Validate(), "nil producer")

	c = valid
	c.FinalityThreshold = hwconsensus.Frac(0, 3)
	require.Error(t, c.Validate(), "zero finality threshold")

	c = valid
	c.Era.End = 0
	require.Error(t, c.Validate(), "era ends before it starts")
}
