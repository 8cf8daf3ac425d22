package hwconsensus

import (
	"context"
	"sync/atomic"

	"github.com/cuda-data/CasperLabs/hwclock"
)

// MessageProducer builds and signs blocks and votes on behalf of the
// local validator. Production may fail (signing key unavailable,
// producer busy); the core surfaces such failures per decision and
// never retries internally.
type MessageProducer interface {
	// ProduceBlock builds a block on the given parent tip
	// for the round the local validator leads.
	ProduceBlock(
		ctx context.Context,
		era Hash,
		parentTip Hash,
		justifications []Hash,
		roundID hwclock.Tick,
	) (Message, error)

	// ProduceVote builds an omega vote whose first justification
	// is the fork-choice tip it endorses.
	ProduceVote(
		ctx context.Context,
		era Hash,
		justifications []Hash,
		roundID hwclock.Tick,
	) (Message, error)
}

// ForkChoice selects the canonical tip from the message history
// visible at call time. It is pure with respect to that history.
type ForkChoice interface {
	ChooseTip(ctx context.Context, era Hash, justifications []Hash) (Hash, error)
}

// RelayHandle reports completion of a message's propagation to peers.
type RelayHandle interface {
	// Done is closed once propagation has completed or been abandoned.
	Done() <-chan struct{}

	// Err returns the propagation outcome; valid after Done is closed.
	Err() error
}

// Relayer hands locally produced messages to the gossip layer.
// Relaying is best effort: its failure never blocks local progress.
type Relayer interface {
	Relay(ctx context.Context, m Message) (RelayHandle, error)
}

// SyncStatus reports whether the local node has caught up with the
// network. While unsynchronized, era runtimes keep their round and era
// bookkeeping current but produce no blocks or votes.
type SyncStatus interface {
	IsSynchronized() bool
}

// SyncFlag is the shared synchronization cell:
// written by the node's synchronizer, read by every era runtime.
// Single writer, many readers; reads need only atomic visibility.
type SyncFlag struct {
	v atomic.Bool
}

// NewSyncFlag returns a flag with the given initial state.
func NewSyncFlag(synchronized bool) *SyncFlag {
	f := new(SyncFlag)
	f.v.Store(synchronized)
	return f
}

// IsSynchronized implements [SyncStatus].
func (f *SyncFlag) IsSynchronized() bool { return f.v.Load() }

// SetSynchronized records the synchronizer's latest judgement.
func (f *SyncFlag) SetSynchronized(ok bool) { f.v.Store(ok) }
