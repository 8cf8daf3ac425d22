package hwengine

import (
	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// Event is the sum of notifications flowing from era runtimes to the
// supervisor, and from the supervisor outward to the embedding node.
type Event interface {
	isEvent()
}

// EraStarted reports that the supervisor created and started an era.
type EraStarted struct {
	Era hwconsensus.Era
}

// EraEnded reports that an era's active phase reached its end tick.
// The era's runtime continues in the voting-only phase;
// the supervisor responds by creating the child era.
type EraEnded struct {
	// Era is the ended era's id.
	Era hwconsensus.Hash

	// End is the ended era's end tick, the child's start tick.
	End hwclock.Tick

	// KeyBlock is the fork-choice tip at the end tick;
	// it identifies the child era.
	KeyBlock hwconsensus.Hash

	// BookingHash is the booking block sampled during the era,
	// seeding the child era's leader randomness.
	BookingHash hwconsensus.Hash
}

// EraDormant reports that an era's post-era voting window closed.
type EraDormant struct {
	Era hwconsensus.Hash
}

// EraRetired reports that the supervisor stopped and dropped a dormant
// era no longer needed for fork choice.
type EraRetired struct {
	Era hwconsensus.Hash
}

// BlockFinalized reports that a block accumulated the required
// stake-weighted agreement within an era.
// Finality is monotonic: a block is reported finalized at most once
// and never becomes un-finalized.
type BlockFinalized struct {
	Era   hwconsensus.Hash
	Block hwconsensus.Hash
}

// RuntimeError reports a decision-local failure within an era runtime,
// such as a failed block production or storage write.
// The runtime continues at its next scheduled wakeup.
type RuntimeError struct {
	Era hwconsensus.Hash
	Err error
}

func (EraStarted) isEvent()     {}
func (EraEnded) isEvent()       {}
func (EraDormant) isEvent()     {}
func (EraRetired) isEvent()     {}
func (BlockFinalized) isEvent() {}
func (RuntimeError) isEvent()   {}
