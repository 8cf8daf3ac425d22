package hwengine

import (
	"errors"
	"fmt"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// ErrRuntimeStopped is returned from calls into a runtime whose
// context has been canceled.
var ErrRuntimeStopped = errors.New("era runtime stopped")

// LifecycleError indicates an attempt to create a child era whose
// start tick does not meet its parent's end tick.
// It is fatal to the creation of that era.
type LifecycleError struct {
	Parent, Child hwconsensus.Hash

	ParentEnd, ChildStart hwclock.Tick
}

func (e LifecycleError) Error() string {
	return fmt.Sprintf(
		"era %.8x starts at tick %d but its parent %.8x ends at tick %d",
		string(e.Child), e.ChildStart, string(e.Parent), e.ParentEnd,
	)
}

// UnknownEraError indicates a message tagged with an era id the
// supervisor is not running: either never created or already retired.
// The message is dropped; the supervisor is unaffected.
type UnknownEraError struct {
	Era hwconsensus.Hash
}

func (e UnknownEraError) Error() string {
	return fmt.Sprintf("no running era %.8x", string(e.Era))
}
