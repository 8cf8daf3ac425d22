// Package hwstore declares the storage contracts the consensus core
// consumes. Storage is append-only from the core's perspective:
// eras and messages are added and read back, never updated or deleted.
package hwstore

import (
	"context"
	"fmt"

	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// EraStore persists era summaries.
type EraStore interface {
	// AddEra stores the era. Storing an era that is already present
	// with identical content is not an error.
	AddEra(ctx context.Context, era hwconsensus.Era) error

	// GetEra loads the era with the given id,
	// returning an [EraNotFoundError] if it was never stored.
	GetEra(ctx context.Context, id hwconsensus.Hash) (hwconsensus.Era, error)
}

// MessageStore persists consensus messages.
type MessageStore interface {
	PutMessage(ctx context.Context, m hwconsensus.Message) error
}

// EraNotFoundError indicates a lookup of an era that was never stored.
type EraNotFoundError struct {
	ID hwconsensus.Hash
}

func (e EraNotFoundError) Error() string {
	return fmt.Sprintf("era %x not found", string(e.ID))
}
