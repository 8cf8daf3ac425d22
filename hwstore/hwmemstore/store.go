// Package hwmemstore provides an in-memory implementation of the
// hwstore contracts, for tests and for embedders that defer durable
// persistence to an outer layer.
package hwmemstore

import (
	"context"
	"sync"

	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwstore"
)

// Store implements [hwstore.EraStore] and [hwstore.MessageStore]
// with plain maps. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	eras     map[hwconsensus.Hash]hwconsensus.Era
	messages map[hwconsensus.Hash]hwconsensus.Message

	// Insertion order, for inspection in tests.
	messageOrder []hwconsensus.Hash
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		eras:     make(map[hwconsensus.Hash]hwconsensus.Era),
		messages: make(map[hwconsensus.Hash]hwconsensus.Message),
	}
}

// AddEra implements [hwstore.EraStore]. First write wins;
// re-adding an existing era id leaves the stored value unchanged.
func (s *Store) AddEra(_ context.Context, era hwconsensus.Era) error {
	if err := era.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.eras[era.ID]; !ok {
		s.eras[era.ID] = era
	}
	return nil
}

// GetEra implements [hwstore.EraStore].
func (s *Store) GetEra(_ context.Context, id hwconsensus.Hash) (hwconsensus.Era, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	era, ok := s.eras[id]
	if !ok {
		return hwconsensus.Era{}, hwstore.EraNotFoundError{ID: id}
	}
	return era, nil
}

// PutMessage implements [hwstore.MessageStore]. First write wins.
func (s *Store) PutMessage(_ context.Context, m hwconsensus.Message) error {
	id := hwconsensus.MessageID(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		s.messages[id] = m
		s.messageOrder = append(s.messageOrder, id)
	}
	return nil
}

// Messages returns the stored messages in insertion order.
func (s *Store) Messages() []hwconsensus.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hwconsensus.Message, 0, len(s.messageOrder))
	for _, id := range s.messageOrder {
		out = append(out, s.messages[id])
	}
	return out
}
