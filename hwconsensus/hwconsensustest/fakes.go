package hwconsensustest

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
)

// FakeProducer implements [hwconsensus.MessageProducer],
// recording every production request and optionally failing.
type FakeProducer struct {
	// Creator is stamped on every produced message.
	Creator ed25519.PublicKey

	mu sync.Mutex

	// Err, when set, is returned from both Produce methods.
	Err error

	blocks []hwconsensus.Message
	votes  []hwconsensus.Message
}

func (p *FakeProducer) ProduceBlock(
	_ context.Context,
	era hwconsensus.Hash,
	parentTip hwconsensus.Hash,
	justifications []hwconsensus.Hash,
	roundID hwclock.Tick,
) (hwconsensus.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return hwconsensus.Message{}, p.Err
	}

	m := hwconsensus.Message{
		Kind:           hwconsensus.KindBlock,
		Era:            era,
		Round:          roundID,
		Creator:        p.Creator,
		Parent:         parentTip,
		Justifications: justifications,
	}
	p.blocks = append(p.blocks, m)
	return m, nil
}

func (p *FakeProducer) ProduceVote(
	_ context.Context,
	era hwconsensus.Hash,
	justifications []hwconsensus.Hash,
	roundID hwclock.Tick,
) (hwconsensus.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return hwconsensus.Message{}, p.Err
	}

	m := hwconsensus.Message{
		Kind:           hwconsensus.KindVote,
		Era:            era,
		Round:          roundID,
		Creator:        p.Creator,
		Justifications: justifications,
	}
	p.votes = append(p.votes, m)
	return m, nil
}

// SetErr switches production failure on or off.
func (p *FakeProducer) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Blocks returns a copy of the produced blocks, in production order.
func (p *FakeProducer) Blocks() []hwconsensus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hwconsensus.Message(nil), p.blocks...)
}

// Votes returns a copy of the produced votes, in production order.
func (p *FakeProducer) Votes() []hwconsensus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hwconsensus.Message(nil), p.votes...)
}

// FakeForkChoice implements [hwconsensus.ForkChoice]
// by returning a settable tip.
type FakeForkChoice struct {
	mu  sync.Mutex
	tip hwconsensus.Hash

	// Err, when set, is returned from ChooseTip.
	Err error
}

// NewFakeForkChoice returns a fork choice that always chooses tip.
func NewFakeForkChoice(tip hwconsensus.Hash) *FakeForkChoice {
	return &FakeForkChoice{tip: tip}
}

func (f *FakeForkChoice) ChooseTip(
	_ context.Context, _ hwconsensus.Hash, _ []hwconsensus.Hash,
) (hwconsensus.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return "", f.Err
	}
	return f.tip, nil
}

// SetTip changes the tip returned by subsequent ChooseTip calls.
func (f *FakeForkChoice) SetTip(tip hwconsensus.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = tip
}

// FakeRelayer implements [hwconsensus.Relayer],
// recording relayed messages and completing immediately.
type FakeRelayer struct {
	mu       sync.Mutex
	messages []hwconsensus.Message
}

func (r *FakeRelayer) Relay(_ context.Context, m hwconsensus.Message) (hwconsensus.RelayHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, m)
	return immediateHandle{}, nil
}

// Relayed returns a copy of the relayed messages, in relay order.
func (r *FakeRelayer) Relayed() []hwconsensus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hwconsensus.Message(nil), r.messages...)
}

type immediateHandle struct{}

func (immediateHandle) Done() <-chan struct{} { return closedCh }
func (immediateHandle) Err() error            { return nil }

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
