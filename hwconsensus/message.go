package hwconsensus

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/cuda-data/CasperLabs/hwclock"
)

// MessageKind distinguishes the two message variants of the protocol.
type MessageKind uint8

const (
	// KindBlock is a leader's block proposal for a round.
	KindBlock MessageKind = iota + 1

	// KindVote is an omega vote cast in the late window of a round.
	KindVote
)

func (k MessageKind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindVote:
		return "vote"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// Message is a single consensus message, block or vote.
//
// Every message belongs to exactly one era and one round.
// Justifications reference previously seen messages,
// establishing the creator's view of causal history.
// For votes, the first justification is the fork-choice tip
// the vote endorses.
type Message struct {
	Kind MessageKind

	// Era is the id of the era the message belongs to.
	Era Hash

	// Round is the round id: the tick at which the round starts.
	Round hwclock.Tick

	// Creator is the bonded validator that produced the message.
	Creator ed25519.PublicKey

	// Justifications are ids of previously seen messages.
	Justifications []Hash

	// Parent is the parent block reference; blocks only.
	Parent Hash

	// AppState is the opaque application state carried by a block.
	AppState []byte
}

// Validate checks the message's internal structure.
// It does not check era membership or round timing;
// those depend on runtime state and are checked by the era runtime.
func (m Message) Validate() error {
	switch m.Kind {
	case KindBlock:
		// Parent may be empty only for an era's first block.
	case KindVote:
		if len(m.Justifications) == 0 {
			return errors.New("vote must justify the tip it endorses")
		}
	default:
		return fmt.Errorf("unknown message kind %d", m.Kind)
	}

	if m.Era == "" {
		return errors.New("message missing era id")
	}
	if len(m.Creator) == 0 {
		return errors.New("message missing creator")
	}
	return nil
}

// VotedBlock returns the block hash a vote endorses.
// It is only meaningful for KindVote messages.
func (m Message) VotedBlock() Hash {
	if len(m.Justifications) == 0 {
		return ""
	}
	return m.Justifications[0]
}
