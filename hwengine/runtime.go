package hwengine

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwstore"
)

// Phase is an era runtime's lifecycle phase.
type Phase uint8

const (
	// PhaseActive is the era's primary round-production phase.
	PhaseActive Phase = iota

	// PhaseVotingOnly is the post-end-tick phase:
	// the era keeps collecting and casting votes on existing blocks
	// but produces no new blocks.
	PhaseVotingOnly

	// PhaseDormant is terminal: the voting window has closed and the
	// runtime is retained read-only until the supervisor retires it.
	PhaseDormant
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseVotingOnly:
		return "voting-only"
	case PhaseDormant:
		return "dormant"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// RuntimeConfig holds everything a [Runtime] needs:
// the era it drives and every collaborator, injected explicitly.
type RuntimeConfig struct {
	Era       hwconsensus.Era
	EraConfig hwconsensus.EraConfig

	// Self is the local validator's public key.
	// It need not be bonded in the era; an unbonded runtime still
	// tracks rounds and finality but produces nothing.
	Self ed25519.PublicKey

	Clock        hwclock.Clock
	MessageStore hwstore.MessageStore
	Producer     hwconsensus.MessageProducer
	ForkChoice   hwconsensus.ForkChoice
	Relayer      hwconsensus.Relayer
	SyncStatus   hwconsensus.SyncStatus

	// ExponentPolicy adapts the round exponent; nil keeps it fixed.
	ExponentPolicy ExponentPolicy

	// FinalityThreshold is the stake fraction required to finalize
	// a block.
	FinalityThreshold hwconsensus.Fraction

	// EventsOut receives the runtime's lifecycle and error events.
	// Typically the supervisor's shared event channel.
	EventsOut chan<- Event
}

// Validate checks the configuration; failures are fatal.
func (c RuntimeConfig) Validate() error {
	if err := c.Era.Validate(); err != nil {
		return fmt.Errorf("invalid era: %w", err)
	}
	if err := c.EraConfig.Validate(); err != nil {
		return fmt.Errorf("invalid era config: %w", err)
	}
	if c.Clock == nil {
		return errors.New("clock must not be nil")
	}
	if c.MessageStore == nil {
		return errors.New("message store must not be nil")
	}
	if c.Producer == nil {
		return errors.New("message producer must not be nil")
	}
	if c.ForkChoice == nil {
		return errors.New("fork choice must not be nil")
	}
	if c.Relayer == nil {
		return errors.New("relayer must not be nil")
	}
	if c.SyncStatus == nil {
		return errors.New("sync status must not be nil")
	}
	if err := c.FinalityThreshold.Validate(); err != nil {
		return fmt.Errorf("invalid finality threshold: %w", err)
	}
	if c.FinalityThreshold.Num == 0 {
		return errors.New("finality threshold must be positive")
	}
	return nil
}

// RuntimeState is a read-only snapshot of a runtime,
// answered synchronously through the runtime's event loop.
type RuntimeState struct {
	Phase         Phase
	RoundExponent uint8

	// CurrentRound is the id of the round the runtime last entered.
	CurrentRound hwclock.Tick

	// BookingHash is the sampled booking block for the child era;
	// empty until the booking offset has passed.
	BookingHash hwconsensus.Hash

	// LastVotedRound is the round of the runtime's own latest omega
	// vote; meaningful only when HasVoted.
	LastVotedRound hwclock.Tick
	HasVoted       bool

	// FinalizedBlocks is the count of blocks finalized in this era.
	FinalizedBlocks int
}

// Runtime is the per-era state machine.
//
// A single kernel goroutine owns all era state and processes its
// inbox of timer wakeups and delivered messages strictly in arrival
// order; no two decisions within one era interleave.
// Methods are safe to call concurrently.
type Runtime struct {
	log *slog.Logger
	cfg RuntimeConfig

	inbox         chan hwconsensus.Message
	stateRequests chan chan RuntimeState

	done chan struct{}
}

// NewRuntime validates cfg, starts the era's kernel goroutine,
// and returns the runtime.
//
// The runtime stops when ctx is canceled; an in-flight decision
// completes before resources are released. Call Wait after canceling.
func NewRuntime(ctx context.Context, log *slog.Logger, cfg RuntimeConfig) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		log: log,
		cfg: cfg,

		// Arbitrarily sized to absorb routing bursts
		// without blocking the supervisor.
		inbox: make(chan hwconsensus.Message, 8),

		stateRequests: make(chan chan RuntimeState, 1),

		done: make(chan struct{}),
	}

	go r.kernel(ctx)

	return r, nil
}

// Wait blocks until the kernel goroutine has finished.
func (r *Runtime) Wait() {
	<-r.done
}

// HandleMessage delivers an inbound message to the era's inbox.
func (r *Runtime) HandleMessage(ctx context.Context, m hwconsensus.Message) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrRuntimeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the runtime, taken by the kernel between
// decisions. Because the request round-trips through the event loop,
// a returned snapshot reflects every event delivered before the call.
func (r *Runtime) State(ctx context.Context) (RuntimeState, error) {
	ch := make(chan RuntimeState, 1)

	select {
	case r.stateRequests <- ch:
	case <-r.done:
		return RuntimeState{}, ErrRuntimeStopped
	case <-ctx.Done():
		return RuntimeState{}, ctx.Err()
	}

	select {
	case s := <-ch:
		return s, nil
	case <-r.done:
		return RuntimeState{}, ErrRuntimeStopped
	case <-ctx.Done():
		return RuntimeState{}, ctx.Err()
	}
}

// kernelState is the era state owned exclusively by the kernel goroutine.
type kernelState struct {
	phase    Phase
	exponent uint8

	currentRound hwclock.Tick

	bookingHash    hwconsensus.Hash
	bookingSampled bool

	endEventSent bool

	lastProposedRound hwclock.Tick
	hasProposed       bool

	lastVotedRound hwclock.Tick
	hasVoted       bool

	// Latest message id per creator, the justification set for
	// messages produced next.
	tips map[string]hwconsensus.Hash

	// Received (creator, round) vote pairs, for duplicate rejection.
	seenVotes map[voteKey]struct{}

	finality *finalityTracker
}

type voteKey struct {
	creator string
	round   hwclock.Tick
}

func (r *Runtime) kernel(ctx context.Context) {
	defer close(r.done)

	timer := r.cfg.Clock.NewTimer()
	defer timer.Stop()

	s := &kernelState{
		phase:     PhaseActive,
		exponent:  r.cfg.EraConfig.InitialRoundExponent,
		tips:      make(map[string]hwconsensus.Hash),
		seenVotes: make(map[voteKey]struct{}),
		finality:  newFinalityTracker(r.cfg.Era.Bonds, r.cfg.FinalityThreshold),
	}

	r.log.Info(
		"era runtime starting",
		"start_tick", uint64(r.cfg.Era.Start),
		"end_tick", uint64(r.cfg.Era.End),
		"validators", r.cfg.Era.Bonds.Len(),
		"round_exponent", s.exponent,
	)

	r.decide(ctx, s, r.cfg.Clock.Now(), timer)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("era runtime stopping", "cause", context.Cause(ctx))
			return

		case m := <-r.inbox:
			if r.applyMessage(ctx, s, m) {
				r.decide(ctx, s, r.cfg.Clock.Now(), timer)
			}

		case now := <-timer.C():
			r.decide(ctx, s, now, timer)

		case ch := <-r.stateRequests:
			ch <- RuntimeState{
				Phase:           s.phase,
				RoundExponent:   s.exponent,
				CurrentRound:    s.currentRound,
				BookingHash:     s.bookingHash,
				LastVotedRound:  s.lastVotedRound,
				HasVoted:        s.hasVoted,
				FinalizedBlocks: s.finality.FinalizedCount(),
			}
		}
	}
}

// decide runs the per-wakeup decision algorithm at tick now and
// schedules the next wakeup. It is the only place the era's phase,
// round, and production state change.
func (r *Runtime) decide(ctx context.Context, s *kernelState, now hwclock.Tick, timer hwclock.Timer) {
	era := r.cfg.Era
	ec := r.cfg.EraConfig

	// Sample the booking block for the child era
	// once the configured offset into the era has passed.
	if !s.bookingSampled && now >= ec.BookingTick(era.Start) && now < era.End {
		tip, err := r.cfg.ForkChoice.ChooseTip(ctx, era.ID, s.justifications())
		if err != nil {
			r.reportError(ctx, fmt.Errorf("sampling booking block: %w", err))
		} else {
			s.bookingHash = tip
			s.bookingSampled = true
			r.log.Debug("sampled booking block", "hash", loggableHash(tip), "tick", uint64(now))
		}
	}

	if s.phase == PhaseActive && now >= era.End {
		s.phase = PhaseVotingOnly
		r.log.Info("era reached end tick, switching to voting-only", "tick", uint64(now))
	}

	// The end event carries the key block (fork-choice tip at the end
	// tick) identifying the child era. A failed tip lookup is retried
	// at the next wakeup rather than in a loop.
	if s.phase == PhaseVotingOnly && !s.endEventSent {
		tip, err := r.cfg.ForkChoice.ChooseTip(ctx, era.ID, s.justifications())
		if err != nil {
			r.reportError(ctx, fmt.Errorf("choosing key block at era end: %w", err))
		} else {
			booking := s.bookingHash
			if !s.bookingSampled {
				// The booking offset never yielded a tip;
				// fall back to the key block so the child era
				// still has a deterministic seed.
				booking = tip
			}
			r.emit(ctx, EraEnded{
				Era:         era.ID,
				End:         era.End,
				KeyBlock:    tip,
				BookingHash: booking,
			})
			s.endEventSent = true
		}
	}

	if s.phase == PhaseVotingOnly && s.endEventSent && r.votingDone(s, now) {
		s.phase = PhaseDormant
		r.log.Info("era voting window closed, going dormant", "tick", uint64(now))
		r.emit(ctx, EraDormant{Era: era.ID})
		timer.Stop()
		return
	}
	if s.phase == PhaseDormant {
		timer.Stop()
		return
	}

	// Round entry: recompute the round id and let the exponent policy
	// adjust round length between rounds, never within one.
	roundID := hwconsensus.RoundID(now, s.exponent)
	if roundID != s.currentRound {
		if p := r.cfg.ExponentPolicy; p != nil {
			if next := p.Recommend(s.exponent); next != s.exponent {
				r.log.Info(
					"adjusting round exponent",
					"from", s.exponent, "to", next,
				)
				s.exponent = next
				roundID = hwconsensus.RoundID(now, next)
			}
		}
		s.currentRound = roundID
	}

	bonded := era.Bonds.Contains(r.cfg.Self)

	// Block production: leader only, active phase only,
	// and only while synchronized with the network.
	if s.phase == PhaseActive && bonded &&
		!(s.hasProposed && s.lastProposedRound == roundID) {
		leader := hwconsensus.Leader(era.Bonds, era.BookingHash, roundID)
		if bytes.Equal(leader.PubKey, r.cfg.Self) && r.cfg.SyncStatus.IsSynchronized() {
			r.produceBlock(ctx, s, roundID)
		}
	}

	// Omega vote: once per round, inside the configured window,
	// in both the active and voting-only phases.
	if bonded && ec.InOmegaWindow(now, s.exponent) &&
		!(s.hasVoted && s.lastVotedRound == roundID) &&
		r.cfg.SyncStatus.IsSynchronized() {
		r.produceVote(ctx, s, roundID)
	}

	timer.Reset(r.nextWakeup(s, now))
}

// votingDone reports whether the post-era voting condition is met.
func (r *Runtime) votingDone(s *kernelState, now hwclock.Tick) bool {
	switch vm := r.cfg.EraConfig.VotingDuration.(type) {
	case hwconsensus.FixedVotingDuration:
		return now >= r.cfg.Era.End+r.cfg.EraConfig.Converter().Ticks(vm.Duration)
	case hwconsensus.VoteUntilFinalized:
		rd, ok := s.finality.LatestFinalizedRound()
		return ok && rd >= hwconsensus.RoundID(r.cfg.Era.End-1, s.exponent)
	default:
		// Unknown modes keep voting until retirement by the supervisor.
		return false
	}
}

// nextWakeup returns the earliest tick after now at which the runtime
// has something to do: the next round boundary, an omega window edge,
// the era's end tick, or the close of a fixed voting window.
func (r *Runtime) nextWakeup(s *kernelState, now hwclock.Tick) hwclock.Tick {
	ec := r.cfg.EraConfig

	roundID := hwconsensus.RoundID(now, s.exponent)
	next := roundID + hwconsensus.RoundLength(s.exponent)

	omegaStart, omegaEnd := ec.OmegaWindow(roundID, s.exponent)
	if omegaStart > now && omegaStart < next {
		next = omegaStart
	}
	if omegaEnd > now && omegaEnd < next {
		next = omegaEnd
	}

	if s.phase == PhaseActive && r.cfg.Era.End > now && r.cfg.Era.End < next {
		next = r.cfg.Era.End
	}
	if !s.bookingSampled && s.phase == PhaseActive {
		if bt := ec.BookingTick(r.cfg.Era.Start); bt > now && bt < next {
			next = bt
		}
	}
	if s.phase == PhaseVotingOnly {
		if vm, ok := ec.VotingDuration.(hwconsensus.FixedVotingDuration); ok {
			if end := r.cfg.Era.End + ec.Converter().Ticks(vm.Duration); end > now && end < next {
				next = end
			}
		}
	}

	return next
}

func (r *Runtime) produceBlock(ctx context.Context, s *kernelState, roundID hwclock.Tick) {
	era := r.cfg.Era
	justifications := s.justifications()

	tip, err := r.cfg.ForkChoice.ChooseTip(ctx, era.ID, justifications)
	if err != nil {
		r.reportError(ctx, fmt.Errorf("choosing tip for block in round %d: %w", roundID, err))
		return
	}

	block, err := r.cfg.Producer.ProduceBlock(ctx, era.ID, tip, justifications, roundID)
	if err != nil {
		r.reportError(ctx, fmt.Errorf("producing block for round %d: %w", roundID, err))
		return
	}

	if err := r.cfg.MessageStore.PutMessage(ctx, block); err != nil {
		r.reportError(ctx, fmt.Errorf("storing block for round %d: %w", roundID, err))
		return
	}
	if _, err := r.cfg.Relayer.Relay(ctx, block); err != nil {
		// Relaying is best effort; local progress is unaffected.
		r.log.Warn("failed to relay block", "round", uint64(roundID), "err", err)
	}

	s.lastProposedRound = roundID
	s.hasProposed = true
	s.tips[string(block.Creator)] = hwconsensus.MessageID(block)

	r.log.Debug("produced block", "round", uint64(roundID), "parent", loggableHash(tip))
}

func (r *Runtime) produceVote(ctx context.Context, s *kernelState, roundID hwclock.Tick) {
	era := r.cfg.Era

	tip, err := r.cfg.ForkChoice.ChooseTip(ctx, era.ID, s.justifications())
	if err != nil {
		r.reportError(ctx, fmt.Errorf("choosing tip for omega vote in round %d: %w", roundID, err))
		return
	}

	// The endorsed tip leads the justification set.
	justifications := append([]hwconsensus.Hash{tip}, s.justifications()...)

	vote, err := r.cfg.Producer.ProduceVote(ctx, era.ID, justifications, roundID)
	if err != nil {
		r.reportError(ctx, fmt.Errorf("producing omega vote for round %d: %w", roundID, err))
		return
	}

	if err := r.cfg.MessageStore.PutMessage(ctx, vote); err != nil {
		r.reportError(ctx, fmt.Errorf("storing omega vote for round %d: %w", roundID, err))
		return
	}
	if _, err := r.cfg.Relayer.Relay(ctx, vote); err != nil {
		r.log.Warn("failed to relay omega vote", "round", uint64(roundID), "err", err)
	}

	s.lastVotedRound = roundID
	s.hasVoted = true
	s.tips[string(vote.Creator)] = hwconsensus.MessageID(vote)

	// Count our own vote toward finality.
	if idx := era.Bonds.IndexOf(r.cfg.Self); idx >= 0 {
		if s.finality.AddVote(tip, idx, roundID) {
			r.emit(ctx, BlockFinalized{Era: era.ID, Block: tip})
		}
	}

	r.log.Debug("produced omega vote", "round", uint64(roundID), "tip", loggableHash(tip))
}

// applyMessage validates and applies one inbound message,
// returning whether it was accepted (and a decision pass is warranted).
// Invalid messages are rejected and logged; they never stop the kernel.
func (r *Runtime) applyMessage(ctx context.Context, s *kernelState, m hwconsensus.Message) bool {
	if m.Era != r.cfg.Era.ID {
		r.log.Warn(
			"rejecting message tagged for another era",
			"got", loggableHash(m.Era),
		)
		return false
	}
	if err := m.Validate(); err != nil {
		r.log.Warn("rejecting malformed message", "err", err)
		return false
	}

	idx := r.cfg.Era.Bonds.IndexOf(m.Creator)
	if idx < 0 {
		r.log.Warn("rejecting message from unbonded creator", "kind", m.Kind.String())
		return false
	}

	now := r.cfg.Clock.Now()
	if m.Round > now {
		r.log.Warn(
			"rejecting message with round id from the future",
			"round", uint64(m.Round), "now", uint64(now),
		)
		return false
	}

	if s.phase == PhaseDormant {
		r.log.Debug("dropping message delivered to dormant era")
		return false
	}

	s.tips[string(m.Creator)] = hwconsensus.MessageID(m)

	if p := r.cfg.ExponentPolicy; p != nil {
		p.Observe(s.currentRound, m.Round)
	}

	if m.Kind == hwconsensus.KindVote {
		vk := voteKey{creator: string(m.Creator), round: m.Round}
		if _, dup := s.seenVotes[vk]; dup {
			r.log.Warn("rejecting duplicate vote", "round", uint64(m.Round))
			return false
		}
		s.seenVotes[vk] = struct{}{}

		if s.finality.AddVote(m.VotedBlock(), idx, m.Round) {
			r.emit(ctx, BlockFinalized{Era: m.Era, Block: m.VotedBlock()})
		}
	}

	return true
}

// justifications materializes the latest-message-per-creator set
// in deterministic (creator key) order.
func (s *kernelState) justifications() []hwconsensus.Hash {
	if len(s.tips) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.tips))
	for k := range s.tips {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]hwconsensus.Hash, len(keys))
	for i, k := range keys {
		out[i] = s.tips[k]
	}
	return out
}

func (r *Runtime) reportError(ctx context.Context, err error) {
	r.log.Warn("decision failed", "err", err)
	r.emit(ctx, RuntimeError{Era: r.cfg.Era.ID, Err: err})
}

func (r *Runtime) emit(ctx context.Context, ev Event) {
	if r.cfg.EventsOut == nil {
		return
	}
	select {
	case r.cfg.EventsOut <- ev:
	case <-ctx.Done():
	}
}

func loggableHash(h hwconsensus.Hash) string {
	if len(h) > 8 {
		h = h[:8]
	}
	return fmt.Sprintf("%x", string(h))
}
