package hwengine

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuda-data/CasperLabs/hwclock"
	"github.com/cuda-data/CasperLabs/hwconsensus"
	"github.com/cuda-data/CasperLabs/hwstore"
)

// GenesisEra describes the externally supplied genesis block summary
// the supervisor bootstraps from.
type GenesisEra struct {
	// KeyBlock is the genesis block hash, identifying the genesis era.
	KeyBlock hwconsensus.Hash

	// Bonds is the genesis validator set.
	Bonds hwconsensus.BondSet

	// BookingHash seeds the genesis era's leader randomness.
	// Chains typically derive it from the genesis block itself.
	BookingHash hwconsensus.Hash
}

// SupervisorConfig holds the configuration required to start a
// [Supervisor].
type SupervisorConfig struct {
	EraConfig hwconsensus.EraConfig

	Genesis GenesisEra

	// Self is the local validator's public key.
	Self ed25519.PublicKey

	Clock        hwclock.Clock
	EraStore     hwstore.EraStore
	MessageStore hwstore.MessageStore
	Producer     hwconsensus.MessageProducer
	ForkChoice   hwconsensus.ForkChoice
	Relayer      hwconsensus.Relayer
	SyncStatus   hwconsensus.SyncStatus

	// NewExponentPolicy supplies a fresh adaptation policy per era;
	// nil keeps every era's round exponent fixed.
	NewExponentPolicy func() ExponentPolicy

	// FinalityThreshold is the stake fraction required to finalize
	// a block within an era.
	FinalityThreshold hwconsensus.Fraction

	// EventsOut, when set, receives the supervisor's outward events:
	// era lifecycle, finalized blocks, and runtime errors.
	EventsOut chan<- Event
}

// Validate checks the configuration; failures are fatal at startup.
func (c SupervisorConfig) Validate() error {
	if err := c.EraConfig.Validate(); err != nil {
		return fmt.Errorf("invalid era config: %w", err)
	}
	if c.Genesis.KeyBlock == "" {
		return errors.New("genesis key block must be set")
	}
	if c.Genesis.Bonds.Len() == 0 {
		return errors.New("genesis bonds must not be empty")
	}
	if c.Clock == nil {
		return errors.New("clock must not be nil")
	}
	if c.EraStore == nil {
		return errors.New("era store must not be nil")
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
	return nil
}

// Supervisor owns the set of running era runtimes:
// it boots the genesis era, creates each child era when its parent's
// active phase ends (the overlap point: the parent keeps voting while
// the child produces), routes inbound messages by era id,
// and retires dormant eras no longer needed for fork choice.
//
// Methods are safe to call concurrently.
type Supervisor struct {
	log *slog.Logger
	cfg SupervisorConfig

	// Runtime lifecycle events funnel through this one channel into
	// the supervisor's event loop, keeping era creation, retirement,
	// and bookkeeping serialized.
	events chan Event

	mu   sync.RWMutex
	eras map[hwconsensus.Hash]*eraHandle

	done chan struct{}
}

// eraHandle is the supervisor's record of one running era.
// phase and dormant belong to the event loop alone. childID is written
// by startEra under s.mu and must be read under it: StartEra is
// exported, so the write can come from an embedder goroutine.
type eraHandle struct {
	era    hwconsensus.Era
	rt     *Runtime
	cancel context.CancelFunc

	// phase is the last phase reported through events,
	// tracked here so retirement decisions never have to call back
	// into a runtime from the event loop.
	phase Phase

	childID hwconsensus.Hash
	dormant bool
}

// NewSupervisor starts the genesis era's runtime and the supervisor's
// event loop. The supervisor and all runtimes stop when ctx is
// canceled; call Wait afterward.
func NewSupervisor(ctx context.Context, log *slog.Logger, cfg SupervisorConfig) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		log: log,
		cfg: cfg,

		// Sized to absorb bursts from several concurrent runtimes.
		events: make(chan Event, 16),

		eras: make(map[hwconsensus.Hash]*eraHandle),
		done: make(chan struct{}),
	}

	genesis := hwconsensus.Era{
		ID:          cfg.Genesis.KeyBlock,
		Start:       0,
		End:         cfg.EraConfig.EraEnd(0, cfg.Genesis.BookingHash),
		Bonds:       cfg.Genesis.Bonds,
		BookingHash: cfg.Genesis.BookingHash,
	}
	if err := s.startEra(ctx, genesis); err != nil {
		return nil, fmt.Errorf("starting genesis era: %w", err)
	}

	go s.run(ctx)

	return s, nil
}

// Wait blocks until the supervisor loop and every era runtime
// have finished. Begin shutdown by canceling the constructor context.
func (s *Supervisor) Wait() {
	<-s.done

	s.mu.RLock()
	handles := make([]*eraHandle, 0, len(s.eras))
	for _, h := range s.eras {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		h.rt.Wait()
	}
}

// HandleMessage routes an inbound message to the runtime owning its
// era id. Messages for unknown eras (never created, or already
// retired) are dropped with a diagnostic and an [UnknownEraError];
// they never affect the supervisor's live-era set.
func (s *Supervisor) HandleMessage(ctx context.Context, m hwconsensus.Message) error {
	s.mu.RLock()
	h, ok := s.eras[m.Era]
	s.mu.RUnlock()

	if !ok {
		s.log.Warn(
			"dropping message for unknown era",
			"era", loggableHash(m.Era),
			"kind", m.Kind.String(),
		)
		return UnknownEraError{Era: m.Era}
	}

	return h.rt.HandleMessage(ctx, m)
}

// EraState returns a snapshot of the runtime owning the given era.
func (s *Supervisor) EraState(ctx context.Context, id hwconsensus.Hash) (RuntimeState, error) {
	s.mu.RLock()
	h, ok := s.eras[id]
	s.mu.RUnlock()

	if !ok {
		return RuntimeState{}, UnknownEraError{Era: id}
	}
	return h.rt.State(ctx)
}

// LiveEras returns the ids of the currently running eras.
func (s *Supervisor) LiveEras() []hwconsensus.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hwconsensus.Hash, 0, len(s.eras))
	for id := range s.eras {
		out = append(out, id)
	}
	return out
}

// StartEra validates and starts a runtime for an externally
// constructed era, for embedders replaying history after a restart.
// The era's parent must be running, and the era's start tick must
// equal the parent's end tick; violations are fatal to creation.
func (s *Supervisor) StartEra(ctx context.Context, era hwconsensus.Era) error {
	return s.startEra(ctx, era)
}

func (s *Supervisor) startEra(ctx context.Context, era hwconsensus.Era) error {
	if err := era.Validate(); err != nil {
		return fmt.Errorf("refusing to start malformed era: %w", err)
	}

	var parent *eraHandle
	if era.ParentID != "" {
		s.mu.RLock()
		parent = s.eras[era.ParentID]
		s.mu.RUnlock()

		if parent == nil {
			return fmt.Errorf("parent era %.8x is not running", string(era.ParentID))
		}
		if era.Start != parent.era.End {
			return LifecycleError{
				Parent:     era.ParentID,
				Child:      era.ID,
				ParentEnd:  parent.era.End,
				ChildStart: era.Start,
			}
		}
	}

	if err := s.cfg.EraStore.AddEra(ctx, era); err != nil {
		return fmt.Errorf("storing era %.8x: %w", string(era.ID), err)
	}

	var policy ExponentPolicy
	if s.cfg.NewExponentPolicy != nil {
		policy = s.cfg.NewExponentPolicy()
	}

	rctx, cancel := context.WithCancel(ctx)
	rt, err := NewRuntime(rctx, s.log.With("era", loggableHash(era.ID)), RuntimeConfig{
		Era:       era,
		EraConfig: s.cfg.EraConfig,
		Self:      s.cfg.Self,

		Clock:        s.cfg.Clock,
		MessageStore: s.cfg.MessageStore,
		Producer:     s.cfg.Producer,
		ForkChoice:   s.cfg.ForkChoice,
		Relayer:      s.cfg.Relayer,
		SyncStatus:   s.cfg.SyncStatus,

		ExponentPolicy:    policy,
		FinalityThreshold: s.cfg.FinalityThreshold,

		EventsOut: s.events,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("starting runtime for era %.8x: %w", string(era.ID), err)
	}

	h := &eraHandle{era: era, rt: rt, cancel: cancel}

	s.mu.Lock()
	s.eras[era.ID] = h
	if parent != nil {
		parent.childID = era.ID
	}
	s.mu.Unlock()

	s.log.Info(
		"started era",
		"era", loggableHash(era.ID),
		"start_tick", uint64(era.Start),
		"end_tick", uint64(era.End),
	)
	s.emit(ctx, EraStarted{Era: era})

	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("supervisor stopping", "cause", context.Cause(ctx))
			return

		case ev := <-s.events:
			switch ev := ev.(type) {
			case EraEnded:
				s.onEraEnded(ctx, ev)
			case EraDormant:
				s.onEraDormant(ctx, ev)
			case BlockFinalized:
				s.emit(ctx, ev)
			case RuntimeError:
				s.log.Warn(
					"era runtime reported an error",
					"era", loggableHash(ev.Era),
					"err", ev.Err,
				)
				s.emit(ctx, ev)
			default:
				s.emit(ctx, ev)
			}
		}
	}
}

// onEraEnded handles a parent era reaching its end tick:
// the child era starts here while the parent keeps voting.
func (s *Supervisor) onEraEnded(ctx context.Context, ev EraEnded) {
	s.mu.RLock()
	h := s.eras[ev.Era]
	s.mu.RUnlock()

	if h == nil {
		s.log.Warn("end event for unknown era", "era", loggableHash(ev.Era))
		return
	}

	h.phase = PhaseVotingOnly
	s.emit(ctx, ev)

	// The ended era's parent may have been waiting for this era
	// to leave the active phase.
	s.maybeRetire(ctx, h.era.ParentID)

	s.mu.RLock()
	hasChild := h.childID != ""
	s.mu.RUnlock()

	if hasChild {
		// Restart-safe: the child already exists.
		return
	}

	child := hwconsensus.Era{
		ID:          ev.KeyBlock,
		ParentID:    ev.Era,
		Start:       ev.End,
		End:         s.cfg.EraConfig.EraEnd(ev.End, ev.BookingHash),
		Bonds:       h.era.Bonds,
		BookingHash: ev.BookingHash,
	}
	if err := s.startEra(ctx, child); err != nil {
		s.log.Error(
			"failed to create child era",
			"parent", loggableHash(ev.Era),
			"err", err,
		)
		s.emit(ctx, RuntimeError{Era: ev.Era, Err: err})
	}
}

func (s *Supervisor) onEraDormant(ctx context.Context, ev EraDormant) {
	s.mu.RLock()
	h := s.eras[ev.Era]
	s.mu.RUnlock()

	if h == nil {
		return
	}

	h.phase = PhaseDormant
	h.dormant = true
	s.emit(ctx, ev)

	s.maybeRetire(ctx, ev.Era)
}

// maybeRetire stops and drops the era if it is dormant and no era
// still in its active phase depends on it for fork-choice lookups.
// Only the event loop calls this, so removals stay serialized.
func (s *Supervisor) maybeRetire(ctx context.Context, id hwconsensus.Hash) {
	if id == "" {
		return
	}

	s.mu.RLock()
	h := s.eras[id]
	var child *eraHandle
	if h != nil && h.childID != "" {
		child = s.eras[h.childID]
	}
	s.mu.RUnlock()

	if h == nil || !h.dormant {
		return
	}
	if child != nil && child.phase == PhaseActive {
		return
	}

	// Cancellation lets the runtime's in-flight decision complete;
	// Wait returns once it has.
	h.cancel()
	h.rt.Wait()

	s.mu.Lock()
	delete(s.eras, id)
	s.mu.Unlock()

	s.log.Info("retired era", "era", loggableHash(id))
	s.emit(ctx, EraRetired{Era: id})
}

func (s *Supervisor) emit(ctx context.Context, ev Event) {
	if s.cfg.EventsOut == nil {
		return
	}
	select {
	case s.cfg.EventsOut <- ev:
	case <-ctx.Done():
	}
}
