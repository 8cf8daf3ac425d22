package hwclock

import "sync"

// VirtualClock is a manually advanced [Clock] for tests.
//
// Advance fires every armed timer whose deadline is at or before the
// target tick, in deadline order (arming order within equal deadlines),
// and does not fire the next wakeup until the task that owns the
// previous one has either re-armed (Reset) or disarmed (Stop) its
// timer. A Reset or Stop issued before a fired wakeup has been received
// withdraws it: the stale tick is discarded rather than delivered later
// with an outdated deadline. Combined with tasks that process one event
// at a time, this makes every delivered wakeup's side effects
// observable before the clock moves past it.
//
// The deadlock to avoid: a task that receives a wakeup and then neither
// Resets nor Stops its timer blocks Advance forever.
type VirtualClock struct {
	mu   sync.Mutex
	cond *sync.Cond

	now Tick

	timers  []*virtualTimer
	nextSeq uint64

	// Count of fired wakeups whose owners
	// have not yet re-armed or stopped.
	inFlight int
}

// NewVirtualClock returns a virtual clock starting at the given tick.
func NewVirtualClock(start Tick) *VirtualClock {
	vc := &VirtualClock{now: start}
	vc.cond = sync.NewCond(&vc.mu)
	return vc
}

// Now returns the clock's current tick.
func (vc *VirtualClock) Now() Tick {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.now
}

// NewTimer returns an unarmed timer bound to this clock.
func (vc *VirtualClock) NewTimer() Timer {
	vt := &virtualTimer{
		vc: vc,
		c:  make(chan Tick, 1),
	}

	vc.mu.Lock()
	vc.timers = append(vc.timers, vt)
	vc.mu.Unlock()

	return vt
}

// Advance moves the clock to the given tick,
// firing every armed timer with deadline <= to along the way.
// It returns once all fired wakeups have been acknowledged
// by a Reset or Stop on the fired timer.
// Advancing backwards is a no-op beyond firing nothing.
func (vc *VirtualClock) Advance(to Tick) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	for {
		for vc.inFlight > 0 {
			vc.cond.Wait()
		}

		vt := vc.earliestDue(to)
		if vt == nil {
			break
		}

		if vt.deadline > vc.now {
			vc.now = vt.deadline
		}
		vt.armed = false
		vt.fired = true
		vc.inFlight++

		// At most one unacknowledged wakeup exists per timer,
		// so the single-slot buffer is free and the send cannot block.
		vt.c <- vt.deadline
	}

	if to > vc.now {
		vc.now = to
	}
}

// earliestDue returns the armed timer with the smallest deadline <= to,
// breaking ties by arming order. Caller holds vc.mu.
func (vc *VirtualClock) earliestDue(to Tick) *virtualTimer {
	var best *virtualTimer
	for _, vt := range vc.timers {
		if !vt.armed || vt.deadline > to {
			continue
		}
		if best == nil ||
			vt.deadline < best.deadline ||
			(vt.deadline == best.deadline && vt.seq < best.seq) {
			best = vt
		}
	}
	return best
}

type virtualTimer struct {
	vc *VirtualClock

	// Single slot: at most one wakeup is outstanding per timer.
	c chan Tick

	deadline Tick
	seq      uint64
	armed    bool
	fired    bool
}

func (vt *virtualTimer) C() <-chan Tick { return vt.c }

func (vt *virtualTimer) Reset(t Tick) {
	vc := vt.vc
	vc.mu.Lock()
	defer vc.mu.Unlock()

	vt.ack()

	vt.deadline = t
	vt.armed = true
	vt.seq = vc.nextSeq
	vc.nextSeq++
}

func (vt *virtualTimer) Stop() {
	vc := vt.vc
	vc.mu.Lock()
	defer vc.mu.Unlock()

	vt.ack()
	vt.armed = false
}

// ack releases a pending Advance if this timer's last wakeup
// had not yet been acknowledged. A wakeup still sitting in the buffer
// was never received; the owner is re-arming on other information,
// so the stale tick is withdrawn instead of delivered late.
// Caller holds vc.mu.
func (vt *virtualTimer) ack() {
	if !vt.fired {
		return
	}

	select {
	case <-vt.c:
	default:
	}

	vt.fired = false
	vt.vc.inFlight--
	vt.vc.cond.Broadcast()
}
