// Package hwengine (Highway ENGINE) drives the Highway consensus core:
// one [Runtime] per era, each a single goroutine owning all of its
// era's mutable state, and a [Supervisor] owning the set of running
// eras, creating children as parents end, routing inbound messages,
// and retiring eras whose voting window has closed.
//
// All collaborators -- clock, storage, message producer, fork choice,
// relaying, and synchronization status -- are explicit constructor
// dependencies; nothing is reached through ambient state.
// Decision-local failures (a storage write, an unavailable producer)
// are reported as [RuntimeError] events and the runtime carries on at
// its next wakeup; configuration and lifecycle errors are returned
// from constructors and are fatal there.
package hwengine
