// Package hwconsensus (Highway CONSENSUS) contains the plain data types
// of the Highway protocol core -- eras, validator bonds, and the
// block and vote messages exchanged between validators -- together with
// the pure derivations over them: round arithmetic, the omega-vote window,
// era boundary computation, and the deterministic stake-weighted
// leader draw.
//
// It also declares the contracts of the collaborators the core consumes
// but does not implement: message production, fork choice, relaying,
// and the node's synchronization status.
// The machinery that drives these types lives in the hwengine package.
package hwconsensus
