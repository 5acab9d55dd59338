package consensus

import "errors"

// Construction-time configuration errors. A Replica that cannot be built
// correctly must fail loudly rather than run with undefined semantics.
var (
	// ErrEmptyRoster is returned when NewReplica is given no known replica IDs.
	ErrEmptyRoster = errors.New("consensus: roster must contain at least one replica")

	// ErrMissingSelfKey is returned when the local replica's own ID is absent
	// from the roster's public key map.
	ErrMissingSelfKey = errors.New("consensus: self ID has no entry in the roster's public keys")

	// ErrInvalidTolerance is returned when f is less than 1 or the roster is
	// too small to tolerate f Byzantine replicas (roster size must be >= 2f+1).
	ErrInvalidTolerance = errors.New("consensus: f must be >= 1 and roster size must be >= 2f+1")
)
