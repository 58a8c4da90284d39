package oracle

import "github.com/geanlabs/gravity/types"

// Re-exported for callers that only deal with attestations.
var (
	ErrAlreadyProcessed = types.ErrAlreadyProcessed
	ErrDuplicateVote    = types.ErrDuplicateVote
	ErrUnknownVoter     = types.ErrUnknownVoter
	ErrUnknownClaim     = types.ErrUnknownClaim
)
