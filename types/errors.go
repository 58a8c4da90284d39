package types

import "errors"

// Sentinel errors shared by every component of the core.
// Callers may use errors.Is to check for specific failure types.
var (
	ErrMalformedInput          = errors.New("malformed input")              // length mismatch, bad address or signature encoding
	ErrStaleOrForgedCurrentSet = errors.New("stale or forged current set") // claimed set does not hash to the stored checkpoint
	ErrSignatureMismatch       = errors.New("signature mismatch")          // recovered signer differs from the claimed member
	ErrInsufficientPower       = errors.New("insufficient power")          // signed power below threshold
	ErrNonceNotIncreasing      = errors.New("nonce not increasing")        // another submission already won
	ErrAlreadyProcessed        = errors.New("already processed")           // claim already reached its terminal state
	ErrExpired                 = errors.New("expired")                     // timeout reached before submission
	ErrDuplicateVote           = errors.New("duplicate vote")              // voter already voted on this claim
	ErrUnknownVoter            = errors.New("unknown voter")               // voter is not in the current validator set
	ErrUnknownClaim            = errors.New("unknown claim")               // no votes recorded for claim
	ErrInsufficientEscrow      = errors.New("insufficient escrow")         // escrowed balance cannot cover the operation
	ErrExecutionFailed         = errors.New("execution failed")            // logic call target rejected the call
	ErrNotFound                = errors.New("not found")                   // storage miss
)

// Kind groups errors by how a submitter should react to them.
type Kind string

const (
	KindOK            Kind = "ok"
	KindMalformed     Kind = "malformed"
	KindAuthorization Kind = "authorization"
	KindIdempotence   Kind = "idempotence"
	KindExpired       Kind = "expired"
	KindExecution     Kind = "execution"
	KindInternal      Kind = "internal"
)

// Classify maps an error returned by the core to its Kind. Idempotence guards
// mean a competing submission already succeeded and are not failures of the
// caller's data; authorization failures must be re-signed with current data.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrNonceNotIncreasing),
		errors.Is(err, ErrAlreadyProcessed),
		errors.Is(err, ErrDuplicateVote):
		return KindIdempotence
	case errors.Is(err, ErrStaleOrForgedCurrentSet),
		errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, ErrInsufficientPower),
		errors.Is(err, ErrUnknownVoter):
		return KindAuthorization
	case errors.Is(err, ErrMalformedInput):
		return KindMalformed
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrInsufficientEscrow),
		errors.Is(err, ErrExecutionFailed),
		errors.Is(err, ErrUnknownClaim):
		return KindExecution
	default:
		return KindInternal
	}
}

// IsIdempotenceGuard reports whether err only signals that someone else's
// submission already took effect.
func IsIdempotenceGuard(err error) bool {
	return Classify(err) == KindIdempotence
}
