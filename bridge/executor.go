package bridge

import (
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
)

// LogicExecutor performs the effect of a verified logic call on its target.
// It runs inside the submission's update: w already holds the released
// escrow and the advanced scope nonce, and whatever it writes commits with
// them. State must be read through w; the Bridge accessors wait for the
// update to finish. An error rejects the call and nothing is committed.
type LogicExecutor interface {
	Execute(w storage.Writer, call *types.LogicCall) error
}

// ExecutorFunc adapts a function to LogicExecutor.
type ExecutorFunc func(w storage.Writer, call *types.LogicCall) error

func (f ExecutorFunc) Execute(w storage.Writer, call *types.LogicCall) error { return f(w, call) }

// NoopExecutor accepts every call. Hosts without a call target use it, so a
// logic call only moves escrow and advances its scope nonce.
type NoopExecutor struct{}

func (NoopExecutor) Execute(storage.Writer, *types.LogicCall) error { return nil }
