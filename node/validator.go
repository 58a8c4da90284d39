package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/types"
)

// dutyInterval is how often pending operations are checked for signing.
const dutyInterval = time.Second

// Duties signs on behalf of the local validator key: it confirms every
// pending batch and logic call, and turns observed events into votes.
type Duties struct {
	Signer sigverify.Signer
	Node   *Node
	log    *slog.Logger
}

func (d *Duties) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(dutyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ConfirmPending(ctx)
		}
	}
}

// ConfirmPending signs every pending operation the local key has not
// confirmed yet. It returns the number of new confirmations.
func (d *Duties) ConfirmPending(ctx context.Context) int {
	ops, err := d.Node.pool.Unconfirmed(d.Signer.Address())
	if err != nil {
		d.log.Error("list unconfirmed operations", "error", err)
		return 0
	}

	confirmed := 0
	for _, op := range ops {
		sig, err := d.Signer.Sign(op.Checkpoint)
		if err != nil {
			d.log.Error("sign confirmation", "checkpoint", logging.Digest(op.Checkpoint), "error", err)
			continue
		}
		c := bridge.Confirm{Checkpoint: op.Checkpoint, Signer: d.Signer.Address(), Signature: sig}
		if err := d.Node.Confirm(ctx, c); err != nil {
			// Not a member of the current set; nothing else will succeed.
			if errors.Is(err, types.ErrUnknownVoter) {
				return confirmed
			}
			continue
		}
		confirmed++
		d.log.Debug("confirmed operation",
			"kind", op.Kind,
			"checkpoint", logging.Digest(op.Checkpoint),
		)
	}
	return confirmed
}

// Observe signs and submits the local validator's vote that claim id is the
// event with digest.
func (d *Duties) Observe(ctx context.Context, id types.ClaimID, digest types.Digest) error {
	sig, err := d.Signer.Sign(checkpoint.OracleVote(d.Node.valset.BridgeID(), id, digest))
	if err != nil {
		return err
	}
	return d.Node.Vote(ctx, types.Vote{
		ClaimID:     id,
		EventDigest: digest,
		Voter:       d.Signer.Address(),
		Signature:   sig,
	})
}

// Duties returns the local validator duties, or nil without a validator key.
func (n *Node) Duties() *Duties { return n.duties }
