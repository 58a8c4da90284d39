package types

// ClaimID identifies an observed foreign-chain event (its event nonce).
type ClaimID uint64

// Vote is one validator's signed observation of a foreign-chain event.
type Vote struct {
	ClaimID     ClaimID   `json:"claim_id"`
	EventDigest Digest    `json:"event_digest"`
	Voter       Address   `json:"voter"`
	Signature   Signature `json:"signature"`
}

// Observation collects the voters that agree on one event digest.
type Observation struct {
	EventDigest Digest    `json:"event_digest" msgpack:"event_digest"`
	Voters      []Address `json:"voters" msgpack:"voters"`
}

// Claim accumulates votes for a claim id. Voters only grow; Processed moves
// from false to true exactly once.
type Claim struct {
	ID           ClaimID       `json:"id" msgpack:"id"`
	Observations []Observation `json:"observations" msgpack:"observations"`
	Processed    bool          `json:"processed" msgpack:"processed"`
	Accepted     Digest        `json:"accepted" msgpack:"accepted"`
}

// HasVoted reports whether voter has voted for any digest of this claim.
func (c *Claim) HasVoted(voter Address) bool {
	for _, o := range c.Observations {
		for _, v := range o.Voters {
			if v == voter {
				return true
			}
		}
	}
	return false
}

// AddVote records voter under digest. Callers check HasVoted first.
func (c *Claim) AddVote(digest Digest, voter Address) {
	for i := range c.Observations {
		if c.Observations[i].EventDigest == digest {
			c.Observations[i].Voters = append(c.Observations[i].Voters, voter)
			return
		}
	}
	c.Observations = append(c.Observations, Observation{EventDigest: digest, Voters: []Address{voter}})
}
