package authority

// Journal receives every replay-protection mutation before the in-memory
// commit becomes visible. A journal error aborts the request and discards any
// signature already produced, so a crash can never rewind state behind a
// signature that was handed out. Implementations must be safe for concurrent
// use; calls for a single player are already serialised by the authority.
type Journal interface {
	// ClaimCommitted records that a player's nonce advanced to nextNonce
	// after a successful gold claim.
	ClaimCommitted(player string, nextNonce uint64) error
	// MintCommitted records that an instance ID entered the minted set.
	MintCommitted(player string, instanceID string) error
	// InstanceCleared records that a burned instance left the minted set.
	InstanceCleared(instanceID string) error
	// NonceReset records an administrative nonce rewind to zero.
	NonceReset(player string) error
	// Replace substitutes the entire journal contents with the supplied
	// snapshot. Used by full-state restores.
	Replace(state *State) error
}

// noopJournal is the default when no durable backend is wired, e.g. in tests
// or read-only tooling.
type noopJournal struct{}

func (noopJournal) ClaimCommitted(string, uint64) error { return nil }
func (noopJournal) MintCommitted(string, string) error  { return nil }
func (noopJournal) InstanceCleared(string) error        { return nil }
func (noopJournal) NonceReset(string) error             { return nil }
func (noopJournal) Replace(*State) error                { return nil }
