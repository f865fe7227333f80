package authority

import "time"

// Defaults applied when a policy field is left unset.
const (
	DefaultClaimCooldown = 5 * time.Second
	DefaultMintWindow    = time.Minute
	DefaultMintCapacity  = 10
)

// Policy holds the rate limiting parameters enforced per player: a cooldown
// between successful gold claims and a rolling count/window pair for item
// mints.
type Policy struct {
	ClaimCooldown time.Duration
	MintWindow    time.Duration
	MintCapacity  int
}

// DefaultPolicy returns the built-in limits used when the operator supplies no
// policy file.
func DefaultPolicy() Policy {
	return Policy{
		ClaimCooldown: DefaultClaimCooldown,
		MintWindow:    DefaultMintWindow,
		MintCapacity:  DefaultMintCapacity,
	}
}

// normalize substitutes defaults for unset fields so a zero-valued policy is
// safe rather than wide open.
func (p Policy) normalize() Policy {
	if p.ClaimCooldown <= 0 {
		p.ClaimCooldown = DefaultClaimCooldown
	}
	if p.MintWindow <= 0 {
		p.MintWindow = DefaultMintWindow
	}
	if p.MintCapacity <= 0 {
		p.MintCapacity = DefaultMintCapacity
	}
	return p
}
