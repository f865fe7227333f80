package authority

import (
	"math/big"

	"mintforge/crypto"
)

// ClaimAuthorization is the signed bundle returned for a gold claim. The
// nonce is the pre-increment value the signature covers, matching what the
// verifying contract compares against its own counter.
type ClaimAuthorization struct {
	Player    crypto.Address
	Amount    *big.Int
	Nonce     uint64
	Signature []byte
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (c *ClaimAuthorization) Clone() *ClaimAuthorization {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	}
	clone.Signature = append([]byte(nil), c.Signature...)
	return &clone
}

// MintAuthorization is the signed bundle returned for an item mint.
type MintAuthorization struct {
	Player     crypto.Address
	ItemID     *big.Int
	Amount     *big.Int
	InstanceID InstanceID
	Signature  []byte
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (m *MintAuthorization) Clone() *MintAuthorization {
	if m == nil {
		return nil
	}
	clone := *m
	if m.ItemID != nil {
		clone.ItemID = new(big.Int).Set(m.ItemID)
	}
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	clone.Signature = append([]byte(nil), m.Signature...)
	return &clone
}
