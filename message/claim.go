package message

import (
	"fmt"
	"math/big"

	"mintforge/crypto"
)

// GoldClaim is the payload a player presents to the gold contract to redeem
// accrued currency. The nonce is the value the contract compares against its
// own per-player counter before incrementing.
type GoldClaim struct {
	Player crypto.Address
	Amount *big.Int
	Nonce  uint64
}

// Pack returns the packed encoding hashed during on-chain verification:
// player(20) || amount(32) || nonce(32).
func (c GoldClaim) Pack() ([]byte, error) {
	amountWord, err := word(c.Amount)
	if err != nil {
		return nil, fmt.Errorf("message: amount: %w", err)
	}
	nonceWord := wordFromUint64(c.Nonce)

	buf := make([]byte, 0, crypto.AddressLength+2*wordSize)
	buf = append(buf, c.Player.Bytes()...)
	buf = append(buf, amountWord[:]...)
	buf = append(buf, nonceWord[:]...)
	return buf, nil
}

// Digest returns the prefixed hash that is actually signed.
func (c GoldClaim) Digest() ([]byte, error) {
	packed, err := c.Pack()
	if err != nil {
		return nil, err
	}
	return personalDigest(packed), nil
}

// Sign produces the contract-compatible 65-byte signature over the claim.
func (c GoldClaim) Sign(key *crypto.PrivateKey) ([]byte, error) {
	digest, err := c.Digest()
	if err != nil {
		return nil, err
	}
	return signDigest(digest, key)
}

// RecoverSigner returns the address whose key produced sig over this claim.
func (c GoldClaim) RecoverSigner(sig []byte) (crypto.Address, error) {
	digest, err := c.Digest()
	if err != nil {
		return crypto.Address{}, err
	}
	return recoverDigest(digest, sig)
}
