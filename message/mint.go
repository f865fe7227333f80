package message

import (
	"fmt"
	"math/big"

	"mintforge/crypto"
)

// ItemMint is the payload a player presents to the item contract to mint one
// specific item copy. The instance ID makes the authorization single-use: the
// contract records it and rejects any later mint carrying the same value.
type ItemMint struct {
	Player     crypto.Address
	ItemID     *big.Int
	Amount     *big.Int
	InstanceID [32]byte
}

// Pack returns the packed encoding hashed during on-chain verification:
// player(20) || itemId(32) || amount(32) || instanceId(32).
func (m ItemMint) Pack() ([]byte, error) {
	itemWord, err := word(m.ItemID)
	if err != nil {
		return nil, fmt.Errorf("message: itemId: %w", err)
	}
	amountWord, err := word(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("message: amount: %w", err)
	}

	buf := make([]byte, 0, crypto.AddressLength+3*wordSize)
	buf = append(buf, m.Player.Bytes()...)
	buf = append(buf, itemWord[:]...)
	buf = append(buf, amountWord[:]...)
	buf = append(buf, m.InstanceID[:]...)
	return buf, nil
}

// Digest returns the prefixed hash that is actually signed.
func (m ItemMint) Digest() ([]byte, error) {
	packed, err := m.Pack()
	if err != nil {
		return nil, err
	}
	return personalDigest(packed), nil
}

// Sign produces the contract-compatible 65-byte signature over the mint.
func (m ItemMint) Sign(key *crypto.PrivateKey) ([]byte, error) {
	digest, err := m.Digest()
	if err != nil {
		return nil, err
	}
	return signDigest(digest, key)
}

// RecoverSigner returns the address whose key produced sig over this mint.
func (m ItemMint) RecoverSigner(sig []byte) (crypto.Address, error) {
	digest, err := m.Digest()
	if err != nil {
		return crypto.Address{}, err
	}
	return recoverDigest(digest, sig)
}
