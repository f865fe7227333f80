// Package message constructs the byte-exact payloads the redemption contracts
// verify on chain. Field order, widths, and the namespace domain below are
// frozen: client, service, and contract each derive these bytes independently
// and must agree without coordination.
package message

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"mintforge/crypto"
)

// InstanceDomainV1 is the namespace literal mixed into instance-ID derivation.
// It is appended raw, with no length prefix or padding, matching the
// contract's abi.encodePacked of a string literal.
const InstanceDomainV1 = "MINTFORGE_ITEM_V1"

// SignatureLength is the size of a contract-compatible r||s||v signature.
const SignatureLength = 65

const wordSize = 32

var (
	// ErrValueRequired is returned when a required numeric field is nil.
	ErrValueRequired = errors.New("message: value required")
	// ErrValueRange is returned when a numeric field does not fit an
	// unsigned 256-bit word.
	ErrValueRange = errors.New("message: value out of range")
	// ErrSignatureLength is returned when a signature is not 65 bytes.
	ErrSignatureLength = errors.New("message: invalid signature length")
	// ErrNilKey is returned when signing without key material.
	ErrNilKey = errors.New("message: nil signing key")
)

// word validates v and returns it as the 32-byte big-endian word
// abi.encodePacked produces for a uint256.
func word(v *big.Int) ([wordSize]byte, error) {
	if v == nil {
		return [wordSize]byte{}, ErrValueRequired
	}
	if v.Sign() < 0 {
		return [wordSize]byte{}, fmt.Errorf("%w: negative value", ErrValueRange)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [wordSize]byte{}, fmt.Errorf("%w: exceeds 256 bits", ErrValueRange)
	}
	return u.Bytes32(), nil
}

func wordFromUint64(v uint64) [wordSize]byte {
	return uint256.NewInt(v).Bytes32()
}

// personalDigest wraps a keccak256 payload hash in the EIP-191 prefix the
// contracts apply before ecrecover.
func personalDigest(packed []byte) []byte {
	return accounts.TextHash(ethcrypto.Keccak256(packed))
}

// signDigest signs a 32-byte digest and returns the 65-byte signature with
// v in {27, 28}, the form Solidity's ecrecover expects.
func signDigest(digest []byte, key *crypto.PrivateKey) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, ErrNilKey
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("message: sign: %w", err)
	}
	sig[SignatureLength-1] += 27
	return sig, nil
}

// recoverDigest returns the address whose key produced sig over digest.
// Both v conventions are accepted: {0, 1} and {27, 28}.
func recoverDigest(digest, sig []byte) (crypto.Address, error) {
	if len(sig) != SignatureLength {
		return crypto.Address{}, ErrSignatureLength
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[SignatureLength-1] >= 27 {
		normalized[SignatureLength-1] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("message: recover signer: %w", err)
	}
	return crypto.NewAddress(ethcrypto.PubkeyToAddress(*pub).Bytes()), nil
}

// DeriveInstanceID computes the one-time identifier for one specific item
// copy: keccak256(player(20) || itemId(32) || slot(32) || domain). The result
// is stable for identical inputs and changes when any single input changes.
func DeriveInstanceID(player crypto.Address, itemID *big.Int, slot uint64) ([32]byte, error) {
	itemWord, err := word(itemID)
	if err != nil {
		return [32]byte{}, fmt.Errorf("message: itemId: %w", err)
	}
	slotWord := wordFromUint64(slot)

	buf := make([]byte, 0, crypto.AddressLength+2*wordSize+len(InstanceDomainV1))
	buf = append(buf, player.Bytes()...)
	buf = append(buf, itemWord[:]...)
	buf = append(buf, slotWord[:]...)
	buf = append(buf, InstanceDomainV1...)

	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id, nil
}
