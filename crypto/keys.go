package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 20

// ErrInvalidAddress is returned when textual address input cannot be decoded
// into a well-formed 20-byte account address.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address represents a 20-byte account address. The canonical textual form is
// lowercase hex with a 0x prefix; that form is what all per-player state is
// keyed by, so String output is stable across inputs that differ only in case.
type Address struct {
	bytes [AddressLength]byte
}

func NewAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	var a Address
	copy(a.bytes[:], b)
	return a
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a.bytes[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// DecodeAddress parses a 0x-prefixed hex account address. Input case is
// ignored; surrounding whitespace is not tolerated.
func DecodeAddress(addrStr string) (Address, error) {
	if !strings.HasPrefix(addrStr, "0x") && !strings.HasPrefix(addrStr, "0X") {
		return Address{}, fmt.Errorf("%w: missing 0x prefix", ErrInvalidAddress)
	}
	decoded, err := hex.DecodeString(addrStr[2:])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != AddressLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressLength, len(decoded))
	}
	return NewAddress(decoded), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	return NewAddress(crypto.PubkeyToAddress(*k.PublicKey).Bytes())
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex decodes a secp256k1 private key from a hex string. A 0x
// prefix and surrounding whitespace are tolerated so keys can be pasted from
// wallet exports and environment variables.
func PrivateKeyFromHex(raw string) (*PrivateKey, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "0x")
	if cleaned == "" {
		return nil, errors.New("crypto: empty private key")
	}
	key, err := crypto.HexToECDSA(cleaned)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}
	return &PrivateKey{key}, nil
}
