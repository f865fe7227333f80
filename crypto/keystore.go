package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrKeystorePassphrase is returned when a keystore file decrypts with a
// different passphrase than the one supplied. Callers use it to distinguish
// a retryable bad passphrase from a corrupt or missing file.
var ErrKeystorePassphrase = errors.New("crypto: wrong keystore passphrase")

// SaveToKeystore encrypts the signing key into an Ethereum v3 keystore file
// at path using scrypt at the standard cost. The file is written to a
// temporary name and renamed into place, so a crash mid-write never leaves a
// truncated keystore behind, and ends up mode 0600.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil signing key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}

	entry := &keystore.Key{
		Id:         uuid.New(),
		Address:    common.BytesToAddress(key.PubKey().Address().Bytes()),
		PrivateKey: key.PrivateKey,
	}
	encrypted, err := keystore.EncryptKey(entry, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt signing key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crypto: create keystore dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return fmt.Errorf("crypto: stage keystore: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("crypto: write keystore: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("crypto: restrict keystore permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("crypto: close keystore: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("crypto: install keystore: %w", err)
	}
	return nil
}

// LoadFromKeystore decrypts the v3 keystore file at path and verifies that
// the embedded address matches the recovered key before handing it out.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}

	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, fmt.Errorf("%w: %s", ErrKeystorePassphrase, path)
		}
		return nil, fmt.Errorf("crypto: decrypt keystore %s: %w", path, err)
	}

	key := &PrivateKey{decrypted.PrivateKey}
	if derived := common.BytesToAddress(key.PubKey().Address().Bytes()); derived != decrypted.Address {
		return nil, fmt.Errorf("crypto: keystore %s embeds address %s but key derives %s",
			path, decrypted.Address.Hex(), derived.Hex())
	}
	return key, nil
}
