package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"mintforge/authority"
)

// snapshotVersion identifies the on-disk snapshot layout.
const snapshotVersion = 1

// ErrSnapshotDigest is returned when a snapshot file fails its integrity
// check. A mismatch means the file was truncated or edited and must not be
// loaded into a live authority.
var ErrSnapshotDigest = errors.New("storage: snapshot digest mismatch")

// snapshotFile wraps an exported state with a BLAKE3 digest over the
// canonical JSON encoding of the state payload.
type snapshotFile struct {
	Version int              `json:"version"`
	Digest  string           `json:"digest"`
	State   *authority.State `json:"state"`
}

// WriteSnapshot persists the state to path, writing to a temp file first and
// renaming into place so readers never observe a partial snapshot.
func WriteSnapshot(path string, state *authority.State) error {
	if state == nil {
		return fmt.Errorf("storage: nil snapshot state")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: encode snapshot state: %w", err)
	}
	digest := blake3.Sum256(payload)
	file := snapshotFile{
		Version: snapshotVersion,
		Digest:  hex.EncodeToString(digest[:]),
		State:   state,
	}
	encoded, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "snapshot-")
	if err != nil {
		return fmt.Errorf("storage: create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: finalise snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads and verifies a snapshot previously written with
// WriteSnapshot.
func ReadSnapshot(path string) (*authority.State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read snapshot: %w", err)
	}
	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("storage: decode snapshot: %w", err)
	}
	if file.Version != snapshotVersion {
		return nil, fmt.Errorf("storage: unsupported snapshot version %d", file.Version)
	}
	if file.State == nil {
		return nil, fmt.Errorf("storage: snapshot missing state")
	}
	payload, err := json.Marshal(file.State)
	if err != nil {
		return nil, fmt.Errorf("storage: re-encode snapshot state: %w", err)
	}
	digest := blake3.Sum256(payload)
	if hex.EncodeToString(digest[:]) != file.Digest {
		return nil, ErrSnapshotDigest
	}
	return file.State, nil
}
