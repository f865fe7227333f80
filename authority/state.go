package authority

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// InstanceID is the one-time identifier for a specific item copy's mint
// authorization.
type InstanceID [32]byte

// String returns the canonical lowercase hex form used as a registry key.
func (id InstanceID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is all zero bytes, which no derivation
// produces and which is rejected as input.
func (id InstanceID) IsZero() bool {
	return id == InstanceID{}
}

// ParseInstanceID decodes a 32-byte instance identifier from hex. A 0x prefix
// is optional and input case is ignored.
func ParseInstanceID(raw string) (InstanceID, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return InstanceID{}, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}
	if len(decoded) != 32 {
		return InstanceID{}, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidInstance, len(decoded))
	}
	var id InstanceID
	copy(id[:], decoded)
	return id, nil
}

// State is a point-in-time copy of the replay-protection bookkeeping: the
// per-player nonce counters and the set of live minted instance IDs. Rate
// limiter state is deliberately excluded; it is reconstructed as empty after
// a restart.
type State struct {
	Nonces    map[string]uint64 `json:"nonces"`
	Instances []string          `json:"instances"`
}

// Clone returns a deep copy so callers can hold a snapshot without sharing
// maps with the authority.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		Nonces:    make(map[string]uint64, len(s.Nonces)),
		Instances: append([]string(nil), s.Instances...),
	}
	for player, nonce := range s.Nonces {
		clone.Nonces[player] = nonce
	}
	return clone
}

// normalizeState validates and canonicalises a snapshot before it is adopted:
// addresses and instance IDs are reparsed, keys are lowercased, and instances
// are deduplicated and sorted. Any malformed entry rejects the whole snapshot.
func normalizeState(s *State) (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("authority: nil state")
	}
	out := &State{Nonces: make(map[string]uint64, len(s.Nonces))}
	for player, nonce := range s.Nonces {
		key, err := normalizeAddress(player)
		if err != nil {
			return nil, fmt.Errorf("state nonces: %w", err)
		}
		out.Nonces[key] = nonce
	}
	seen := make(map[string]struct{}, len(s.Instances))
	for _, raw := range s.Instances {
		id, err := ParseInstanceID(raw)
		if err != nil {
			return nil, fmt.Errorf("state instances: %w", err)
		}
		if id.IsZero() {
			return nil, fmt.Errorf("%w: zero instance in state", ErrInvalidInstance)
		}
		seen[id.String()] = struct{}{}
	}
	out.Instances = make([]string, 0, len(seen))
	for key := range seen {
		out.Instances = append(out.Instances, key)
	}
	sort.Strings(out.Instances)
	return out, nil
}
