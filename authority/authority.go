// Package authority implements the off-chain signing authority that issues
// replay-protected redemption authorizations. Every signature it produces is
// re-verified independently by the paired on-chain contracts, so the package
// enforces the full precondition set locally: address and amount validation,
// per-player rate limits, nonce monotonicity for gold claims, and one-time
// instance IDs for item mints.
package authority

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"mintforge/crypto"
	"mintforge/events"
	"mintforge/message"
)

// instanceEntry tracks one live instance ID. Pending entries are reservations
// taken before the signature and journal write complete; they block duplicate
// mints but are invisible to reads and snapshots until committed.
type instanceEntry struct {
	player  string
	pending bool
}

// Authority is the process-wide signing service. Construct one per process
// and pass it by reference to every caller; all mutation happens through its
// methods.
type Authority struct {
	signer  *crypto.PrivateKey
	address crypto.Address
	policy  Policy
	journal Journal
	emitter events.Emitter
	nowFn   func() time.Time

	locks addressLocks

	mu        sync.RWMutex
	nonces    map[string]uint64
	instances map[string]instanceEntry
	cooldowns map[string]time.Time
	windows   map[string]mintWindow
}

// New constructs an authority around the supplied signing key. A nil key is a
// configuration error and fails construction outright.
func New(key *crypto.PrivateKey, policy Policy) (*Authority, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, fmt.Errorf("%w: missing signing key", ErrNotInitialised)
	}
	return &Authority{
		signer:    key,
		address:   key.PubKey().Address(),
		policy:    policy.normalize(),
		journal:   noopJournal{},
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		nonces:    make(map[string]uint64),
		instances: make(map[string]instanceEntry),
		cooldowns: make(map[string]time.Time),
		windows:   make(map[string]mintWindow),
	}, nil
}

// NewFromKeyBytes constructs an authority from raw secp256k1 key material.
// Malformed or truncated material fails construction entirely.
func NewFromKeyBytes(material []byte, policy Policy) (*Authority, error) {
	key, err := crypto.PrivateKeyFromBytes(material)
	if err != nil {
		return nil, fmt.Errorf("authority: invalid key material: %w", err)
	}
	return New(key, policy)
}

// SetJournal wires a durable journal. Wire it before serving traffic; every
// commit after this call is written through first.
func (a *Authority) SetJournal(journal Journal) {
	if a == nil {
		return
	}
	if journal == nil {
		a.journal = noopJournal{}
		return
	}
	a.journal = journal
}

// SetEmitter overrides the event emitter.
func (a *Authority) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// SetClock overrides the time source (primarily for deterministic testing).
func (a *Authority) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.nowFn = clock
}

// Address returns the signer address the verifying contracts are configured
// with.
func (a *Authority) Address() crypto.Address {
	if a == nil {
		return crypto.Address{}
	}
	return a.address
}

// Policy returns the active rate limiting parameters.
func (a *Authority) Policy() Policy {
	if a == nil {
		return Policy{}
	}
	return a.policy
}

// SignGoldClaim authorises a currency redemption for the player. The returned
// nonce is the value the signature covers; the stored counter advances to
// nonce+1 only after the signature and journal write both succeed, so a
// failed attempt leaves no trace.
func (a *Authority) SignGoldClaim(player string, amount *big.Int) (*ClaimAuthorization, error) {
	if a == nil || a.signer == nil {
		return nil, ErrNotInitialised
	}
	addr, key, err := parsePlayer(player)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	lock := a.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	now := a.nowFn().UTC()
	a.mu.RLock()
	last, seen := a.cooldowns[key]
	nonce := a.nonces[key]
	a.mu.RUnlock()
	if wait := claimWait(last, seen, now, a.policy.ClaimCooldown); wait > 0 {
		return nil, newRateLimited(ErrRateLimited, wait)
	}

	claim := message.GoldClaim{Player: addr, Amount: amount, Nonce: nonce}
	sig, err := claim.Sign(a.signer)
	if err != nil {
		return nil, fmt.Errorf("authority: sign claim: %w", err)
	}
	if err := a.journal.ClaimCommitted(key, nonce+1); err != nil {
		return nil, fmt.Errorf("authority: journal claim: %w", err)
	}

	a.mu.Lock()
	a.nonces[key] = nonce + 1
	a.cooldowns[key] = now
	a.mu.Unlock()

	a.emitter.Emit(events.GoldClaimSigned{Player: key, Amount: new(big.Int).Set(amount), Nonce: nonce})

	return &ClaimAuthorization{
		Player:    addr,
		Amount:    new(big.Int).Set(amount),
		Nonce:     nonce,
		Signature: sig,
	}, nil
}

// SignItemMint authorises minting one specific item copy. The instance ID is
// reserved before the signature is produced, so a racing request carrying the
// same ID fails the duplicate check rather than double-signing; the
// reservation is rolled back if signing or journaling fails.
func (a *Authority) SignItemMint(player string, itemID, amount *big.Int, instanceID InstanceID) (*MintAuthorization, error) {
	if a == nil || a.signer == nil {
		return nil, ErrNotInitialised
	}
	addr, key, err := parsePlayer(player)
	if err != nil {
		return nil, err
	}
	if err := validateItemID(itemID); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if instanceID.IsZero() {
		return nil, fmt.Errorf("%w: zero id", ErrInvalidInstance)
	}
	instanceKey := instanceID.String()

	lock := a.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	now := a.nowFn().UTC()

	a.mu.Lock()
	if _, exists := a.instances[instanceKey]; exists {
		a.mu.Unlock()
		return nil, ErrDuplicateInstance
	}
	if wait := mintWait(a.windows[key], now, a.policy.MintCapacity); wait > 0 {
		a.mu.Unlock()
		return nil, newRateLimited(ErrMintRateLimited, wait)
	}
	a.instances[instanceKey] = instanceEntry{player: key, pending: true}
	a.mu.Unlock()

	release := func() {
		a.mu.Lock()
		delete(a.instances, instanceKey)
		a.mu.Unlock()
	}

	mint := message.ItemMint{Player: addr, ItemID: itemID, Amount: amount, InstanceID: [32]byte(instanceID)}
	sig, err := mint.Sign(a.signer)
	if err != nil {
		release()
		return nil, fmt.Errorf("authority: sign mint: %w", err)
	}
	if err := a.journal.MintCommitted(key, instanceKey); err != nil {
		release()
		return nil, fmt.Errorf("authority: journal mint: %w", err)
	}

	a.mu.Lock()
	a.instances[instanceKey] = instanceEntry{player: key}
	a.windows[key] = advanceWindow(a.windows[key], now, a.policy.MintWindow)
	a.mu.Unlock()

	a.emitter.Emit(events.ItemMintSigned{
		Player:     key,
		ItemID:     new(big.Int).Set(itemID),
		Amount:     new(big.Int).Set(amount),
		InstanceID: instanceKey,
	})

	return &MintAuthorization{
		Player:     addr,
		ItemID:     new(big.Int).Set(itemID),
		Amount:     new(big.Int).Set(amount),
		InstanceID: instanceID,
		Signature:  sig,
	}, nil
}

// CalculateInstanceID derives the one-time identifier for an inventory slot.
// Pure and deterministic; contract, client, and service must agree on every
// byte.
func (a *Authority) CalculateInstanceID(player string, itemID *big.Int, slot uint64) (InstanceID, error) {
	if a == nil {
		return InstanceID{}, ErrNotInitialised
	}
	addr, _, err := parsePlayer(player)
	if err != nil {
		return InstanceID{}, err
	}
	if err := validateItemID(itemID); err != nil {
		return InstanceID{}, err
	}
	id, err := message.DeriveInstanceID(addr, itemID, slot)
	if err != nil {
		return InstanceID{}, fmt.Errorf("authority: derive instance id: %w", err)
	}
	return InstanceID(id), nil
}

// GetNonce returns the next nonce the player's claim would be signed with.
func (a *Authority) GetNonce(player string) (uint64, error) {
	if a == nil {
		return 0, ErrNotInitialised
	}
	_, key, err := parsePlayer(player)
	if err != nil {
		return 0, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[key], nil
}

// IsInstanceMinted reports whether the instance ID is currently registered as
// minted. In-flight reservations are not visible; only committed mints count.
func (a *Authority) IsInstanceMinted(id InstanceID) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.instances[id.String()]
	return ok && !entry.pending
}

// ResetNonce rewinds a player's claim nonce to zero. This desynchronises the
// authority from the contract whenever any prior nonce was already consumed
// on-chain, so it is restricted to operators and always audited with a
// reason.
func (a *Authority) ResetNonce(player, reason string) error {
	if a == nil {
		return ErrNotInitialised
	}
	_, key, err := parsePlayer(player)
	if err != nil {
		return err
	}
	reason = normalizeReason(reason)

	lock := a.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	if err := a.journal.NonceReset(key); err != nil {
		return fmt.Errorf("authority: journal reset: %w", err)
	}

	a.mu.Lock()
	previous := a.nonces[key]
	delete(a.nonces, key)
	a.mu.Unlock()

	a.emitter.Emit(events.NonceReset{Player: key, Previous: previous, Reason: reason})
	return nil
}

// ClearMintedInstance removes a burned instance from the registry so the slot
// can be minted again. Intended to run only after the chain watcher confirms
// the corresponding burn; clearing an unknown or in-flight ID is a no-op.
func (a *Authority) ClearMintedInstance(id InstanceID, reason string) error {
	if a == nil {
		return ErrNotInitialised
	}
	if id.IsZero() {
		return fmt.Errorf("%w: zero id", ErrInvalidInstance)
	}
	reason = normalizeReason(reason)
	instanceKey := id.String()

	a.mu.RLock()
	entry, ok := a.instances[instanceKey]
	a.mu.RUnlock()
	if !ok || entry.pending {
		return nil
	}

	// Serialise with any mint activity of the owning player. Instances
	// restored from a snapshot carry no owner and share one stripe.
	lock := a.locks.forKey(entry.player)
	lock.Lock()
	defer lock.Unlock()

	a.mu.RLock()
	entry, ok = a.instances[instanceKey]
	a.mu.RUnlock()
	if !ok || entry.pending {
		return nil
	}

	if err := a.journal.InstanceCleared(instanceKey); err != nil {
		return fmt.Errorf("authority: journal clear: %w", err)
	}

	a.mu.Lock()
	delete(a.instances, instanceKey)
	a.mu.Unlock()

	a.emitter.Emit(events.InstanceCleared{InstanceID: instanceKey, Reason: reason})
	return nil
}

// ExportState returns a point-in-time copy of the nonce counters and the
// committed instance set. The copy shares nothing with the live maps, so
// persisting it never blocks or tears against concurrent signing.
func (a *Authority) ExportState() *State {
	if a == nil {
		return &State{Nonces: map[string]uint64{}, Instances: []string{}}
	}
	a.mu.RLock()
	state := &State{
		Nonces:    make(map[string]uint64, len(a.nonces)),
		Instances: make([]string, 0, len(a.instances)),
	}
	for player, nonce := range a.nonces {
		state.Nonces[player] = nonce
	}
	for instanceKey, entry := range a.instances {
		if entry.pending {
			continue
		}
		state.Instances = append(state.Instances, instanceKey)
	}
	a.mu.RUnlock()
	sort.Strings(state.Instances)
	return state
}

// LoadState replaces the authority's replay-protection state with the
// supplied snapshot, validating every entry first. The journal is rewritten
// to match before the in-memory swap, and all in-flight signing is fenced out
// for the duration.
func (a *Authority) LoadState(state *State) error {
	if a == nil {
		return ErrNotInitialised
	}
	normalized, err := normalizeState(state)
	if err != nil {
		return err
	}

	a.locks.lockAll()
	defer a.locks.unlockAll()

	if err := a.journal.Replace(normalized); err != nil {
		return fmt.Errorf("authority: journal replace: %w", err)
	}

	instances := make(map[string]instanceEntry, len(normalized.Instances))
	for _, instanceKey := range normalized.Instances {
		instances[instanceKey] = instanceEntry{}
	}
	nonces := make(map[string]uint64, len(normalized.Nonces))
	for player, nonce := range normalized.Nonces {
		nonces[player] = nonce
	}

	a.mu.Lock()
	a.nonces = nonces
	a.instances = instances
	a.mu.Unlock()
	return nil
}

func parsePlayer(raw string) (crypto.Address, string, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return addr, addr.String(), nil
}

func normalizeAddress(raw string) (string, error) {
	_, key, err := parsePlayer(raw)
	return key, err
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.BitLen() > 256 {
		return fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return nil
}

func validateItemID(itemID *big.Int) error {
	if itemID == nil || itemID.Sign() < 0 {
		return ErrInvalidItem
	}
	if itemID.BitLen() > 256 {
		return fmt.Errorf("%w: exceeds 256 bits", ErrInvalidItem)
	}
	return nil
}

// normalizeReason canonicalises operator-supplied audit reasons so journal
// and event payloads compare stably. Empty reasons default to "manual".
func normalizeReason(reason string) string {
	cleaned := norm.NFC.String(strings.TrimSpace(reason))
	if cleaned == "" {
		return "manual"
	}
	return cleaned
}
