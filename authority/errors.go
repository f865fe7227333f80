package authority

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInitialised is returned when methods are invoked on a nil or
	// partially constructed authority.
	ErrNotInitialised = errors.New("authority: not initialised")
	// ErrInvalidAddress is returned when a player address fails to parse.
	ErrInvalidAddress = errors.New("authority: invalid player address")
	// ErrInvalidAmount is returned when an amount is missing, not strictly
	// positive, or does not fit an unsigned 256-bit word.
	ErrInvalidAmount = errors.New("authority: amount must be a positive uint256")
	// ErrInvalidItem is returned when an item identifier is missing or out
	// of range.
	ErrInvalidItem = errors.New("authority: invalid item id")
	// ErrInvalidInstance is returned for malformed or all-zero instance IDs.
	ErrInvalidInstance = errors.New("authority: invalid instance id")
	// ErrRateLimited is returned when a claim arrives before the player's
	// cooldown has elapsed.
	ErrRateLimited = errors.New("authority: claim rate limited")
	// ErrMintRateLimited is returned when a player's mint window is full.
	ErrMintRateLimited = errors.New("authority: mint rate limited")
	// ErrDuplicateInstance is returned when an instance ID has already been
	// signed for mint and not cleared. It signals a replay attempt and is
	// distinct from routine rate limiting.
	ErrDuplicateInstance = errors.New("authority: instance already minted")
)

// RateLimitedError wraps ErrRateLimited or ErrMintRateLimited with the wait
// callers should surface to the player.
type RateLimitedError struct {
	RetryAfter time.Duration
	err        error
}

func (e *RateLimitedError) Error() string {
	if e == nil || e.err == nil {
		return "authority: rate limited"
	}
	return fmt.Sprintf("%v (retry in %s)", e.err, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func newRateLimited(sentinel error, retryAfter time.Duration) *RateLimitedError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &RateLimitedError{RetryAfter: retryAfter, err: sentinel}
}
