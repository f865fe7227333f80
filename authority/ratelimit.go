package authority

import "time"

// mintWindow tracks one player's rolling mint allowance: how many mints were
// authorised in the current window and when the window resets.
type mintWindow struct {
	count   int
	resetAt time.Time
}

// expired reports whether the window has elapsed at the supplied instant. The
// boundary itself still belongs to the old window.
func (w mintWindow) expired(now time.Time) bool {
	return now.After(w.resetAt)
}

// claimWait returns the remaining cooldown for a claim, or zero when the
// claim may proceed. A player that has never claimed waits nothing.
func claimWait(last time.Time, seen bool, now time.Time, cooldown time.Duration) time.Duration {
	if !seen {
		return 0
	}
	if wait := cooldown - now.Sub(last); wait > 0 {
		return wait
	}
	return 0
}

// mintWait returns the remaining wait before the player may mint again, or
// zero when the window has capacity. Rejection never mutates the window.
func mintWait(win mintWindow, now time.Time, capacity int) time.Duration {
	if win.expired(now) {
		return 0
	}
	if win.count < capacity {
		return 0
	}
	return win.resetAt.Sub(now)
}

// advanceWindow returns the window state after one accepted mint: a fresh
// (1, now+window) pair when the previous window elapsed, otherwise the same
// window with the count incremented.
func advanceWindow(win mintWindow, now time.Time, window time.Duration) mintWindow {
	if win.expired(now) {
		return mintWindow{count: 1, resetAt: now.Add(window)}
	}
	win.count++
	return win
}
