package authority

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 128

// addressLocks serialises the read-then-mutate sequence for a single player
// while letting unrelated players proceed in parallel. Stripe selection
// hashes the normalised address, so every request for the same player lands
// on the same mutex.
type addressLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *addressLocks) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%lockStripes]
}

// lockAll acquires every stripe in order. Only full-state replacement uses
// this; regular signing never holds more than one stripe.
func (l *addressLocks) lockAll() {
	for i := range l.stripes {
		l.stripes[i].Lock()
	}
}

func (l *addressLocks) unlockAll() {
	for i := len(l.stripes) - 1; i >= 0; i-- {
		l.stripes[i].Unlock()
	}
}
