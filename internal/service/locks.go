package service

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// keyLocks serializes work per key_id using a fixed set of striped mutexes.
// Two keys may share a stripe; that only costs throughput, never
// correctness.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLocks) lock(keyID string) func() {
	h := fnv.New32a()
	h.Write([]byte(keyID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
