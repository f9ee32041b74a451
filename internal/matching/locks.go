package matching

import "sync"

// LockToken derives the advisory lock token for an asset symbol by summing
// its byte values. Distinct assets can collide on a token; that only
// over-serializes, never under-serializes.
func LockToken(asset string) uint32 {
	var sum uint32
	for i := 0; i < len(asset); i++ {
		sum += uint32(asset[i])
	}
	return sum
}

// LockRegistry is the named advisory lock used to serialize matching per
// asset. Matching workers share a process, so a process-local registry is
// the unit of mutual exclusion; swapping in a distributed lock behind this
// type is the extension point if matching ever runs on multiple nodes.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[uint32]*sync.Mutex
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[uint32]*sync.Mutex)}
}

// Acquire blocks until the advisory lock for asset is held and returns the
// release function.
func (r *LockRegistry) Acquire(asset string) func() {
	token := LockToken(asset)

	r.mu.Lock()
	lock, ok := r.locks[token]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[token] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
