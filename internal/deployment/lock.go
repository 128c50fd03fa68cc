package deployment

import "sync"

// LockManager keeps one pipeline per application running at a time.
// Different applications deploy concurrently.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock acquires the application's lock without blocking. It returns false
// when a deploy or rollback for the application is already running.
func (lm *LockManager) TryLock(application string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[application]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[application] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the application's lock. Unknown applications are ignored.
func (lm *LockManager) Unlock(application string) {
	lm.mu.Lock()
	lock := lm.locks[application]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
