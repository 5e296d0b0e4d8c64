package engagement

import "sync"

// MemoryEffectLog is an in-process EffectLog backed by a map, guarded by a
// mutex. It satisfies Execute's idempotency check for the lifetime of one
// engagement engine process; it does not survive a restart, matching every
// other piece of state pkg/track and pkg/engagement hold in memory only.
type MemoryEffectLog struct {
	mu      sync.Mutex
	records map[string]EffectRecord
}

// NewMemoryEffectLog constructs an empty MemoryEffectLog.
func NewMemoryEffectLog() *MemoryEffectLog {
	return &MemoryEffectLog{records: make(map[string]EffectRecord)}
}

// Lookup implements EffectLog.
func (l *MemoryEffectLog) Lookup(key string) (EffectRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return rec, ok
}

// Record implements EffectLog.
func (l *MemoryEffectLog) Record(key string, rec EffectRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = rec
}
