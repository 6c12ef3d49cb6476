package testutil

import "sync"

// Tracker records how many executions are active at once, overall and per
// key, so tests can check admission limits and per-record exclusivity.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Tracker struct {
	mu         sync.Mutex
	active     map[string]int
	running    int
	maxRunning int
	maxPerKey  int
	entered    []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]int)}
}

// Enter marks key as active and returns the function that marks it done.
//
//	defer tracker.Enter(rec.Key())()
func (tr *Tracker) Enter(key string) (exit func()) {
	tr.mu.Lock()
	tr.active[key]++
	tr.running++
	tr.entered = append(tr.entered, key)
	tr.maxRunning = max(tr.maxRunning, tr.running)
	tr.maxPerKey = max(tr.maxPerKey, tr.active[key])
	tr.mu.Unlock()

	return func() {
		tr.mu.Lock()
		tr.active[key]--
		tr.running--
		tr.mu.Unlock()
	}
}

// MaxRunning returns the highest number of simultaneously active entries.
func (tr *Tracker) MaxRunning() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.maxRunning
}

// MaxPerKey returns the highest number of simultaneous entries for any
// single key.
func (tr *Tracker) MaxPerKey() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.maxPerKey
}

// Entered returns every key in the order it entered.
func (tr *Tracker) Entered() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.entered...)
}

// Count returns how many times key entered.
func (tr *Tracker) Count(key string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, k := range tr.entered {
		if k == key {
			n++
		}
	}
	return n
}
