package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/store"
)

func rec(typ, id string) store.Record {
	return store.Record{Type: typ, ID: id}
}

func TestLocker_NewLocker(t *testing.T) {
	l := NewLocker()
	require.NotNil(t, l)
	assert.Equal(t, 0, l.Len())
}

func TestLocker_LockThenLocked(t *testing.T) {
	l := NewLocker()
	r := rec("main", "m-1")

	assert.False(t, l.Locked("w", r), "fresh key should not be locked")
	require.NoError(t, l.Lock("w", r))
	assert.True(t, l.Locked("w", r))
	assert.Equal(t, 1, l.Len())
}

func TestLocker_LockTwiceIsCallerError(t *testing.T) {
	l := NewLocker()
	r := rec("main", "m-1")

	require.NoError(t, l.Lock("w", r))
	err := l.Lock("w", r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	assert.Equal(t, 1, l.Len(), "failed lock must not add a second entry")
}

func TestLocker_KeyIncludesWorkTypeAndID(t *testing.T) {
	l := NewLocker()
	require.NoError(t, l.Lock("w1", rec("main", "x")))

	assert.False(t, l.Locked("w2", rec("main", "x")), "different work")
	assert.False(t, l.Locked("w1", rec("record_1", "x")), "different type")
	assert.False(t, l.Locked("w1", rec("main", "y")), "different id")

	require.NoError(t, l.Lock("w2", rec("main", "x")))
	assert.Equal(t, 2, l.Len())
}

func TestLocker_Unlock(t *testing.T) {
	l := NewLocker()
	r := rec("main", "m-1")

	require.NoError(t, l.Lock("w", r))
	l.Unlock("w", r)
	assert.False(t, l.Locked("w", r))
	assert.Equal(t, 0, l.Len())

	// Unlocking again is a no-op
	l.Unlock("w", r)
	assert.Equal(t, 0, l.Len())

	require.NoError(t, l.Lock("w", r), "released key can be locked again")
}

func TestLocker_ConcurrentLockOneWinner(t *testing.T) {
	l := NewLocker()
	r := rec("main", "m-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Lock("w", r) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
