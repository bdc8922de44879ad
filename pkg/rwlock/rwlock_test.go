package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSharedLockAllowsConcurrentReaders(t *testing.T) {
	l := New(4, nil)
	l.SharedLock(0)
	l.SharedLock(1)
	require.True(t, l.readersPresent())
	l.SharedUnlock(0)
	require.True(t, l.readersPresent())
	l.SharedUnlock(1)
	require.False(t, l.readersPresent())
}

func TestExclusiveLockExcludesOtherWriters(t *testing.T) {
	l := New(4, nil)
	l.ExclusiveLock()
	require.False(t, l.TryExclusiveLock())
	l.ExclusiveUnlock()
	require.True(t, l.TryExclusiveLock())
	l.ExclusiveUnlock()
}

func TestWriterPreferenceBlocksNewReaders(t *testing.T) {
	l := New(4, nil)
	l.ExclusiveLock()

	var entered atomic.Bool
	done := make(chan struct{})
	go func() {
		l.SharedLock(1)
		entered.Store(true)
		l.SharedUnlock(1)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, entered.Load(), "reader must not overtake an active writer")
	l.ExclusiveUnlock()
	<-done
	require.True(t, entered.Load())
}

func TestAtMostOneExclusiveHolder(t *testing.T) {
	l := New(8, nil)
	var wg sync.WaitGroup
	var inside atomic.Int32
	var maxSeen atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ExclusiveLock()
			n := inside.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			inside.Add(-1)
			l.ExclusiveUnlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen.Load())
}
