package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacklog_AdmitRelease(t *testing.T) {
	b := NewBacklog(2, time.Second)

	r1, err := b.Admit()
	require.NoError(t, err)
	r2, err := b.Admit()
	require.NoError(t, err)

	pending, limit := b.Snapshot()
	assert.Equal(t, 2, pending)
	assert.Equal(t, 2, limit)
	assert.True(t, b.Full())

	_, err = b.Admit()
	var busy *ErrBusy
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, 2, busy.Pending)
	assert.Equal(t, 2, busy.Limit)
	assert.Equal(t, time.Second, busy.RetryAfter)

	r1()
	r1() // release is idempotent
	pending, _ = b.Snapshot()
	assert.Equal(t, 1, pending)

	r3, err := b.Admit()
	require.NoError(t, err)
	r2()
	r3()

	pending, _ = b.Snapshot()
	assert.Equal(t, 0, pending)
}

func TestBacklog_ZeroCeilingAlwaysRejects(t *testing.T) {
	b := NewBacklog(0, 0)

	for i := 0; i < 3; i++ {
		release, err := b.Admit()
		var busy *ErrBusy
		require.ErrorAs(t, err, &busy)
		assert.Nil(t, release)
		assert.Equal(t, 0, busy.Pending)
		assert.Equal(t, 0, busy.Limit)
		assert.Equal(t, DefaultRetryAfter, busy.RetryAfter)
	}

	pending, limit := b.Snapshot()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, limit)
}

func TestBacklog_ConcurrentAdmits(t *testing.T) {
	const limit = 8
	b := NewBacklog(limit, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var releases []func()
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := b.Admit(); err == nil {
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Slots are held until here, so admissions never exceed the ceiling.
	assert.Equal(t, limit, len(releases))
	for _, release := range releases {
		release()
	}
	pending, _ := b.Snapshot()
	assert.Equal(t, 0, pending)
}
