package invoicelock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesSameInvoice(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(ctx, snowflake.ID(1))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locker.size())
}

func TestLocalLockerIndependentInvoices(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	releaseA, err := locker.Lock(ctx, snowflake.ID(1))
	require.NoError(t, err)
	releaseB, err := locker.Lock(ctx, snowflake.ID(2))
	require.NoError(t, err)
	releaseA()
	releaseB()
	releaseB()
	assert.Zero(t, locker.size())
}

func TestLocalLockerHonorsContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Lock(context.Background(), snowflake.ID(9))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, snowflake.ID(9))
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, locker.size())
}
