package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "alice")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, l.held())
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	releaseA, err := l.Lock(context.Background(), "alice")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := l.Lock(ctx, "bob")
	require.NoError(t, err)
	releaseB()
}

func TestLocalLocker_Timeout(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Lock(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "alice")
	assert.ErrorIs(t, err, ErrTimeout)

	release()
	release() // idempotent
	assert.Equal(t, 0, l.held())
}

func newMockLocker(t *testing.T) (*RedisLocker, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	l := NewRedisLocker(client, 30*time.Second)
	l.retry = time.Millisecond
	l.newToken = func() string { return "tok-1" }
	return l, mock
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	l, mock := newMockLocker(t)
	mock.ExpectSetNX(keyPrefix+"alice", "tok-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{keyPrefix + "alice"}, "tok-1").SetVal(int64(1))

	release, err := l.Lock(context.Background(), "alice")
	require.NoError(t, err)
	release()
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RetriesWhileHeld(t *testing.T) {
	l, mock := newMockLocker(t)
	mock.ExpectSetNX(keyPrefix+"alice", "tok-1", 30*time.Second).SetVal(false)
	mock.ExpectSetNX(keyPrefix+"alice", "tok-1", 30*time.Second).SetVal(true)

	_, err := l.Lock(context.Background(), "alice")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_Timeout(t *testing.T) {
	l, mock := newMockLocker(t)
	l.retry = 50 * time.Millisecond
	mock.ExpectSetNX(keyPrefix+"alice", "tok-1", 30*time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "alice")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRedisLocker_BackendError(t *testing.T) {
	l, mock := newMockLocker(t)
	mock.ExpectSetNX(keyPrefix+"alice", "tok-1", 30*time.Second).SetErr(errors.New("READONLY"))

	_, err := l.Lock(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "READONLY")
}
