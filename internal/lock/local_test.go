package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSerializesHolders(t *testing.T) {
	l := NewLocal(time.Second)
	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), ServiceKey("svc"), func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestLocalTimesOut(t *testing.T) {
	l := NewLocal(10 * time.Millisecond)
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotAcquired)
	close(release)
}

func TestLocalReleasesOnError(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocalReleasesOnPanic(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)

	assert.Panics(t, func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error { panic("fn") })
	})

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestServiceKey(t *testing.T) {
	assert.Equal(t, "service:abc", ServiceKey("abc"))
}
