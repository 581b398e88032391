package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateKeysAreUniqueAndPrefixed(t *testing.T) {
	reg := NewRegistry[string]("fetch")
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		key, _ := reg.Allocate()
		assert.True(t, strings.HasPrefix(key, "fetch_"))
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
	assert.Equal(t, 100, reg.Pending())
}

func TestResolveOutOfOrder(t *testing.T) {
	reg := NewRegistry[int]("call")
	k1, f1 := reg.Allocate()
	k2, f2 := reg.Allocate()

	assert.True(t, reg.Resolve(k2, 2))
	assert.True(t, reg.Resolve(k1, 1))

	ctx := context.Background()
	v1, err := f1.Wait(ctx)
	require.NoError(t, err)
	v2, err := f2.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
	assert.Zero(t, reg.Pending())
}

func TestUnknownKeyIsNoOp(t *testing.T) {
	reg := NewRegistry[int]("call")
	key, fut := reg.Allocate()

	assert.False(t, reg.Resolve("call_missing", 1))
	assert.False(t, reg.Reject("call_missing", errors.New("x")))
	assert.Equal(t, 1, reg.Pending())

	require.True(t, reg.Resolve(key, 5))
	assert.False(t, reg.Resolve(key, 6), "second reply must be ignored")

	v, err, ok := fut.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestReject(t *testing.T) {
	reg := NewRegistry[int]("call")
	key, fut := reg.Allocate()
	boom := errors.New("boom")

	require.True(t, reg.Reject(key, boom))
	_, err := fut.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry[int]("ws")
	key, fut := reg.Allocate()

	assert.True(t, reg.Remove(key))
	assert.False(t, reg.Remove(key))
	assert.False(t, reg.Has(key))

	_, _, settled := fut.Result()
	assert.False(t, settled)
}

func TestTimeout(t *testing.T) {
	reg := NewRegistry[int]("call", WithTimeout(20*time.Millisecond))
	_, fut := reg.Allocate()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, reg.Pending())
}

func TestNoTimeoutWaitsIndefinitely(t *testing.T) {
	reg := NewRegistry[int]("call")
	_, fut := reg.Allocate()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, reg.Pending(), "caller giving up must not drop the session")
}

func TestCloseRejectsPending(t *testing.T) {
	reg := NewRegistry[int]("call")
	_, f1 := reg.Allocate()
	_, f2 := reg.Allocate()

	reg.Close(nil)

	for _, f := range []*Future[int]{f1, f2} {
		_, err := f.Wait(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	}

	_, late := reg.Allocate()
	_, err := late.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestObserverTracksPending(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	reg := NewRegistry[int]("call", WithObserver(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}))

	k, _ := reg.Allocate()
	reg.Allocate()
	reg.Resolve(k, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestConcurrentResolve(t *testing.T) {
	reg := NewRegistry[int]("call")
	const n = 50

	keys := make([]string, n)
	futures := make([]*Future[int], n)
	for i := range keys {
		keys[i], futures[i] = reg.Allocate()
	}

	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Resolve(keys[i], i)
		}(i)
	}
	wg.Wait()

	for i, f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestOnSettle(t *testing.T) {
	reg := NewRegistry[string]("call")
	key, fut := reg.Allocate()

	got := make(chan string, 2)
	fut.OnSettle(func(v string, err error) { got <- v })
	reg.Resolve(key, "done")
	fut.OnSettle(func(v string, err error) { got <- v + "!" })

	assert.Equal(t, "done", <-got)
	assert.Equal(t, "done!", <-got)
}
