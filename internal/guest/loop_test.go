package guest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startLoop(t *testing.T, cfg Config) *Loop {
	t.Helper()
	loop := NewLoop(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func TestLoopRunsJobsInOrder(t *testing.T) {
	loop := startLoop(t, testConfig())

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, loop.Post(func(*goja.Runtime) { order = append(order, i) }))
	}

	err := loop.Do(context.Background(), func(*goja.Runtime) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoopPostFromJob(t *testing.T) {
	loop := startLoop(t, testConfig())

	done := make(chan string, 1)
	loop.Post(func(*goja.Runtime) {
		loop.Post(func(*goja.Runtime) { done <- "nested" })
	})

	select {
	case v := <-done:
		assert.Equal(t, "nested", v)
	case <-time.After(2 * time.Second):
		t.Fatal("nested job never ran")
	}
}

func TestLoopDoReturnsError(t *testing.T) {
	loop := startLoop(t, testConfig())
	boom := errors.New("boom")

	err := loop.Do(context.Background(), func(vm *goja.Runtime) error {
		v, err := vm.RunString("6 * 7")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(42), v.ToInteger())
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLoopRecoversPanics(t *testing.T) {
	loop := startLoop(t, testConfig())

	loop.Post(func(*goja.Runtime) { panic("bad job") })
	err := loop.Do(context.Background(), func(*goja.Runtime) error { return nil })
	assert.NoError(t, err)
}

func TestLoopInterruptsLongJobs(t *testing.T) {
	cfg := testConfig()
	cfg.EvalTimeout = 50 * time.Millisecond
	loop := startLoop(t, cfg)

	err := loop.Do(context.Background(), func(vm *goja.Runtime) error {
		_, err := vm.RunString("for (;;) {}")
		return err
	})
	var interrupted *goja.InterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, ErrScriptTimeout, interrupted.Value())

	err = loop.Do(context.Background(), func(vm *goja.Runtime) error {
		_, err := vm.RunString("1")
		return err
	})
	assert.NoError(t, err, "interrupt must not leak into the next job")
}

func TestLoopStopped(t *testing.T) {
	loop := NewLoop(testConfig(), zap.NewNop())
	loop.Stop()

	assert.False(t, loop.Post(func(*goja.Runtime) {}))
	err := loop.Do(context.Background(), func(*goja.Runtime) error { return nil })
	assert.ErrorIs(t, err, ErrLoopStopped)
}

func TestLoopRemovesHostGlobals(t *testing.T) {
	loop := startLoop(t, testConfig())

	err := loop.Do(context.Background(), func(vm *goja.Runtime) error {
		v, err := vm.RunString(`[typeof require, typeof process, typeof module, typeof exports].join()`)
		if err != nil {
			return err
		}
		assert.Equal(t, "undefined,undefined,undefined,undefined", v.String())
		return nil
	})
	require.NoError(t, err)
}
