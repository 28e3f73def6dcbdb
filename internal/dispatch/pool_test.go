package dispatch

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_SubmitDoesNotBlockWhenFull(t *testing.T) {
	p := NewPool(1, 1)

	assert.True(t, p.Submit(func() {}))
	assert.False(t, p.Submit(func() {}), "second submit must be rejected, not block")

	p.Stop()
	s := p.Stats()
	assert.Equal(t, int64(1), s.Submitted)
	assert.Equal(t, int64(2), s.Dropped)
}

func TestPool_RunsQueuedWorkBeforeStopping(t *testing.T) {
	p := NewPool(2, 16)
	var ran int32
	for i := 0; i < 10; i++ {
		assert.True(t, p.Submit(func() { atomic.AddInt32(&ran, 1) }))
	}
	p.Start()
	p.Stop()

	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))
	assert.Equal(t, int64(10), p.Stats().Completed)
}

func TestPool_RejectsAfterStop(t *testing.T) {
	p := NewPool(1, 4)
	p.Start()
	p.Stop()

	assert.False(t, p.Submit(func() {}))
	p.Stop() // idempotent
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1, 4)
	p.Start()

	var ran int32
	p.Submit(func() { panic("task exploded") })
	p.Submit(func() { atomic.AddInt32(&ran, 1) })
	p.Stop()

	s := p.Stats()
	assert.Equal(t, int64(1), s.Panicked)
	assert.Equal(t, int64(2), s.Completed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(0, 0)
	s := p.Stats()
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, 256, cap(p.queue))
}
