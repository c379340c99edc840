package httpx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddRemove(t *testing.T) {
	r := newRegistry()
	a, b := &conn{}, &conn{}
	r.add(a)
	r.add(b)
	assert.Equal(t, 2, r.len())
	assert.ElementsMatch(t, []*conn{a, b}, r.snapshot())

	assert.True(t, r.remove(a))
	assert.False(t, r.remove(a), "second remove must be a no-op")
	assert.Equal(t, 1, r.len())
	assert.False(t, r.remove(&conn{}))
}

func TestRegistryWaitEmpty(t *testing.T) {
	r := newRegistry()
	assert.True(t, r.waitEmpty(context.Background()))

	conns := []*conn{{}, {}, {}}
	for _, c := range conns {
		r.add(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, r.waitEmpty(ctx))

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			r.remove(c)
		}(c)
	}
	done := make(chan bool, 1)
	go func() { done <- r.waitEmpty(context.Background()) }()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waitEmpty did not observe the registry emptying")
	}
	wg.Wait()
}
