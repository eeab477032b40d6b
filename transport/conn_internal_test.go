package transport

import (
	"context"
	"testing"
	"time"
)

func TestStreamIDAllocatorRecycles(t *testing.T) {
	t.Parallel()
	a := newStreamIDAllocator(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id1, err := a.alloc(ctx)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	id2, err := a.alloc(ctx)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id1 == id2 {
		t.Fatal("two live allocations must never return the same stream id")
	}

	// The pool is exhausted: a third alloc must block until one is freed.
	done := make(chan int16, 1)
	go func() {
		id, err := a.alloc(ctx)
		if err != nil {
			return
		}
		done <- id
	}()

	select {
	case <-done:
		t.Fatal("alloc should have blocked with the pool exhausted")
	case <-time.After(20 * time.Millisecond):
	}

	a.free(id1)
	select {
	case id := <-done:
		if id != id1 {
			t.Fatalf("recycled id = %d, want %d", id, id1)
		}
	case <-time.After(time.Second):
		t.Fatal("alloc never unblocked after free")
	}
}

func TestStreamIDAllocatorCtxCancel(t *testing.T) {
	t.Parallel()
	a := newStreamIDAllocator(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.alloc(ctx); err == nil {
		t.Fatal("alloc on an exhausted pool with a cancelled ctx must return an error")
	}
}
