package transport

import (
	"context"
	"testing"
	"time"
)

func TestStaticClusterReportsHostsUpOnce(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewStaticCluster([]HostId{"a", "b"})
	events := c.Events(ctx)

	seen := make(map[HostId]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Kind != ClusterHostUp {
				t.Fatalf("event kind = %v, want ClusterHostUp", ev.Kind)
			}
			seen[ev.Host] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for host_up events")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both hosts reported up, got %v", seen)
	}
}

func TestStaticClusterClosesOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewStaticCluster([]HostId{"a"})
	events := c.Events(ctx)
	<-events // drain the one host_up event

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected the channel to be closed after ctx cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("channel never closed after ctx cancellation")
	}
}
