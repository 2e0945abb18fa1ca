package replication

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eaneto/ssache/internal/metrics"
	"github.com/eaneto/ssache/internal/store"
)

// echoPeer accepts one connection and replies +OK\r\n to every line it
// reads, recording each received line on the returned channel.
func echoPeer(t *testing.T) (addr string, received chan string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	received = make(chan string, 64)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			received <- line
			if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), received, func() { ln.Close() }
}

func TestReplicatorDrainsAndSendsSetOps(t *testing.T) {
	addr, received, stop := echoPeer(t)
	defer stop()

	st := store.New(1, 1, t.TempDir()+"/ssache.dump", metrics.Noop)
	st.Set("k", []byte("v"))

	r := New(0, addr, st, metrics.Noop, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case line := <-received:
		if line != "SET k v\r\n" {
			t.Fatalf("got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replicator never sent the SET op")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st.SegmentLag(0, 0) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("segment was never committed after successful send")
}

func TestReplicatorEncodesIncrDecrWithoutValue(t *testing.T) {
	addr, received, stop := echoPeer(t)
	defer stop()

	st := store.New(1, 1, t.TempDir()+"/ssache.dump", metrics.Noop)
	if _, err := st.Incr("ctr"); err != nil {
		t.Fatalf("incr: %v", err)
	}

	r := New(0, addr, st, metrics.Noop, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case line := <-received:
		if line != "INCR ctr\r\n" {
			t.Fatalf("got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replicator never sent the INCR op")
	}
}

func TestReplicatorRunStopsOnContextCancel(t *testing.T) {
	st := store.New(1, 1, t.TempDir()+"/ssache.dump", metrics.Noop)
	r := New(0, "127.0.0.1:1", st, metrics.Noop, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
