package server

import (
	"context"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eaneto/ssache/internal/store"
)

// Listener accepts TCP connections and spawns a Handler per connection.
// Canceling the context passed to Serve stops accepting, closes every open
// connection so its handler returns, and waits for every in-flight handler
// to finish before Serve returns.
type Listener struct {
	addr   string
	store  *store.Store
	logger *zap.Logger
	ln     net.Listener
}

// NewListener binds addr eagerly so startup failures (port in use, bad
// address) surface to the caller before Serve is invoked.
func NewListener(addr string, st *store.Store, logger *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{addr: addr, store: st, logger: logger, ln: ln}, nil
}

// Addr returns the bound address, useful when addr was given with a ":0"
// port for tests.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve runs the accept loop until ctx is canceled, at which point it
// closes the listener and every open connection, and waits for in-flight
// handlers to finish. Each
// accepted connection runs in its own goroutine tracked by an errgroup so
// accept-loop failures don't leak goroutines.
func (l *Listener) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return l.ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					return err
				}
			}
			g.Go(func() error {
				stop := context.AfterFunc(gctx, func() { conn.Close() })
				defer stop()
				NewHandler(conn, l.store, l.logger).Serve()
				return nil
			})
		}
	})

	return g.Wait()
}
