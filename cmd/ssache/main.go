// Command ssache runs a single SSache cache node: a sharded in-memory
// key/value store reachable over a RESP-inspired inline TCP protocol, with
// a background expiration reaper and asynchronous replication to any
// statically configured peer replicas.
//
// Usage:
//
//	ssache -s 16 -p 7777 --dump ./ssache.dump \
//	       --replica 10.0.0.2:7777 --replica 10.0.0.3:7777 \
//	       --snapshot-interval 60 --metrics-addr :9090
//
// LOG_LEVEL (debug|info|warn|error, default info) controls log verbosity.
// Exit codes: 0 clean shutdown, 1 fatal startup error, 2 fatal runtime
// error.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eaneto/ssache/internal/config"
	"github.com/eaneto/ssache/internal/logging"
	"github.com/eaneto/ssache/internal/metrics"
	"github.com/eaneto/ssache/internal/reaper"
	"github.com/eaneto/ssache/internal/replication"
	"github.com/eaneto/ssache/internal/server"
	"github.com/eaneto/ssache/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssache: %v\n", err)
		return 1
	}

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ssache: failed to build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	sink := buildMetricsSink(cfg.MetricsAddr, logger)
	st := store.New(cfg.ShardCount, len(cfg.Replicas), cfg.DumpPath, sink)

	if _, err := os.Stat(cfg.DumpPath); err == nil {
		if err := st.Load(); err != nil {
			logger.Warn("startup load failed, starting with an empty store", zap.Error(err))
		} else {
			logger.Info("loaded dump file", zap.String("path", cfg.DumpPath))
		}
	}

	ln, err := server.NewListener(net.JoinHostPort("", strconv.Itoa(cfg.Port)), st, logger)
	if err != nil {
		logger.Error("failed to bind listener", zap.Int("port", cfg.Port), zap.Error(err))
		return 1
	}
	logger.Info("ssache listening",
		zap.Int("port", cfg.Port),
		zap.Int("shards", cfg.ShardCount),
		zap.Strings("replicas", cfg.Replicas))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ln.Serve(gctx)
	})

	r := reaper.New(st, sink, logger)
	g.Go(func() error {
		r.Run(gctx)
		return nil
	})

	for i, addr := range cfg.Replicas {
		rep := replication.New(i, addr, st, sink, logger)
		g.Go(func() error {
			rep.Run(gctx)
			return nil
		})
	}

	if cfg.SnapshotInterval > 0 {
		g.Go(func() error {
			runSnapshotLoop(gctx, st, cfg.SnapshotInterval, logger)
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutting down, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("runtime error during shutdown", zap.Error(err))
			return 2
		}
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout elapsed before all components drained")
	}

	if err := st.Save(); err != nil {
		logger.Error("final save failed", zap.Error(err))
		return 2
	}
	logger.Info("ssache stopped cleanly")
	return 0
}

// runSnapshotLoop calls Store.Save on a fixed cadence until ctx is
// canceled, independent of the reaper and replicator loops.
func runSnapshotLoop(ctx context.Context, st *store.Store, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := st.Save(); err != nil {
				logger.Error("periodic save failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildMetricsSink wires a Prometheus-backed Sink and starts its HTTP
// exposition endpoint when addr is non-empty; otherwise instrumentation is
// a no-op and the hot path never pays for it.
func buildMetricsSink(addr string, logger *zap.Logger) metrics.Sink {
	if addr == "" {
		return metrics.Noop
	}
	reg := prometheus.NewRegistry()
	sink := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	return sink
}
