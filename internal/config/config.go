// Package config parses the server's CLI flags into an immutable Config
// value consumed once at startup.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the fully parsed, validated startup configuration for a
// ssache server process.
type Config struct {
	ShardCount       int
	Port             int
	DumpPath         string
	Replicas         []string
	SnapshotInterval time.Duration
	MetricsAddr      string
	ShutdownTimeout  time.Duration
}

// replicaList accumulates repeated --replica occurrences into a slice, the
// same pattern the standard library's flag.Var exists for.
type replicaList struct {
	values *[]string
}

func (r replicaList) String() string {
	if r.values == nil {
		return ""
	}
	return strings.Join(*r.values, ",")
}

func (r replicaList) Set(value string) error {
	*r.values = append(*r.values, value)
	return nil
}

// Parse parses args (excluding the program name, i.e. os.Args[1:]) into a
// Config, applying defaults and validating flag values.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("ssache", flag.ContinueOnError)

	shardCount := fs.Int("s", 8, "shard count (positive integer)")
	port := fs.Int("p", 7777, "listen port")
	dumpPath := fs.String("dump", "./ssache.dump", "dump file path")
	snapshotIntervalSec := fs.Int("snapshot-interval", 0, "periodic SAVE interval in seconds; 0 disables")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables")
	shutdownTimeoutSec := fs.Int("shutdown-timeout", 5, "seconds to wait for graceful drain before forcing shutdown")

	var replicas []string
	fs.Var(replicaList{values: &replicas}, "replica", "replica host:port; repeatable")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *shardCount <= 0 {
		return Config{}, fmt.Errorf("config: -s must be a positive integer, got %d", *shardCount)
	}
	if *port <= 0 || *port > 65535 {
		return Config{}, fmt.Errorf("config: -p must be a valid TCP port, got %d", *port)
	}
	if *snapshotIntervalSec < 0 {
		return Config{}, fmt.Errorf("config: --snapshot-interval must be >= 0, got %d", *snapshotIntervalSec)
	}
	if *shutdownTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("config: --shutdown-timeout must be a positive integer, got %d", *shutdownTimeoutSec)
	}
	for _, r := range replicas {
		if _, _, err := splitHostPort(r); err != nil {
			return Config{}, fmt.Errorf("config: --replica %q is not a valid host:port: %w", r, err)
		}
	}

	return Config{
		ShardCount:       *shardCount,
		Port:             *port,
		DumpPath:         *dumpPath,
		Replicas:         replicas,
		SnapshotInterval: time.Duration(*snapshotIntervalSec) * time.Second,
		MetricsAddr:      *metricsAddr,
		ShutdownTimeout:  time.Duration(*shutdownTimeoutSec) * time.Second,
	}, nil
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx <= 0 || idx == len(addr)-1 {
		return "", "", fmt.Errorf("expected host:port")
	}
	host, port = addr[:idx], addr[idx+1:]
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", fmt.Errorf("port %q is not numeric", port)
	}
	return host, port, nil
}
