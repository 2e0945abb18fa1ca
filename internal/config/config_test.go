package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ShardCount != 8 || cfg.Port != 7777 || cfg.DumpPath != "./ssache.dump" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SnapshotInterval != 0 || len(cfg.Replicas) != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("expected default shutdown timeout of 5s, got %v", cfg.ShutdownTimeout)
	}
}

func TestParseRepeatableReplicaFlag(t *testing.T) {
	cfg, err := Parse([]string{"--replica", "127.0.0.1:8001", "--replica", "127.0.0.1:8002"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Replicas) != 2 || cfg.Replicas[0] != "127.0.0.1:8001" || cfg.Replicas[1] != "127.0.0.1:8002" {
		t.Fatalf("unexpected replicas: %+v", cfg.Replicas)
	}
}

func TestParseRejectsNonPositiveShardCount(t *testing.T) {
	if _, err := Parse([]string{"-s", "0"}); err == nil {
		t.Fatal("expected error for -s 0")
	}
}

func TestParseRejectsInvalidReplicaAddress(t *testing.T) {
	if _, err := Parse([]string{"--replica", "not-a-host-port"}); err == nil {
		t.Fatal("expected error for malformed --replica value")
	}
}

func TestParseRejectsNegativeSnapshotInterval(t *testing.T) {
	if _, err := Parse([]string{"--snapshot-interval", "-1"}); err == nil {
		t.Fatal("expected error for negative --snapshot-interval")
	}
}

func TestParseSnapshotIntervalInSeconds(t *testing.T) {
	cfg, err := Parse([]string{"--snapshot-interval", "30"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SnapshotInterval != 30*time.Second {
		t.Fatalf("expected 30s, got %v", cfg.SnapshotInterval)
	}
}

func TestParseMetricsAddrPassthrough(t *testing.T) {
	cfg, err := Parse([]string{"--metrics-addr", "127.0.0.1:9100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Fatalf("got %q", cfg.MetricsAddr)
	}
}
