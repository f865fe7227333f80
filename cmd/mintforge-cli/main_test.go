package main

import (
	"testing"
	"time"
)

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	args, err := applyGlobalFlags([]string{"--rpc", "http://node:1234", "nonce", "0xabc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rpcEndpoint != "http://node:1234" {
		t.Fatalf("endpoint not applied: %s", rpcEndpoint)
	}
	if len(args) != 2 || args[0] != "nonce" {
		t.Fatalf("unexpected remaining args: %v", args)
	}

	args, err = applyGlobalFlags([]string{"--rpc=http://other:9999", "address"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rpcEndpoint != "http://other:9999" {
		t.Fatalf("endpoint not applied: %s", rpcEndpoint)
	}
	if len(args) != 1 || args[0] != "address" {
		t.Fatalf("unexpected remaining args: %v", args)
	}

	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatal("expected error for dangling --rpc")
	}
}

func TestParseTimeRange(t *testing.T) {
	start, end, err := parseTimeRange([]string{"--from=2026-01-01T00:00:00Z", "--to=2026-02-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %s", start)
	}
	if !end.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end: %s", end)
	}

	if _, _, err := parseTimeRange([]string{"--from=bogus"}); err == nil {
		t.Fatal("expected error for invalid --from")
	}
	if _, _, err := parseTimeRange([]string{"--from=2026-02-01T00:00:00Z", "--to=2026-01-01T00:00:00Z"}); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, _, err := parseTimeRange([]string{"--limit=5"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
