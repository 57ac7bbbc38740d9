package config

import (
	"testing"
	"time"
)

func TestOrchestratorNormalize(t *testing.T) {
	o := OrchestratorConfig{}.Normalize()
	if o.IterationCeiling != 3 || o.SubAgentCeiling != 3 {
		t.Fatalf("ceilings = %d/%d, want 3/3", o.IterationCeiling, o.SubAgentCeiling)
	}
	if o.TurnTimeout != 3*time.Minute {
		t.Fatalf("TurnTimeout = %v", o.TurnTimeout)
	}
	if o.CoverageThreshold != 0.4 || o.MinUsableResults != 1 {
		t.Fatalf("coverage = %f, min usable = %d", o.CoverageThreshold, o.MinUsableResults)
	}

	set := OrchestratorConfig{IterationCeiling: 5, TurnTimeout: time.Minute}.Normalize()
	if set.IterationCeiling != 5 || set.TurnTimeout != time.Minute {
		t.Fatalf("explicit values overridden: %+v", set)
	}
}

func TestStreamNormalize(t *testing.T) {
	s := StreamConfig{}.Normalize()
	if s.ReadTimeout != 60*time.Second || s.PingInterval != 30*time.Second {
		t.Fatalf("timeouts = %v/%v", s.ReadTimeout, s.PingInterval)
	}
	if s.SendBuffer != 256 || s.MaxMessageSize != 64*1024 {
		t.Fatalf("buffer = %d, max message = %d", s.SendBuffer, s.MaxMessageSize)
	}
	if s.JanitorCron != "*/5 * * * *" {
		t.Fatalf("JanitorCron = %q", s.JanitorCron)
	}
}

func TestRoutingModel(t *testing.T) {
	r := RoutingConfig{Planning: "gpt-4o", Fallback: "gpt-4o-mini"}
	if got := r.Model("planning"); got != "gpt-4o" {
		t.Fatalf("planning = %s", got)
	}
	if got := r.Model("synthesis"); got != "gpt-4o-mini" {
		t.Fatalf("synthesis fallback = %s", got)
	}
	if got := r.Model("unknown"); got != "gpt-4o-mini" {
		t.Fatalf("unknown fallback = %s", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Fatal("expected error when nothing is configured")
	}

	url := "postgres://u:p@db:5432/app?sslmode=require"
	if got, err := (PostgresConfig{URL: url}).DSN(); err != nil || got != url {
		t.Fatalf("DSN = %q, %v", got, err)
	}

	got, err := (PostgresConfig{Host: "db", User: "u", Pass: "p", DBName: "app"}).DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	want := "postgres://u:p@db:5432/app?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{}
	if r.Enabled() {
		t.Fatal("empty host should be disabled")
	}
	r.Host = "cache"
	if !r.Enabled() || r.Addr() != "cache:6379" {
		t.Fatalf("Addr = %q", r.Addr())
	}
	r.Port = "7000"
	if r.Addr() != "cache:7000" {
		t.Fatalf("Addr = %q", r.Addr())
	}
}
