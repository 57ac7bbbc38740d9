package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	core "github.com/parallaxsearch/parallax/internal/agent/core"
	"github.com/parallaxsearch/parallax/internal/store"
)

func TestStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("parallax"),
		tcPostgres.WithUsername("parallax"),
		tcPostgres.WithPassword("parallax"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://parallax:parallax@%s:%s/parallax?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate.New: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	if err := st.TouchSession(ctx, "sess-1", ""); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}

	started := time.Now().Add(-time.Minute).UTC()
	out := core.Outcome{
		TurnID:      "turn-1",
		SessionID:   "sess-1",
		Question:    "battery trends",
		Answer:      "densities keep climbing [s1]",
		Confidence:  0.75,
		Citations:   []core.Citation{{ID: "s1", Title: "Battery report", URL: "https://example.com/b", Tool: "web_search"}},
		Warnings:    []string{"one source timed out"},
		Iterations:  2,
		StartedAt:   started,
		CompletedAt: started.Add(30 * time.Second),
	}
	if err := st.SaveTurn(ctx, out); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	// Idempotent on turn id.
	if err := st.SaveTurn(ctx, out); err != nil {
		t.Fatalf("SaveTurn again: %v", err)
	}

	turns, err := st.RecentTurns(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	got := turns[0]
	if got.Answer != out.Answer || got.Confidence != out.Confidence || got.Iterations != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Citations) != 1 || got.Citations[0].URL != "https://example.com/b" {
		t.Fatalf("citations mismatch: %+v", got.Citations)
	}

	removed, err := st.DeleteIdleSessions(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteIdleSessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client, err := store.NewRedis(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer client.Close()

	locker := store.NewRedisLocker(client)

	ok, err := locker.Acquire(ctx, "sess-1", "turn-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%t err=%v", ok, err)
	}
	ok, err = locker.Acquire(ctx, "sess-1", "turn-2", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("second turn must not acquire a held session lock")
	}

	// Releasing with the wrong owner must not free the lock.
	if err := locker.Release(ctx, "sess-1", "turn-2"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	ok, _ = locker.Acquire(ctx, "sess-1", "turn-3", time.Minute)
	if ok {
		t.Fatalf("lock freed by non-owner release")
	}

	if err := locker.Release(ctx, "sess-1", "turn-1"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	ok, err = locker.Acquire(ctx, "sess-1", "turn-3", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%t err=%v", ok, err)
	}
}
