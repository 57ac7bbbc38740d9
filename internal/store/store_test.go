package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	core "github.com/parallaxsearch/parallax/internal/agent/core"
)

func TestSaveTurn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	out := core.Outcome{
		TurnID:      "turn-1",
		SessionID:   "sess-1",
		Question:    "what changed",
		Answer:      "quite a lot [s1]",
		Confidence:  0.8,
		Citations:   []core.Citation{{ID: "s1", Title: "Source", URL: "https://example.com"}},
		Iterations:  2,
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
	}

	query := regexp.QuoteMeta(`
INSERT INTO turns (id, session_id, question, answer, confidence, citations, artifacts, warnings, iterations, execution_log, error, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO NOTHING;
`)
	mock.ExpectExec(query).
		WithArgs(out.TurnID, out.SessionID, out.Question, out.Answer, out.Confidence,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), out.Iterations, sqlmock.AnyArg(),
			nil, out.StartedAt, out.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveTurn(context.Background(), out); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentTurns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "question", "answer", "confidence",
		"citations", "artifacts", "warnings", "iterations", "error", "started_at", "completed_at",
	}).AddRow("turn-2", "sess-1", "q2", "a2", 0.9,
		[]byte(`[{"id":"s1","title":"T","url":"https://t.example","tool":"web_search"}]`),
		[]byte(`[]`), []byte(`["slow source"]`), 1, nil, now, now)

	mock.ExpectQuery("SELECT id, session_id, question").
		WithArgs("sess-1", 5).
		WillReturnRows(rows)

	turns, err := st.RecentTurns(context.Background(), "sess-1", 5)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	got := turns[0]
	if got.TurnID != "turn-2" || got.Answer != "a2" {
		t.Fatalf("unexpected turn: %+v", got)
	}
	if len(got.Citations) != 1 || got.Citations[0].URL != "https://t.example" {
		t.Fatalf("citations not decoded: %+v", got.Citations)
	}
	if len(got.Warnings) != 1 {
		t.Fatalf("warnings not decoded: %+v", got.Warnings)
	}
}

func TestTouchSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("sess-1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.TouchSession(context.Background(), "sess-1", ""); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
}

func TestMemoryStoreRecentTurns(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 4; i++ {
		if err := m.SaveTurn(ctx, core.Outcome{
			TurnID:    string(rune('a' + i)),
			SessionID: "s",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	turns, err := m.RecentTurns(ctx, "s", 2)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].TurnID != "d" || turns[1].TurnID != "c" {
		t.Fatalf("expected newest first, got %s, %s", turns[0].TurnID, turns[1].TurnID)
	}

	other, err := m.RecentTurns(ctx, "unknown", 5)
	if err != nil || len(other) != 0 {
		t.Fatalf("unknown session: %v turns, err %v", len(other), err)
	}
}
