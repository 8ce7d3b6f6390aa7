package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pratyushraj/noticebazaar-sub012/internal/auth"
	"github.com/pratyushraj/noticebazaar-sub012/internal/obs"
)

func TestRecordAppendsAndLogs(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	store := NewInMemory()
	rec := NewRecorder(store)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithUser(ctx, "staff-42", []string{"admin"})

	rec.Record(ctx, Entry{
		SubjectID: "deal-1",
		EventType: EventTokenIssued,
		Detail:    map[string]string{"purpose": "sign_contract"},
	})

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventTokenIssued {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor"] != "staff-42" {
		t.Fatalf("unexpected actor: %v", entry["actor"])
	}

	stored, err := rec.Query(ctx, "deal-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored entry, got %d", len(stored))
	}
	if stored[0].ID == "" || stored[0].OccurredAt.IsZero() {
		t.Fatalf("expected populated id and timestamp: %+v", stored[0])
	}
	if stored[0].ActorHint != "staff-42" {
		t.Fatalf("expected actor hint from context, got %q", stored[0].ActorHint)
	}
}

func TestQueryOrdersByTimestamp(t *testing.T) {
	store := NewInMemory()
	rec := NewRecorder(store)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec.Record(context.Background(), Entry{SubjectID: "deal-2", EventType: EventTokenClaimed, OccurredAt: base.Add(time.Minute)})
	rec.Record(context.Background(), Entry{SubjectID: "deal-2", EventType: EventTokenIssued, OccurredAt: base})
	rec.Record(context.Background(), Entry{SubjectID: "other", EventType: EventTokenIssued, OccurredAt: base})

	entries, err := rec.Query(context.Background(), "deal-2")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].EventType != EventTokenIssued || entries[1].EventType != EventTokenClaimed {
		t.Fatalf("entries out of order: %+v", entries)
	}
}
