package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"orgauthz.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithActor(ctx, "user-42")

	if err := LogEvent(ctx, "authz.agent.assign", map[string]any{"agent_id": "a1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

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
	if entry["event"] != "authz.agent.assign" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "user-42" {
		t.Fatalf("unexpected actor id: %v", entry["actor_id"])
	}
	if entry["id"] == "" || entry["ts"] == "" {
		t.Fatalf("entry missing id or ts: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["agent_id"] != "a1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestContextHelpersIgnoreEmptyValues(t *testing.T) {
	ctx := context.Background()
	if WithRequestID(ctx, " ") != ctx {
		t.Fatal("blank request id should not wrap context")
	}
	if WithActor(ctx, "") != ctx {
		t.Fatal("blank actor should not wrap context")
	}
}
