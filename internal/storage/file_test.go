package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileRecorderAppendLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	rec, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}

	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: ts, SessionID: "1", Query: "q1", Answer: "a1"},
		{Timestamp: ts.Add(time.Minute), SessionID: "1", Query: "q2", Answer: "Sorry, something went wrong.", Failed: true},
	}
	for _, ev := range events {
		if err := rec.AppendInteraction(ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := rec.LoadInteractions()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Query != "q1" || got[1].Query != "q2" {
		t.Fatalf("order lost: %+v", got)
	}
	if !got[1].Failed {
		t.Fatal("failed flag lost")
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: %v", got[0].Timestamp)
	}
}

func TestFileRecorderSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	rec, err := NewFileRecorder(path)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	if err := rec.AppendInteraction(Event{SessionID: "1", Query: "ok"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// Simulate a torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = f.Close()

	got, err := rec.LoadInteractions()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 1 || got[0].Query != "ok" {
		t.Fatalf("corrupt line not skipped: %+v", got)
	}
}
