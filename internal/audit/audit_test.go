package audit

import (
	"testing"
	"time"
)

func TestAppendAndTail(t *testing.T) {
	store, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	log := NewLog(store, nil)
	defer log.Close()

	log.Append("demo", EventSessionOpened, "")
	log.Append("demo", EventPermissionRequest, `{"tool":"Write"}`)
	log.Append("demo", EventPermissionResolved, `{"decision":"allow"}`)

	var records []Record
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		records, err = log.Tail("demo", 10)
		if err != nil {
			t.Fatalf("tail: %v", err)
		}
		if len(records) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].EventType != EventSessionOpened {
		t.Fatalf("expected chronological order, first event was %s", records[0].EventType)
	}
	if records[2].Detail != `{"decision":"allow"}` {
		t.Fatalf("unexpected detail: %q", records[2].Detail)
	}
}

func TestTailLimitsAndFiltersBySession(t *testing.T) {
	store, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	log := NewLog(store, nil)
	defer log.Close()

	log.Append("a", EventSessionOpened, "")
	log.Append("b", EventSessionOpened, "")
	log.Append("a", EventSessionClosed, "")

	deadline := time.Now().Add(time.Second)
	var records []Record
	for time.Now().Before(deadline) {
		records, err = log.Tail("a", 10)
		if err != nil {
			t.Fatalf("tail: %v", err)
		}
		if len(records) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for session a, got %d", len(records))
	}
}
