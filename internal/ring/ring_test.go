package ring

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendAssignsDenseSequence(t *testing.T) {
	r := New(10)
	for i := 1; i <= 5; i++ {
		seq := r.Append("t", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		if seq != uint64(i) {
			t.Fatalf("append %d: got sequence %d", i, seq)
		}
	}
	minSeq, maxSeq := r.Range()
	if minSeq != 1 || maxSeq != 5 {
		t.Fatalf("range = [%d,%d], want [1,5]", minSeq, maxSeq)
	}
}

func TestCapacityEviction(t *testing.T) {
	r := New(1000)
	for i := 0; i < 1001; i++ {
		r.Append("t", []byte("{}"))
	}
	minSeq, maxSeq := r.Range()
	if minSeq != 2 || maxSeq != 1001 {
		t.Fatalf("range = [%d,%d], want [2,1001]", minSeq, maxSeq)
	}
	events, truncated := r.Snapshot(0)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if len(events) != 1000 {
		t.Fatalf("expected 1000 events, got %d", len(events))
	}
}

func TestSnapshotWithinRange(t *testing.T) {
	r := New(1000)
	for i := 0; i < 10; i++ {
		r.Append("t", []byte("{}"))
	}
	events, truncated := r.Snapshot(7)
	if truncated {
		t.Fatalf("did not expect truncation")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Sequence != 8 || events[2].Sequence != 10 {
		t.Fatalf("unexpected sequences: %+v", events)
	}
}

func TestSnapshotTruncation(t *testing.T) {
	r := New(1000)
	for i := 0; i < 1500; i++ {
		r.Append("t", []byte("{}"))
	}
	events, truncated := r.Snapshot(100)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if events[0].Sequence != 501 || events[len(events)-1].Sequence != 1500 {
		t.Fatalf("unexpected range: first=%d last=%d", events[0].Sequence, events[len(events)-1].Sequence)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	r := New(1000)
	for i := 0; i < 10; i++ {
		r.Append("t", []byte("{}"))
	}
	a, _ := r.Snapshot(5)
	b, _ := r.Snapshot(5)
	if len(a) != len(b) {
		t.Fatalf("non-idempotent snapshot: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Sequence != b[i].Sequence {
			t.Fatalf("sequence mismatch at %d: %d vs %d", i, a[i].Sequence, b[i].Sequence)
		}
	}
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	r := New(1000)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Append("t", []byte("{}"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			events, _ := r.Snapshot(0)
			for j := 1; j < len(events); j++ {
				if events[j].Sequence <= events[j-1].Sequence {
					t.Errorf("out of order snapshot: %+v", events)
				}
			}
		}
	}()
	wg.Wait()
}
