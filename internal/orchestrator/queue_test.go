package orchestrator

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestDispatchQueueOrdering(t *testing.T) {
	q := newDispatchQueue()

	low := uuid.New()
	mid := uuid.New()
	high := uuid.New()
	q.push(low, 1)
	q.push(mid, 5)
	q.push(high, 10)

	want := []uuid.UUID{high, mid, low}
	for i, expected := range want {
		item, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if item.deviceID != expected {
			t.Errorf("pop %d = %s, want %s", i, item.deviceID, expected)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("queue should be empty")
	}
}

func TestDispatchQueueTiesBreakByDeviceID(t *testing.T) {
	q := newDispatchQueue()

	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		q.push(ids[i], 5)
	}

	var prev uuid.UUID
	for i := 0; i < len(ids); i++ {
		item, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if i > 0 && bytes.Compare(prev[:], item.deviceID[:]) >= 0 {
			t.Fatalf("pop %d out of order: %s before %s", i, prev, item.deviceID)
		}
		prev = item.deviceID
	}
}
