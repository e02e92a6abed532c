package pending

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAddIsIdempotent(t *testing.T) {
	q := NewQueue()
	if !q.Add("a") {
		t.Fatal("first add should succeed")
	}
	if q.Add("a") {
		t.Fatal("second add should report duplicate")
	}
	if q.Add("  ") {
		t.Fatal("blank id should be rejected")
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}

func TestConcurrentAddsKeepOneEntry(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	var added sync.Map
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if q.Add("same") {
				added.Store(i, true)
			}
			q.Add(fmt.Sprintf("id-%d", i%8))
		}(i)
	}
	wg.Wait()

	n := 0
	added.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Fatalf("%d goroutines won the add, want 1", n)
	}
	if q.Len() != 9 {
		t.Fatalf("len = %d, want 9", q.Len())
	}
}

func TestSnapshotOrderAndCopy(t *testing.T) {
	q := NewQueue()
	q.Add("c")
	q.Add("a")
	q.Add("b")
	q.Remove("a")

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].ID != "c" || snap[1].ID != "b" {
		t.Fatalf("snapshot = %+v", snap)
	}
	snap[0].Checks = 99
	if e, _ := q.MarkChecked("c"); e.Checks != 1 {
		t.Fatalf("snapshot must be a copy; checks = %d", e.Checks)
	}
}

func TestMarkCheckedAndRemove(t *testing.T) {
	q := NewQueue()
	q.Add("x")
	q.MarkChecked("x")
	e, ok := q.MarkChecked("x")
	if !ok || e.Checks != 2 {
		t.Fatalf("MarkChecked = %+v, %v", e, ok)
	}
	if _, ok := q.MarkChecked("missing"); ok {
		t.Fatal("missing id should not be marked")
	}
	if !q.Remove("x") || q.Remove("x") {
		t.Fatal("remove should succeed exactly once")
	}
	if q.Contains("x") {
		t.Fatal("x still queued")
	}
	q.Add("y")
	q.Add("z")
	if n := q.Clear(); n != 2 {
		t.Fatalf("Clear() = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Fatal("clear left entries")
	}
}

func TestPolicyExpired(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{ID: "x", QueuedAt: t0, Checks: 3}

	tests := []struct {
		name string
		p    Policy
		now  time.Time
		want bool
	}{
		{"unlimited", Policy{}, t0.Add(1000 * time.Hour), false},
		{"attempts reached", Policy{MaxAttempts: 3}, t0, true},
		{"attempts left", Policy{MaxAttempts: 4}, t0, false},
		{"age reached", Policy{MaxAge: time.Hour}, t0.Add(time.Hour), true},
		{"age left", Policy{MaxAge: time.Hour}, t0.Add(time.Minute), false},
	}
	for _, tt := range tests {
		if got := tt.p.Expired(e, tt.now); got != tt.want {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.want)
		}
	}
	if !(Policy{}).Unlimited() {
		t.Error("zero policy should be unlimited")
	}
}

func TestQueuedAtUsesClock(t *testing.T) {
	t0 := time.Date(2030, 5, 5, 0, 0, 0, 0, time.UTC)
	q := NewQueueWithClock(func() time.Time { return t0 })
	q.Add("x")
	if got := q.Snapshot()[0].QueuedAt; !got.Equal(t0) {
		t.Fatalf("QueuedAt = %v", got)
	}
}
