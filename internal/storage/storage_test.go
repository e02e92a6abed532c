package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"embycord/internal/eventbus"
	logx "embycord/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, drv := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: drv, Path: filepath.Join(dir, drv, "deliveries.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", drv, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[drv] = st
	}
	return out
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("none driver = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestAppendRecentPrune(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				rec := DeliveryRecord{
					At:     t0.Add(time.Duration(i) * time.Hour),
					Path:   "media_added",
					ItemID: string(rune('a' + i)),
					OK:     i%2 == 0,
				}
				if err := st.AppendDelivery(ctx, rec); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			recent, err := st.RecentDeliveries(ctx, 2)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(recent) != 2 || recent[0].ItemID != "e" || recent[1].ItemID != "d" {
				t.Fatalf("recent = %+v", recent)
			}
			if recent[0].ID == "" {
				t.Fatal("records should get an id")
			}
			if !recent[0].OK || recent[1].OK {
				t.Fatalf("ok flags not preserved: %+v", recent)
			}

			n, err := st.PruneBefore(ctx, t0.Add(2*time.Hour))
			if err != nil || n != 2 {
				t.Fatalf("prune = %d, %v; want 2", n, err)
			}
			all, _ := st.RecentDeliveries(ctx, 100)
			if len(all) != 3 {
				t.Fatalf("after prune %d records, want 3", len(all))
			}

			// Store keeps accepting writes after a prune.
			if err := st.AppendDelivery(ctx, DeliveryRecord{At: t0.Add(10 * time.Hour), Path: "direct"}); err != nil {
				t.Fatalf("append after prune: %v", err)
			}
			all, _ = st.RecentDeliveries(ctx, 100)
			if len(all) != 4 || all[0].Path != "direct" {
				t.Fatalf("records = %+v", all)
			}
		})
	}
}

func TestRecordFromEvent(t *testing.T) {
	at := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	rec, ok := Record(eventbus.Event{Type: eventbus.NotifyFailed, Time: at, Data: eventbus.DeliveryEvent{
		Path: "direct", UserID: "u", Kind: "status", StatusCode: 500, Error: "boom", Duration: 1500 * time.Millisecond,
	}})
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.OK || rec.StatusCode != 500 || rec.TookMS != 1500 || !rec.At.Equal(at) {
		t.Fatalf("record = %+v", rec)
	}
	if _, ok := Record(eventbus.Event{Type: eventbus.PendingQueued}); ok {
		t.Fatal("pending events are not deliveries")
	}
}

func TestRunRecorderWritesEvents(t *testing.T) {
	st := openAll(t)["file"]
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)

	done := make(chan struct{})
	go func() {
		RunRecorder(context.Background(), st, ch, logx.Nop())
		close(done)
	}()

	bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Data: eventbus.DeliveryEvent{Path: "media_added", ItemID: "x"}})
	bus.Publish(eventbus.Event{Type: eventbus.PendingQueued})
	unsub()
	<-done

	recs, err := st.RecentDeliveries(context.Background(), 10)
	if err != nil || len(recs) != 1 || recs[0].ItemID != "x" {
		t.Fatalf("records = %+v, %v", recs, err)
	}
}

func TestRetentionPruneNow(t *testing.T) {
	st := openAll(t)["sqlite"]
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	_ = st.AppendDelivery(ctx, DeliveryRecord{At: now.Add(-48 * time.Hour), Path: "direct"})
	_ = st.AppendDelivery(ctx, DeliveryRecord{At: now.Add(-time.Hour), Path: "direct"})

	r := NewRetention(st, 24*time.Hour, "", logx.Nop())
	r.now = func() time.Time { return now }
	n, err := r.PruneNow(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PruneNow = %d, %v", n, err)
	}
	if _, last := r.LastRun(); last != 1 {
		t.Fatalf("LastRun removed = %d", last)
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	r.Stop(sctx)
}

func TestValidateSchedule(t *testing.T) {
	for _, ok := range []string{"", "@daily", "0 3 * * *", "*/30 * * * * *"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Errorf("ValidateSchedule(%q) = %v", ok, err)
		}
	}
	if err := ValidateSchedule("every tuesday"); err == nil {
		t.Error("garbage schedule accepted")
	}
}
