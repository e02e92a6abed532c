package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"embycord/internal/config"
	"embycord/internal/discord"
	"embycord/internal/format"
)

type hookServer struct {
	mu     sync.Mutex
	bodies []string
	srv    *httptest.Server
}

func newHookServer(t *testing.T) *hookServer {
	t.Helper()
	h := &hookServer{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.bodies = append(h.bodies, string(b))
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hookServer) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMapDestinations(t *testing.T) {
	cfg := &config.Config{Destinations: []config.DestinationConfig{{
		Name:       "a",
		UserID:     "U1",
		Enabled:    true,
		WebhookURL: " https://discord.com/api/webhooks/1/x ",
		EmbedColor: "#00ff00",
		Mention:    "Everyone",
	}}}
	got := mapDestinations(cfg)
	if len(got) != 1 {
		t.Fatalf("got %d destinations", len(got))
	}
	d := got[0]
	if d.Mention != discord.MentionEveryone {
		t.Fatalf("mention = %v", d.Mention)
	}
	if d.WebhookURL != "https://discord.com/api/webhooks/1/x" {
		t.Fatalf("webhook url not trimmed: %q", d.WebhookURL)
	}
	if !d.Deliverable() {
		t.Fatal("destination should be deliverable")
	}
}

func TestMapStorageConfig(t *testing.T) {
	if _, _, on, err := mapStorageConfig(&config.Config{}); on || err != nil {
		t.Fatalf("absent storage: on=%v err=%v", on, err)
	}
	cfg := &config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db", Retention: "48h"}}
	sc, rs, on, err := mapStorageConfig(cfg)
	if err != nil || !on {
		t.Fatalf("on=%v err=%v", on, err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != time.Second || rs.keep != 48*time.Hour {
		t.Fatalf("unexpected mapping %+v %+v", sc, rs)
	}
}

func TestMapPollerSettings(t *testing.T) {
	ps, err := mapPollerSettings(&config.Config{Poller: config.PollerConfig{Interval: "3s", MaxAttempts: 4, MaxAge: "1h"}})
	if err != nil {
		t.Fatal(err)
	}
	if ps.interval != 3*time.Second || ps.policy.MaxAttempts != 4 || ps.policy.MaxAge != time.Hour {
		t.Fatalf("unexpected settings %+v", ps)
	}
}

func TestAppDirectNotificationEndToEnd(t *testing.T) {
	hook := newHookServer(t)
	path := writeConfig(t, `{
		"logging": {"level": "error"},
		"server": {"name": "Living Room"},
		"destinations": [{
			"name": "ops",
			"user_id": "user-1",
			"enabled": true,
			"webhook_url": "`+hook.srv.URL+`/hook",
			"server_name_override": true
		}]
	}`)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err = a.Intake().SendNotification(ctx, format.Request{UserID: "USER1", Name: "Hello", Description: "World"})
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if hook.count() != 1 {
		t.Fatalf("webhook hits = %d", hook.count())
	}
	hook.mu.Lock()
	body := hook.bodies[0]
	hook.mu.Unlock()
	if !strings.Contains(body, "Living Room") {
		t.Fatalf("payload missing server name: %s", body)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Stop(sctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestApplyConfigUpdatesLiveSections(t *testing.T) {
	path := writeConfig(t, `{"logging": {"level": "error"}, "poller": {"interval": "5s"}}`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	next := &config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Poller:  config.PollerConfig{Interval: "2s", MaxAttempts: 3},
		Destinations: []config.DestinationConfig{{
			UserID:             "u",
			Enabled:            true,
			WebhookURL:         "https://discord.com/api/webhooks/1/y",
			MediaAddedOverride: true,
		}},
	}
	a.applyConfig(context.Background(), next)

	if got := a.poller.Interval(); got != 2*time.Second {
		t.Fatalf("interval = %v", got)
	}
	if !a.intake.IsEnabledForUser("u") {
		t.Fatal("reloaded destination should be live")
	}
	if a.applied != next {
		t.Fatal("applied config not tracked")
	}
}

func TestStatusReportsQueueAndPrune(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `{
		"logging": {"level": "error"},
		"storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "deliveries.jsonl"))+`", "retention": "1h"}
	}`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.store.Close()

	a.queue.Add("x")
	st := a.status()
	if st.Pending != 1 || st.LastPrune != nil {
		t.Fatalf("status = %+v", st)
	}

	if _, err := a.retention.PruneNow(context.Background()); err != nil {
		t.Fatalf("PruneNow: %v", err)
	}
	if st := a.status(); st.LastPrune == nil || st.LastPrune.At.IsZero() {
		t.Fatalf("last prune not reported: %+v", st)
	}
}
