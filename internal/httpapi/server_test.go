package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"embycord/internal/discord"
	"embycord/internal/format"
	"embycord/internal/intake"
	"embycord/internal/library"
	"embycord/internal/pending"
	"embycord/internal/storage"
	"embycord/internal/webhook"
	logx "embycord/pkg/logx"
)

type fakeIntake struct {
	mu      sync.Mutex
	items   []library.Item
	sources []string
	queued  bool
	reqs    []format.Request
	sendErr error
}

func (f *fakeIntake) OnItemAddedFrom(source string, item library.Item) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	f.sources = append(f.sources, source)
	return f.queued
}

func (f *fakeIntake) SendNotification(_ context.Context, req format.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.sendErr
}

type fakeDeliveries struct {
	recs  []storage.DeliveryRecord
	limit int
}

func (f *fakeDeliveries) RecentDeliveries(_ context.Context, limit int) ([]storage.DeliveryRecord, error) {
	f.limit = limit
	return f.recs, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestItemAdded(t *testing.T) {
	fi := &fakeIntake{queued: true}
	h := Router(Deps{Intake: fi}, RouterOptions{})

	rec := do(t, h, http.MethodPost, "/api/v1/items", `{"id":"abc","is_virtual":false}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if len(fi.items) != 1 || fi.items[0].ID != "abc" || fi.sources[0] != intake.SourceAPI {
		t.Fatalf("intake saw %+v from %v", fi.items, fi.sources)
	}

	fi.queued = false
	rec = do(t, h, http.MethodPost, "/api/v1/items", `{"id":"abc"}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"queued":false`) {
		t.Fatalf("duplicate: status=%d body=%s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/items", `{"id":""}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank id: status=%d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/v1/items", `{"id":"x","extra":1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status=%d", rec.Code)
	}
}

func TestEmbyWebhook(t *testing.T) {
	fi := &fakeIntake{queued: true}
	h := Router(Deps{Intake: fi}, RouterOptions{})

	rec := do(t, h, http.MethodPost, "/api/v1/emby/webhook",
		`{"Title":"x","Event":"library.new","Item":{"Id":"42","Name":"Heat","LocationType":"FileSystem"},"Server":{"Name":"Home"}}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if len(fi.items) != 1 || fi.items[0].ID != "42" || fi.sources[0] != intake.SourceWebhook {
		t.Fatalf("intake saw %+v", fi.items)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/emby/webhook", `{"Event":"playback.start","Item":{"Id":"42"}}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other event: status = %d", rec.Code)
	}
	if len(fi.items) != 1 {
		t.Fatal("non library.new events must not reach intake")
	}

	_ = do(t, h, http.MethodPost, "/api/v1/emby/webhook", `{"Event":"library.new","Item":{"Id":"7","LocationType":"Virtual"}}`, nil)
	if !fi.items[1].IsVirtual {
		t.Fatal("virtual location should mark item virtual")
	}
}

func TestNotifyStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusNoContent},
		{fmt.Errorf("%w: %q", intake.ErrNoDestination, "u"), http.StatusNotFound},
		{fmt.Errorf("%w: %q", intake.ErrDestinationDisabled, "d"), http.StatusConflict},
		{fmt.Errorf("destination %q: %w", "d", discord.ErrInvalidColor), http.StatusUnprocessableEntity},
		{&webhook.DispatchError{Kind: webhook.KindStatus, StatusCode: 400}, http.StatusBadGateway},
		{&webhook.DispatchError{Kind: webhook.KindConfig, Err: webhook.ErrBadScheme}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		fi := &fakeIntake{sendErr: tt.err}
		h := Router(Deps{Intake: fi}, RouterOptions{})
		rec := do(t, h, http.MethodPost, "/api/v1/notifications", `{"user_id":"u","name":"Hi","description":"there"}`, nil)
		if rec.Code != tt.want {
			t.Errorf("err=%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
		if len(fi.reqs) != 1 || fi.reqs[0].Name != "Hi" {
			t.Errorf("request not forwarded: %+v", fi.reqs)
		}
	}
}

func TestPendingAndDeliveries(t *testing.T) {
	q := pending.NewQueue()
	q.Add("a")
	q.Add("b")
	fd := &fakeDeliveries{recs: []storage.DeliveryRecord{{ID: "r1", OK: true}}}
	h := Router(Deps{
		Intake:     &fakeIntake{},
		Pending:    q,
		Deliveries: func() DeliveryLister { return fd },
	}, RouterOptions{})

	rec := do(t, h, http.MethodGet, "/api/v1/pending", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":2`) {
		t.Fatalf("pending: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/deliveries?limit=5", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"r1"`) || fd.limit != 5 {
		t.Fatalf("deliveries: %d %s limit=%d", rec.Code, rec.Body, fd.limit)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/deliveries?limit=x", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}

	off := Router(Deps{Intake: &fakeIntake{}, Deliveries: func() DeliveryLister { return nil }}, RouterOptions{})
	rec = do(t, off, http.MethodGet, "/api/v1/deliveries", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled storage: %d", rec.Code)
	}
}

func TestClearPending(t *testing.T) {
	q := pending.NewQueue()
	q.Add("a")
	q.Add("b")
	h := Router(Deps{Intake: &fakeIntake{}, Pending: q}, RouterOptions{})

	rec := do(t, h, http.MethodDelete, "/api/v1/pending", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"removed":2`) {
		t.Fatalf("clear: %d %s", rec.Code, rec.Body)
	}
	if q.Len() != 0 {
		t.Fatalf("queue still holds %d entries", q.Len())
	}
}

func TestStatus(t *testing.T) {
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	h := Router(Deps{
		Intake: &fakeIntake{},
		Status: func() Status {
			return Status{Pending: 3, LastPrune: &PruneStatus{At: at, Removed: 7}}
		},
	}, RouterOptions{})

	rec := do(t, h, http.MethodGet, "/api/v1/status", "", nil)
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, body)
	}
	for _, want := range []string{`"pending":3`, `"removed":7`, `"tasks":[]`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}

	bare := Router(Deps{Intake: &fakeIntake{}}, RouterOptions{})
	if rec := do(t, bare, http.MethodGet, "/api/v1/status", "", nil); rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "last_prune") {
		t.Fatalf("bare status: %d %s", rec.Code, rec.Body)
	}
}

func TestBearerAuth(t *testing.T) {
	h := Router(Deps{Intake: &fakeIntake{}}, RouterOptions{Token: "s3cret"})

	if rec := do(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz should be open: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/pending", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/pending", "", map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/pending", "", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("good token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", "", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestServiceLifecycle(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Intake: &fakeIntake{}}, logx.Nop())
	svc.Start(context.Background())

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = svc.Addr()
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server never bound")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.Reconfigure(ctx, Config{Enabled: false})
	if svc.Supervisor() != nil {
		t.Fatal("service should be stopped after disabling")
	}
}

func TestInsecureBindRefused(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{Intake: &fakeIntake{}}, logx.Nop())
	if err := svc.serveOnce(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("serveOnce = %v, want ErrInsecureBind", err)
	}
}

func TestRateLimit(t *testing.T) {
	h := Router(Deps{Intake: &fakeIntake{}, Pending: pending.NewQueue()}, RouterOptions{RateLimit: 2})
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodGet, "/api/v1/pending", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/pending", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d, want 429", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz must not be limited: %d", rec.Code)
	}
}
