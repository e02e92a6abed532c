package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"embycord/internal/discord"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"https://discord.com/api/webhooks/1/abc", nil},
		{"http://127.0.0.1:8080/hook", nil},
		{"", ErrEmptyURL},
		{"   ", ErrEmptyURL},
		{"ftp://example.com/x", ErrBadScheme},
		{"https:///nohost", ErrNoHost},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.in)
		if tt.want == nil {
			if err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.in, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.in, err, tt.want)
		}
	}
}

func TestDispatchPostsJSONOnce(t *testing.T) {
	var hits atomic.Int32
	var gotBody discord.Message
	var gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := New(Options{})
	msg := discord.Message{Username: "bot", Embeds: []discord.Embed{{Title: "hello"}}}
	res := d.Dispatch(context.Background(), msg, srv.URL)
	if !res.OK() {
		t.Fatalf("dispatch failed: %+v", res)
	}
	if res.Err() != nil {
		t.Fatalf("Err() = %v on success", res.Err())
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", hits.Load())
	}
	if gotCT != "application/json" {
		t.Fatalf("content-type = %q", gotCT)
	}
	if gotBody.Username != "bot" || len(gotBody.Embeds) != 1 || gotBody.Embeds[0].Title != "hello" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestDispatchStatusFailureIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := New(Options{}).Dispatch(context.Background(), discord.Message{Content: "x"}, srv.URL)
	if res.Kind != KindStatus || res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Body, "rate limited") {
		t.Fatalf("body snippet = %q", res.Body)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want exactly 1", hits.Load())
	}

	var de *DispatchError
	if !errors.As(res.Err(), &de) || de.Kind != KindStatus {
		t.Fatalf("Err() = %v, want *DispatchError of kind status", res.Err())
	}
	if !errors.Is(res.Err(), ErrStatus) {
		t.Fatalf("Err() should wrap ErrStatus")
	}
}

func TestDispatchInvalidURLNeverTouchesNetwork(t *testing.T) {
	d := New(Options{Client: doerFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("client must not be called")
		return nil, nil
	})})
	res := d.Dispatch(context.Background(), discord.Message{}, "not a url")
	if res.Kind != KindConfig {
		t.Fatalf("kind = %q, want config", res.Kind)
	}
}

func TestDispatchTransportError(t *testing.T) {
	d := New(Options{Client: doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})})
	res := d.Dispatch(context.Background(), discord.Message{}, "https://example.invalid/hook")
	if res.Kind != KindTransport {
		t.Fatalf("kind = %q, want transport", res.Kind)
	}
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := New(Options{Timeout: 50 * time.Millisecond})
	res := d.Dispatch(context.Background(), discord.Message{}, srv.URL)
	if res.Kind != KindTimeout {
		t.Fatalf("kind = %q (%v), want timeout", res.Kind, res.Cause)
	}
}

func TestDispatchCanceledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(Options{Client: doerFunc(func(r *http.Request) (*http.Response, error) {
		return nil, r.Context().Err()
	})})
	res := d.Dispatch(ctx, discord.Message{}, "https://example.com/hook")
	if res.Kind != KindCanceled {
		t.Fatalf("kind = %q, want canceled", res.Kind)
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }
