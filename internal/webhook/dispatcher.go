// Package webhook posts Discord messages to webhook URLs.
//
// A Dispatcher makes at most one delivery attempt per call and never retries.
// Failures come back as a classified Result rather than a panic or a silently
// dropped error, so callers decide whether to log, skip or propagate.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"embycord/internal/discord"
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 1024
)

// Kind classifies a failed dispatch.
type Kind string

const (
	KindNone      Kind = ""
	KindConfig    Kind = "config"
	KindEncode    Kind = "encode"
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindStatus    Kind = "status"
	KindCanceled  Kind = "canceled"
)

// Result is the outcome of a single dispatch attempt.
type Result struct {
	Kind       Kind
	StatusCode int
	Body       string
	Duration   time.Duration
	Cause      error
}

func (r Result) OK() bool { return r.Kind == KindNone }

// Err converts a failed result into a *DispatchError; nil on success.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &DispatchError{Kind: r.Kind, StatusCode: r.StatusCode, Body: r.Body, Err: r.Cause}
}

// DispatchError is the error form of a failed Result.
type DispatchError struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString("webhook ")
	b.WriteString(string(e.Kind))
	b.WriteString(" failure")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error { return e.Err }

var (
	ErrEmptyURL  = errors.New("webhook url is empty")
	ErrBadScheme = errors.New("webhook url must use http or https")
	ErrNoHost    = errors.New("webhook url has no host")
	ErrStatus    = errors.New("webhook returned non-2xx status")
)

// ValidateURL checks that raw is a usable http(s) URL.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrBadScheme, u.Scheme)
	}
	if u.Host == "" {
		return ErrNoHost
	}
	return nil
}

// Doer is the subset of *http.Client used by the dispatcher.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	Client    Doer
}

type Dispatcher struct {
	client    Doer
	timeout   time.Duration
	userAgent string
}

func New(opts Options) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "embycord"
	}
	return &Dispatcher{client: client, timeout: timeout, userAgent: ua}
}

func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Dispatch encodes msg and POSTs it once to webhookURL.
func (d *Dispatcher) Dispatch(ctx context.Context, msg discord.Message, webhookURL string) Result {
	start := time.Now()
	res := d.dispatch(ctx, msg, webhookURL)
	res.Duration = time.Since(start)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, msg discord.Message, webhookURL string) Result {
	if err := ValidateURL(webhookURL); err != nil {
		return Result{Kind: KindConfig, Cause: err}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return Result{Kind: KindEncode, Cause: fmt.Errorf("encode message: %w", err)}
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, strings.TrimSpace(webhookURL), bytes.NewReader(body))
	if err != nil {
		return Result{Kind: KindConfig, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Kind: classify(ctx, err), Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{StatusCode: resp.StatusCode}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return Result{
		Kind:       KindStatus,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
		Cause:      fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode),
	}
}

// classify maps a transport error onto a Kind. The parent ctx distinguishes
// caller cancellation from the dispatcher's own timeout.
func classify(parent context.Context, err error) Kind {
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return KindTimeout
		}
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransport
}

// SendLog posts a plain-content message. It lets the dispatcher serve as the
// operator log sink.
func (d *Dispatcher) SendLog(ctx context.Context, webhookURL, text string) error {
	return d.Dispatch(ctx, discord.Message{Username: "embycord", Content: text}, webhookURL).Err()
}
