package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	logx "embycord/pkg/logx"
)

const (
	msgLibraryChanged = "LibraryChanged"
	msgForceKeepAlive = "ForceKeepAlive"
	msgKeepAlive      = "KeepAlive"

	defaultKeepAlive = 30 * time.Second
	readTimeout      = 90 * time.Second
)

type wsMessage struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data,omitempty"`
}

type libraryChanged struct {
	ItemsAdded []string `json:"ItemsAdded"`
}

// Watcher follows Emby's websocket and reports items added to the library.
// Run returns on disconnect; the caller restarts it.
type Watcher struct {
	urlFn  func() (string, error)
	lib    Library
	onItem func(Item)
	log    logx.Logger
	dialer websocket.Dialer

	writeMu sync.Mutex
}

// NewWatcher creates a watcher. urlFn yields the websocket URL (see
// EmbyClient.WebSocketURL); lib resolves added ids; onItem receives each.
func NewWatcher(urlFn func() (string, error), lib Library, onItem func(Item), log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		urlFn:  urlFn,
		lib:    lib,
		onItem: onItem,
		log:    log,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	wsURL, err := w.urlFn()
	if err != nil {
		return err
	}
	conn, resp, err := w.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	w.log.Info("connected to emby websocket")

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock ReadMessage on shutdown.
	go func() {
		<-cctx.Done()
		_ = conn.Close()
	}()

	keepAlive := make(chan time.Duration, 1)
	go w.keepAliveLoop(cctx, conn, keepAlive)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("emby websocket closed by server")
			}
			return fmt.Errorf("emby websocket read: %w", err)
		}
		w.handle(cctx, raw, keepAlive)
	}
}

func (w *Watcher) handle(ctx context.Context, raw []byte, keepAlive chan<- time.Duration) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.log.Debug("ignoring malformed websocket message", logx.Err(err))
		return
	}
	switch msg.MessageType {
	case msgForceKeepAlive:
		var secs int
		if err := json.Unmarshal(msg.Data, &secs); err == nil && secs > 0 {
			select {
			case keepAlive <- time.Duration(secs) * time.Second / 2:
			default:
			}
		}
	case msgLibraryChanged:
		var lc libraryChanged
		if err := json.Unmarshal(msg.Data, &lc); err != nil {
			w.log.Warn("bad LibraryChanged payload", logx.Err(err))
			return
		}
		for _, id := range lc.ItemsAdded {
			if ctx.Err() != nil {
				return
			}
			w.resolve(ctx, id)
		}
	}
}

func (w *Watcher) resolve(ctx context.Context, id string) {
	item, err := w.lib.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return
		}
		w.log.Warn("lookup of added item failed", logx.String("item_id", id), logx.Err(err))
		// Queue the bare id; the poller retries the lookup.
		w.onItem(Item{ID: id})
		return
	}
	w.onItem(*item)
}

func (w *Watcher) keepAliveLoop(ctx context.Context, conn *websocket.Conn, updates <-chan time.Duration) {
	interval := defaultKeepAlive
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-updates:
			if d > 0 && d != interval {
				interval = d
				t.Reset(interval)
			}
		case <-t.C:
			if err := w.send(conn, wsMessage{MessageType: msgKeepAlive}); err != nil {
				w.log.Debug("keepalive failed", logx.Err(err))
				return
			}
		}
	}
}

func (w *Watcher) send(conn *websocket.Conn, msg wsMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
