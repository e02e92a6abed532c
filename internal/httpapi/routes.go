package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"embycord/internal/format"
	"embycord/internal/intake"
	"embycord/internal/library"
	"embycord/internal/pending"
	rtsup "embycord/internal/runtime/supervisor"
	"embycord/internal/storage"
	"embycord/internal/webhook"
	logx "embycord/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// Intake is the part of intake.Intake the API drives.
type Intake interface {
	OnItemAddedFrom(source string, item library.Item) bool
	SendNotification(ctx context.Context, req format.Request) error
}

// PendingQueue is satisfied by *pending.Queue.
type PendingQueue interface {
	Snapshot() []pending.Entry
	Clear() int
}

// DeliveryLister is satisfied by storage.Store.
type DeliveryLister interface {
	RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
}

type Deps struct {
	Intake  Intake
	Pending PendingQueue
	// Deliveries returns nil while storage is disabled.
	Deliveries func() DeliveryLister
	// Status reports runtime state for GET /api/v1/status.
	Status func() Status
	Log    logx.Logger
}

// Status is the body of GET /api/v1/status.
type Status struct {
	Pending    int            `json:"pending"`
	Supervisor rtsup.Snapshot `json:"supervisor"`
	HTTP       rtsup.Snapshot `json:"http"`
	// LastPrune is nil until retention has pruned once.
	LastPrune *PruneStatus `json:"last_prune,omitempty"`
}

type PruneStatus struct {
	At      time.Time `json:"at"`
	Removed int       `json:"removed"`
}

// RouterOptions are the request-path settings taken from Config.
type RouterOptions struct {
	Token string
	Pprof bool
	// RateLimit caps /api/v1 requests per client IP per minute; 0 disables.
	RateLimit int
}

// Router builds the API handler. With a non-empty token every route except
// /healthz requires "Authorization: Bearer <token>".
func Router(d Deps, opts RouterOptions) http.Handler {
	h := &handlers{deps: d, log: d.Log}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))
		r.Handle("/metrics", promhttp.Handler())
		if opts.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
		r.Route("/api/v1", func(r chi.Router) {
			if opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
			}
			r.Post("/items", h.itemAdded)
			r.Post("/emby/webhook", h.embyWebhook)
			r.Post("/notifications", h.notify)
			r.Get("/pending", h.pending)
			r.Delete("/pending", h.clearPending)
			r.Get("/status", h.status)
			r.Get("/deliveries", h.deliveries)
		})
	})
	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type handlers struct {
	deps Deps
	log  logx.Logger
}

type itemRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	IsVirtual bool   `json:"is_virtual,omitempty"`
}

type itemResponse struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
}

func (h *handlers) itemAdded(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	h.queue(w, intake.SourceAPI, library.Item{ID: req.ID, Name: req.Name, IsVirtual: req.IsVirtual})
}

// embyEvent is the subset of the Emby webhooks plugin payload we read.
type embyEvent struct {
	Event string `json:"Event"`
	Item  struct {
		ID            string `json:"Id"`
		Name          string `json:"Name"`
		IsVirtualItem bool   `json:"IsVirtualItem"`
		LocationType  string `json:"LocationType"`
	} `json:"Item"`
}

func (h *handlers) embyWebhook(w http.ResponseWriter, r *http.Request) {
	var ev embyEvent
	if err := decodeLoose(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.EqualFold(strings.TrimSpace(ev.Event), "library.new") {
		h.log.Debug("emby webhook event ignored", logx.String("event", ev.Event))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if strings.TrimSpace(ev.Item.ID) == "" {
		writeError(w, http.StatusBadRequest, "Item.Id is required")
		return
	}
	h.queue(w, intake.SourceWebhook, library.Item{
		ID:        ev.Item.ID,
		Name:      ev.Item.Name,
		IsVirtual: ev.Item.IsVirtualItem || strings.EqualFold(ev.Item.LocationType, "Virtual"),
	})
}

func (h *handlers) queue(w http.ResponseWriter, source string, item library.Item) {
	queued := h.deps.Intake.OnItemAddedFrom(source, item)
	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, itemResponse{ID: strings.TrimSpace(item.ID), Queued: queued})
}

type notifyRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *handlers) notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := h.deps.Intake.SendNotification(r.Context(), format.Request{
		UserID:      req.UserID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, notifyStatus(err), err.Error())
}

// notifyStatus maps SendNotification errors onto HTTP statuses.
func notifyStatus(err error) int {
	var de *webhook.DispatchError
	switch {
	case errors.Is(err, intake.ErrNoDestination):
		return http.StatusNotFound
	case errors.Is(err, intake.ErrDestinationDisabled):
		return http.StatusConflict
	case intake.IsConfigError(err):
		return http.StatusUnprocessableEntity
	case errors.As(err, &de):
		switch de.Kind {
		case webhook.KindConfig:
			return http.StatusUnprocessableEntity
		case webhook.KindCanceled:
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) pending(w http.ResponseWriter, _ *http.Request) {
	entries := []pending.Entry{}
	if h.deps.Pending != nil {
		entries = append(entries, h.deps.Pending.Snapshot()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "items": entries})
}

func (h *handlers) clearPending(w http.ResponseWriter, _ *http.Request) {
	n := 0
	if h.deps.Pending != nil {
		n = h.deps.Pending.Clear()
	}
	h.log.Info("pending queue cleared via api", logx.Int("removed", n))
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	var st Status
	if h.deps.Status != nil {
		st = h.deps.Status()
	}
	if st.Supervisor.Tasks == nil {
		st.Supervisor.Tasks = []rtsup.TaskStats{}
	}
	if st.HTTP.Tasks == nil {
		st.HTTP.Tasks = []rtsup.TaskStats{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) deliveries(w http.ResponseWriter, r *http.Request) {
	var store DeliveryLister
	if h.deps.Deliveries != nil {
		store = h.deps.Deliveries()
	}
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, storage.ErrDisabled.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs, err := store.RecentDeliveries(r.Context(), limit)
	if err != nil {
		h.log.Warn("listing deliveries failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if recs == nil {
		recs = []storage.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// decodeBody strictly decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body: " + err.Error())
	}
	return nil
}

// decodeLoose accepts unknown fields; third-party payloads carry plenty.
func decodeLoose(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.New("invalid json body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
