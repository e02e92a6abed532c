// Package poller drains the pending queue: it re-checks queued items on a
// fixed interval and announces each one once its metadata shows up.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"embycord/internal/destination"
	"embycord/internal/discord"
	"embycord/internal/eventbus"
	"embycord/internal/format"
	"embycord/internal/library"
	"embycord/internal/metrics"
	"embycord/internal/pending"
	"embycord/internal/webhook"
	logx "embycord/pkg/logx"
)

const DefaultInterval = 5 * time.Second

// Dispatcher sends one message to one webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg discord.Message, webhookURL string) webhook.Result
}

// ServerNamer yields the display name of the media server.
type ServerNamer interface {
	ServerName(ctx context.Context) string
}

// Clock is the poller's view of time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Outcome is what a cycle did with one entry.
type Outcome string

const (
	OutcomeWaiting       Outcome = "waiting"        // no metadata yet
	OutcomeSent          Outcome = "sent"           // dispatched and removed
	OutcomeFailed        Outcome = "failed"         // dispatch failed, removed
	OutcomeRemoved       Outcome = "removed"        // item gone from the library
	OutcomeVirtual       Outcome = "virtual"        // placeholder item, dropped
	OutcomeAbandoned     Outcome = "abandoned"      // policy exceeded
	OutcomeLookupError   Outcome = "lookup_error"   // kept for next cycle
	OutcomeNoDestination Outcome = "no_destination" // kept for next cycle
	OutcomePanic         Outcome = "panic"          // kept for next cycle
)

// CycleReport summarizes one pass over the queue.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Checked  int
	Outcomes map[Outcome]int
	// Interrupted is set when ctx was cancelled before every entry was visited.
	Interrupted bool
}

func (r CycleReport) Count(o Outcome) int { return r.Outcomes[o] }

type Options struct {
	Queue        *pending.Queue
	Library      library.Library
	Destinations destination.Source
	Dispatcher   Dispatcher
	ServerName   ServerNamer
	Bus          eventbus.Bus
	Log          logx.Logger
	Clock        Clock
	Interval     time.Duration
	Policy       pending.Policy
}

type Poller struct {
	queue *pending.Queue
	lib   library.Library
	dests destination.Source
	disp  Dispatcher
	names ServerNamer
	bus   eventbus.Bus
	log   logx.Logger
	clock Clock

	mu       sync.Mutex
	interval time.Duration
	policy   pending.Policy
}

func New(opts Options) *Poller {
	p := &Poller{
		queue: opts.Queue,
		lib:   opts.Library,
		dests: opts.Destinations,
		disp:  opts.Dispatcher,
		names: opts.ServerName,
		bus:   opts.Bus,
		log:   opts.Log,
		clock: opts.Clock,
	}
	if p.queue == nil {
		p.queue = pending.NewQueue()
	}
	if p.bus == nil {
		p.bus = eventbus.Nop()
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	if p.clock == nil {
		p.clock = realClock{}
	}
	p.SetInterval(opts.Interval)
	p.SetPolicy(opts.Policy)
	return p
}

// SetInterval changes the delay between cycles; d <= 0 restores the default.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
}

func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Poller) SetPolicy(pol pending.Policy) {
	p.mu.Lock()
	p.policy = pol
	p.mu.Unlock()
}

func (p *Poller) currentPolicy() pending.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// Run loops until ctx is cancelled, waiting Interval after each full pass.
func (p *Poller) Run(ctx context.Context) error {
	fields := []logx.Field{logx.Duration("interval", p.Interval())}
	if pol := p.currentPolicy(); !pol.Unlimited() {
		fields = append(fields, logx.Int("max_attempts", pol.MaxAttempts), logx.Duration("max_age", pol.MaxAge))
	}
	p.log.Info("poller started", fields...)
	defer p.log.Info("poller stopped")
	for {
		p.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(p.Interval()):
		}
	}
}

// RunCycle visits every entry queued at the start of the pass once.
func (p *Poller) RunCycle(ctx context.Context) CycleReport {
	rep := CycleReport{Started: p.clock.Now(), Outcomes: map[Outcome]int{}}
	defer func() {
		rep.Duration = p.clock.Now().Sub(rep.Started)
		metrics.ObserveCycle(rep.Duration, p.queue.Len())
	}()

	entries := p.queue.Snapshot()
	if len(entries) == 0 {
		p.log.Debug("no media pending update check")
		return rep
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return rep
		}
		rep.Checked++
		rep.Outcomes[p.check(ctx, e)]++
	}
	return rep
}

// check handles one entry. A panic is contained here so the rest of the
// cycle still runs.
func (p *Poller) check(ctx context.Context, e pending.Entry) (out Outcome) {
	log := p.log.With(logx.String("item_id", e.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("item check panicked", logx.Any("panic", r))
			out = OutcomePanic
		}
	}()

	log.Debug("queued for recheck", logx.Int("checks", e.Checks))

	if p.lib == nil {
		return OutcomeLookupError
	}
	item, err := p.lib.GetItem(ctx, e.ID)
	switch {
	case errors.Is(err, library.ErrNotFound):
		p.queue.Remove(e.ID)
		p.publishItem(eventbus.PendingRemoved, e, "not_found")
		log.Info("item no longer in library, dropped")
		return OutcomeRemoved
	case err != nil:
		log.Warn("item lookup failed", logx.Err(err))
		return OutcomeLookupError
	}

	if item.IsVirtual {
		p.queue.Remove(e.ID)
		p.publishItem(eventbus.PendingRemoved, e, "virtual")
		log.Debug("virtual item, dropped", logx.String("name", item.Name))
		return OutcomeVirtual
	}

	if !item.HasMetadata() {
		log.Debug("has no metadata", logx.String("name", item.Name))
		updated, ok := p.queue.MarkChecked(e.ID)
		if ok && p.currentPolicy().Expired(updated, p.clock.Now()) {
			p.queue.Remove(e.ID)
			metrics.ItemsAbandoned.Inc()
			p.publishItem(eventbus.PendingAbandoned, updated, "no_metadata")
			log.Warn("gave up waiting for metadata", logx.Int("checks", updated.Checks), logx.Duration("age", p.clock.Now().Sub(updated.QueuedAt)))
			return OutcomeAbandoned
		}
		return OutcomeWaiting
	}

	log.Debug("has metadata, sending notification", logx.String("name", item.Name))

	dest, ok := destination.ForMediaAdded(p.dests)
	if !ok || !dest.Deliverable() {
		log.Warn("no enabled media-added destination; keeping item queued")
		return OutcomeNoDestination
	}
	if err := webhook.ValidateURL(dest.WebhookURL); err != nil {
		log.Warn("media-added destination has an invalid webhook url; keeping item queued", logx.String("destination", dest.Name), logx.Err(err))
		return OutcomeNoDestination
	}

	serverName := ""
	if p.names != nil {
		serverName = p.names.ServerName(ctx)
	}
	msg := format.MediaAdded(item, dest, serverName, p.clock.Now())
	res := p.disp.Dispatch(ctx, msg, dest.WebhookURL)

	// At most one attempt: the entry goes away whatever the outcome.
	p.queue.Remove(e.ID)
	metrics.ObserveDispatch("media_added", string(res.Kind))

	ev := eventbus.DeliveryEvent{
		Path:        "media_added",
		ItemID:      e.ID,
		Destination: dest.Name,
		Title:       titleOf(msg),
		StatusCode:  res.StatusCode,
		Kind:        string(res.Kind),
		Duration:    res.Duration,
	}
	if !res.OK() {
		ev.Error = fmt.Sprint(res.Cause)
		p.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: ev})
		log.Warn("media-added dispatch failed",
			logx.String("destination", dest.Name),
			logx.String("kind", string(res.Kind)),
			logx.Int("status", res.StatusCode),
			logx.Err(res.Cause),
		)
		return OutcomeFailed
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Data: ev})
	log.Info("media-added notification sent", logx.String("name", item.Name), logx.Duration("took", res.Duration))
	return OutcomeSent
}

func (p *Poller) publishItem(typ string, e pending.Entry, reason string) {
	p.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.ItemEvent{ItemID: e.ID, Reason: reason, Checks: e.Checks}})
}

func titleOf(msg discord.Message) string {
	if e, ok := msg.FirstEmbed(); ok {
		return e.Title
	}
	return ""
}
