// Package intake is the entry point of the notification pipeline. Library
// "item added" events land in the pending queue; direct notification requests
// are formatted and dispatched synchronously.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"embycord/internal/destination"
	"embycord/internal/discord"
	"embycord/internal/eventbus"
	"embycord/internal/format"
	"embycord/internal/library"
	"embycord/internal/metrics"
	"embycord/internal/pending"
	"embycord/internal/poller"
	logx "embycord/pkg/logx"
)

// Name identifies this notification service to the host.
const Name = "Discord"

var (
	ErrNoDestination       = errors.New("no discord destination configured for user")
	ErrDestinationDisabled = errors.New("discord destination is disabled or has no webhook url")
)

// Sources label where an item-added event came from.
const (
	SourceAPI       = "api"
	SourceWebhook   = "emby_webhook"
	SourceWebSocket = "websocket"
)

type Options struct {
	Queue        *pending.Queue
	Destinations destination.Source
	Dispatcher   poller.Dispatcher
	ServerName   poller.ServerNamer
	Bus          eventbus.Bus
	Log          logx.Logger
	Now          func() time.Time
}

type Intake struct {
	queue *pending.Queue
	dests destination.Source
	disp  poller.Dispatcher
	names poller.ServerNamer
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(opts Options) *Intake {
	in := &Intake{
		queue: opts.Queue,
		dests: opts.Destinations,
		disp:  opts.Dispatcher,
		names: opts.ServerName,
		bus:   opts.Bus,
		log:   opts.Log,
		now:   opts.Now,
	}
	if in.queue == nil {
		in.queue = pending.NewQueue()
	}
	if in.bus == nil {
		in.bus = eventbus.Nop()
	}
	if in.log.IsZero() {
		in.log = logx.Nop()
	}
	if in.now == nil {
		in.now = time.Now
	}
	return in
}

func (in *Intake) Queue() *pending.Queue { return in.queue }

// OnItemAdded queues item for a metadata check. Virtual items and blank ids
// are ignored. It reports whether the id was newly queued.
func (in *Intake) OnItemAdded(item library.Item) bool {
	return in.OnItemAddedFrom(SourceAPI, item)
}

// OnItemAddedFrom is OnItemAdded with the event source recorded in metrics
// and bus events.
func (in *Intake) OnItemAddedFrom(source string, item library.Item) bool {
	id := strings.TrimSpace(item.ID)
	if item.IsVirtual || id == "" {
		metrics.ObserveIntake(source, "ignored")
		in.log.Debug("ignoring item-added event", logx.String("item_id", id), logx.Bool("virtual", item.IsVirtual))
		return false
	}
	if !in.queue.Add(id) {
		metrics.ObserveIntake(source, "duplicate")
		in.bus.Publish(eventbus.Event{Type: eventbus.PendingDuplicate, Data: eventbus.ItemEvent{ItemID: id, Source: source}})
		return false
	}
	metrics.ObserveIntake(source, "queued")
	metrics.PendingItems.Set(float64(in.queue.Len()))
	in.bus.Publish(eventbus.Event{Type: eventbus.PendingQueued, Data: eventbus.ItemEvent{ItemID: id, Source: source}})
	in.log.Debug("item queued for metadata check", logx.String("item_id", id), logx.String("source", source))
	return true
}

// IsEnabledForUser reports whether userID has a deliverable destination.
func (in *Intake) IsEnabledForUser(userID string) bool {
	d, ok := destination.ForUser(in.dests, userID)
	return ok && in.IsEnabledForDestination(d)
}

// IsEnabledForDestination is true iff d exists, is enabled and has a webhook URL.
func (in *Intake) IsEnabledForDestination(d *destination.Destination) bool {
	return d.Deliverable()
}

// SendNotification formats req for the requesting user's destination and
// dispatches it once, returning when the attempt completes.
//
// Errors: ErrNoDestination, ErrDestinationDisabled, discord.ErrInvalidColor
// (wrapped) and *webhook.DispatchError.
func (in *Intake) SendNotification(ctx context.Context, req format.Request) error {
	log := in.log.With(logx.String("user_id", req.UserID))

	dest, ok := destination.ForUser(in.dests, req.UserID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoDestination, req.UserID)
	}
	if !in.IsEnabledForDestination(dest) {
		return fmt.Errorf("%w: %q", ErrDestinationDisabled, dest.Name)
	}

	serverName := ""
	if in.names != nil {
		serverName = in.names.ServerName(ctx)
	}
	msg, err := format.Direct(req, dest, serverName, in.now())
	if err != nil {
		log.Warn("destination misconfigured", logx.String("destination", dest.Name), logx.Err(err))
		return fmt.Errorf("destination %q: %w", dest.Name, err)
	}

	res := in.disp.Dispatch(ctx, msg, dest.WebhookURL)
	metrics.ObserveDispatch("direct", string(res.Kind))

	ev := eventbus.DeliveryEvent{
		Path:        "direct",
		UserID:      req.UserID,
		Destination: dest.Name,
		Title:       req.Name,
		StatusCode:  res.StatusCode,
		Kind:        string(res.Kind),
		Duration:    res.Duration,
	}
	if err := res.Err(); err != nil {
		ev.Error = err.Error()
		in.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: ev})
		log.Warn("direct dispatch failed",
			logx.String("destination", dest.Name),
			logx.String("kind", string(res.Kind)),
			logx.Int("status", res.StatusCode),
			logx.Err(res.Cause),
		)
		return err
	}
	in.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Data: ev})
	log.Info("direct notification sent", logx.String("destination", dest.Name), logx.Duration("took", res.Duration))
	return nil
}

// IsConfigError reports whether err stems from destination configuration
// rather than delivery.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoDestination) ||
		errors.Is(err, ErrDestinationDisabled) ||
		errors.Is(err, discord.ErrInvalidColor)
}
