package storage

import (
	"context"
	"time"

	"embycord/internal/eventbus"
	logx "embycord/pkg/logx"
)

// Record converts a notify.* bus event into a delivery record. ok is false
// for events of any other type.
func Record(e eventbus.Event) (DeliveryRecord, bool) {
	if e.Type != eventbus.NotifySent && e.Type != eventbus.NotifyFailed {
		return DeliveryRecord{}, false
	}
	d, ok := e.Data.(eventbus.DeliveryEvent)
	if !ok {
		return DeliveryRecord{}, false
	}
	return DeliveryRecord{
		At:          e.Time.UTC(),
		Path:        d.Path,
		ItemID:      d.ItemID,
		UserID:      d.UserID,
		Destination: d.Destination,
		Title:       d.Title,
		OK:          e.Type == eventbus.NotifySent,
		Kind:        d.Kind,
		StatusCode:  d.StatusCode,
		Error:       d.Error,
		TookMS:      d.Duration.Milliseconds(),
	}, true
}

// RunRecorder writes every delivery event from events into store until ctx is
// done or the channel closes.
func RunRecorder(ctx context.Context, store Store, events <-chan eventbus.Event, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			rec, ok := Record(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := store.AppendDelivery(wctx, rec); err != nil {
				log.Warn("failed to record delivery", logx.String("path", rec.Path), logx.Err(err))
			}
			cancel()
		}
	}
}
