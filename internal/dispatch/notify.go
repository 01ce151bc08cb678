package dispatch

import (
	"context"
	"time"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Notifier receives one-way stream notifications. Implementations should
// return quickly; the loop never waits on delivery succeeding.
type Notifier interface {
	Notify(n *models.StreamNotification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n *models.StreamNotification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n *models.StreamNotification) { f(n) }

// ApprovalResolved publishes the approval-resolved transition for key. The
// approval gateway's resolved handler is pointed here at startup, so
// presentation collaborators see held tool batches being decided.
func (l *Loop) ApprovalResolved(key models.ConversationKey) {
	l.notify(models.NotifyApprovalResolved, key, nil)
}

// notify queues one notification for fan-out. A full buffer drops the event
// with a log line rather than blocking dispatch.
func (l *Loop) notify(typ models.NotificationType, key models.ConversationKey, msg *models.Message) {
	if len(l.notifiers) == 0 {
		return
	}
	n := &models.StreamNotification{
		Type:      typ,
		Key:       key,
		Message:   msg,
		CreatedAt: time.Now(),
	}
	select {
	case l.notifyC <- n:
	default:
		l.logger.Warn("notification buffer full, dropping event",
			"type", string(typ), "key", key.String())
	}
}

// fanOutNotifications is the single supervised consumer of the notification
// buffer.
func (l *Loop) fanOutNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.notifyC:
			for _, notifier := range l.notifiers {
				notifier.Notify(n)
			}
		}
	}
}
