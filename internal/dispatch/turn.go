package dispatch

import (
	"context"
	"errors"

	"github.com/haasonsaas/switchboard/internal/turnqueue"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// turnUnit builds the deferred unit of work for one agent turn. Each unit
// consumes exactly one pending prompt; if more are waiting when it finishes,
// it schedules a successor instead of running a second concurrent turn.
func (l *Loop) turnUnit(conv *conversation) turnqueue.Unit {
	return func(workerCtx context.Context) {
		conv.mu.Lock()
		if len(conv.pending) == 0 {
			conv.running = false
			conv.mu.Unlock()
			return
		}
		prompt := conv.pending[0]
		conv.pending = conv.pending[1:]
		conv.mu.Unlock()

		l.runTurn(workerCtx, conv, prompt)

		conv.mu.Lock()
		more := len(conv.pending) > 0
		if !more {
			conv.running = false
		}
		conv.mu.Unlock()
		if more {
			l.enqueueNext(workerCtx, conv)
		}
	}
}

// enqueueNext schedules the successor unit off the worker goroutine, so a
// full queue applies backpressure without the worker deadlocking on its own
// queue slot.
func (l *Loop) enqueueNext(ctx context.Context, conv *conversation) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.queue.Enqueue(ctx, l.turnUnit(conv)); err != nil {
			conv.mu.Lock()
			conv.running = false
			conv.mu.Unlock()
			if !errors.Is(err, context.Canceled) {
				l.logger.Error("follow-up turn enqueue failed",
					"key", conv.key.String(), "error", err)
			}
		}
	}()
}

// runTurn executes one agent turn. The turn context composes the scope's own
// cancellation with the process-wide one: whichever fires first stops the
// turn.
func (l *Loop) runTurn(workerCtx context.Context, conv *conversation, prompt *models.Prompt) {
	turnCtx, cancel := context.WithCancel(conv.scope.Context())
	defer cancel()
	stop := context.AfterFunc(workerCtx, cancel)
	defer stop()

	if l.metrics != nil {
		l.metrics.TurnsStarted.Inc()
	}
	l.notify(models.NotifyStreamStarted, conv.key, nil)

	updates := make(chan models.Update, 16)
	select {
	case l.streams <- updates:
	case <-turnCtx.Done():
		close(updates)
		l.finishTurn(conv, "cancelled")
		return
	}
	defer close(updates)

	emit := func(u models.Update) {
		select {
		case updates <- u:
		case <-turnCtx.Done():
		}
	}

	ag, err := l.resolver.Resolve(turnCtx, conv.key)
	if err != nil {
		l.logger.Error("agent resolution failed", "key", conv.key.String(), "error", err)
		emit(models.Update{Key: conv.key, Done: true, Error: err})
		l.finishTurn(conv, "error")
		return
	}

	onText := func(text string) {
		emit(models.Update{Key: conv.key, Text: text})
	}
	final, err := ag.RunTurn(turnCtx, conv.key, conv.history, prompt, onText)

	// Persist what the turn produced — including a turn interrupted by
	// process shutdown. If the scope itself was torn down the turn was
	// cancelled by /cancel: its partial history is discarded, never written,
	// so a stale snapshot cannot land after a successor scope reloads the key.
	if conv.scope.Done() {
		l.logger.Debug("discarding history from cancelled turn", "key", conv.key.String())
	} else {
		persistCtx := context.WithoutCancel(workerCtx)
		if serr := l.store.Set(persistCtx, conv.key, conv.history.Snapshot()); serr != nil {
			l.logger.Error("history persistence failed", "key", conv.key.String(), "error", serr)
		}
	}

	switch {
	case err == nil:
		emit(models.Update{Key: conv.key, Done: true})
		l.notify(models.NotifyNewMessage, conv.key, final)
		l.finishTurn(conv, "ok")
	case errors.Is(err, context.Canceled):
		// Silent stop, the normal cancellation path.
		l.finishTurn(conv, "cancelled")
	default:
		l.logger.Error("turn failed", "key", conv.key.String(), "error", err)
		emit(models.Update{Key: conv.key, Done: true, Error: err})
		l.finishTurn(conv, "error")
	}
	l.notify(models.NotifyStreamEnded, conv.key, nil)
}

func (l *Loop) finishTurn(conv *conversation, outcome string) {
	if l.metrics != nil {
		l.metrics.TurnsCompleted.WithLabelValues(outcome).Inc()
	}
}
