package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/zulandar/botyard/internal/metrics"
	"github.com/zulandar/botyard/internal/models"
	"github.com/zulandar/botyard/internal/telegraph"
)

// handle is one running bot loop.
type handle struct {
	bot     *models.Bot
	adapter telegraph.Adapter
	primary bool
	cancel  context.CancelFunc
	alive   atomic.Bool
	done    chan struct{}

	mu      sync.Mutex
	workers map[int64]*worker
	wg      sync.WaitGroup
}

// worker serialises the events of one chat. queue is guarded by the
// handle's mu; wake carries at most one pending signal.
type worker struct {
	queue []telegraph.Event
	wake  chan struct{}
}

func (h *handle) status() Status {
	h.mu.Lock()
	chats := len(h.workers)
	h.mu.Unlock()
	return Status{
		ID:       h.bot.ID,
		Username: h.bot.Username,
		Platform: h.bot.Platform,
		Primary:  h.primary,
		Alive:    h.alive.Load(),
		Chats:    chats,
	}
}

// run reads the adapter's event channel until it closes or ctx ends, then
// waits for the chat workers to drain.
func (m *Manager) run(ctx context.Context, h *handle, events <-chan telegraph.Event) {
	log := m.log.With().Str("bot", h.bot.Username).Bool("primary", h.primary).Logger()
	log.Debug().Msg("fleet: loop started")

	defer func() {
		h.alive.Store(false)
		h.cancel()
		h.wg.Wait()
		close(h.done)
		log.Debug().Msg("fleet: loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					log.Warn().Msg("fleet: event stream closed unexpectedly")
				}
				return
			}
			m.dispatch(ctx, h, ev)
		}
	}
}

// dispatch appends ev to the queue of its chat, starting a worker if
// needed. It never blocks, so a slow chat cannot hold up the receive loop.
// Events beyond chatBacklog are dropped.
func (m *Manager) dispatch(ctx context.Context, h *handle, ev telegraph.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.workers[ev.ChatID]
	if !ok {
		w = &worker{wake: make(chan struct{}, 1)}
		h.workers[ev.ChatID] = w
		h.wg.Add(1)
		go m.work(ctx, h, ev.ChatID, w)
	}
	if len(w.queue) >= chatBacklog {
		metrics.HandlerFailures.WithLabelValues("overflow").Inc()
		m.log.Warn().Str("bot", h.bot.Username).Int64("chat", ev.ChatID).Int("backlog", len(w.queue)).Msg("fleet: chat backlog full, event dropped")
		return
	}
	w.queue = append(w.queue, ev)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event of w.
func (h *handle) next(w *worker) (telegraph.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(w.queue) == 0 {
		return telegraph.Event{}, false
	}
	ev := w.queue[0]
	w.queue[0] = telegraph.Event{}
	w.queue = w.queue[1:]
	return ev, true
}

// work handles the events of one chat in arrival order and exits after the
// idle timeout.
func (m *Manager) work(ctx context.Context, h *handle, chatID int64, w *worker) {
	defer h.wg.Done()

	idle := time.NewTimer(m.idle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-idle.C:
			h.mu.Lock()
			if len(w.queue) == 0 {
				delete(h.workers, chatID)
				h.mu.Unlock()
				return
			}
			h.mu.Unlock()
		}

		for ctx.Err() == nil {
			ev, ok := h.next(w)
			if !ok {
				break
			}
			m.handleEvent(ctx, h, ev)
		}
		idle.Reset(m.idle)
	}
}

// handleEvent runs the handler for ev. Panics and errors are contained to
// this event.
func (m *Manager) handleEvent(ctx context.Context, h *handle, ev telegraph.Event) {
	log := m.log.With().Str("bot", h.bot.Username).Int64("chat", ev.ChatID).Str("kind", string(ev.Kind)).Logger()

	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerFailures.WithLabelValues("panic").Inc()
			log.Error().Interface("panic", r).Msg("fleet: handler panicked")
		}
	}()

	box := m.handler.Load()
	if box == nil {
		log.Warn().Msg("fleet: no handler, event dropped")
		return
	}

	bc := telegraph.BotContext{Bot: h.bot, Adapter: h.adapter, Primary: h.primary}
	if err := box.h.Handle(ctx, bc, ev); err != nil {
		reason := "error"
		if errors.Is(err, telegraph.ErrMalformedEvent) {
			reason = "malformed"
		}
		metrics.HandlerFailures.WithLabelValues(reason).Inc()
		log.Error().Err(err).Msg("fleet: handler failed")
	}
}
