// Package stream turns a token-by-token model response into a few throttled
// chat message edits.
//
// A producer pushes fragments with Push and finishes with PushEnd. A single
// goroutine wakes on a fixed interval, drains whatever arrived, and either
// sends the first message or edits it in place. Mid-stream renders are plain
// text with a progress suffix; the final render is MarkdownV2-escaped.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/metrics"
)

const (
	// DefaultInterval is the drain period.
	DefaultInterval = time.Second
	// DefaultSuffix marks a message that is still being written.
	DefaultSuffix = "... \U0001F504"
)

// Sink performs the chat operations of one aggregator. Calls are never made
// concurrently for the same aggregator.
type Sink interface {
	SendMessage(ctx context.Context, chatID int64, text string, rich bool) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, rich bool) error
}

// item is one queued entry. The end marker carries no text.
type item struct {
	text string
	end  bool
}

// Aggregator buffers one response for one chat.
type Aggregator struct {
	chatID   int64
	sink     Sink
	interval time.Duration
	suffix   string
	log      zerolog.Logger

	mu    sync.Mutex
	queue []item

	buf       strings.Builder
	messageID int64

	done chan struct{}
	err  error
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithInterval overrides the drain period.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithSuffix overrides the in-progress suffix.
func WithSuffix(s string) Option {
	return func(a *Aggregator) { a.suffix = s }
}

// WithLogger sets the logger for flush failures.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// Start creates an Aggregator for chatID and launches its drain loop. The
// loop stops after the final flush or when ctx is cancelled; in the latter
// case buffered text is discarded.
func Start(ctx context.Context, chatID int64, sink Sink, opts ...Option) *Aggregator {
	a := &Aggregator{
		chatID:   chatID,
		sink:     sink,
		interval: DefaultInterval,
		suffix:   DefaultSuffix,
		log:      zerolog.Nop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	metrics.ActiveStreams.Inc()
	go a.run(ctx)
	return a
}

// Push queues a fragment. It never blocks on the network.
func (a *Aggregator) Push(fragment string) {
	a.mu.Lock()
	a.queue = append(a.queue, item{text: fragment})
	a.mu.Unlock()
}

// PushEnd queues the end-of-stream marker after all earlier fragments.
func (a *Aggregator) PushEnd() {
	a.mu.Lock()
	a.queue = append(a.queue, item{end: true})
	a.mu.Unlock()
}

// Done is closed once the loop has terminated.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the loop terminates and returns the error of the final
// flush, or the context error if the stream was abandoned.
func (a *Aggregator) Wait() error {
	<-a.done
	return a.err
}

// MessageID returns the id of the chat message, or 0 before the first
// successful send. Only meaningful after Done.
func (a *Aggregator) MessageID() int64 {
	<-a.done
	return a.messageID
}

func (a *Aggregator) run(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.ActiveStreams.Dec()
		metrics.StreamDuration.Observe(time.Since(started).Seconds())
		close(a.done)
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.err = ctx.Err()
			return
		case <-ticker.C:
		}

		items := a.drain()
		if len(items) == 0 {
			continue
		}

		ended := false
		for _, it := range items {
			if it.end {
				ended = true
				break
			}
			a.buf.WriteString(it.text)
		}

		if !ended {
			// Mid-stream failures are retried on the next tick with more text.
			_ = a.flush(ctx, a.buf.String()+a.suffix, false)
			continue
		}

		a.err = a.flush(ctx, EscapeMarkdown(a.buf.String()), true)
		return
	}
}

// drain takes every queued item.
func (a *Aggregator) drain() []item {
	a.mu.Lock()
	defer a.mu.Unlock()
	items := a.queue
	a.queue = nil
	return items
}

// flush sends the first message or edits the existing one. A failed first
// send leaves messageID at zero so the next flush sends again.
func (a *Aggregator) flush(ctx context.Context, text string, rich bool) error {
	mode := "plain"
	if rich {
		mode = "rich"
	}

	if a.messageID == 0 {
		id, err := a.sink.SendMessage(ctx, a.chatID, text, rich)
		if err != nil {
			metrics.StreamFlushes.WithLabelValues("send", mode, "error").Inc()
			a.log.Warn().Err(err).Int64("chat", a.chatID).Str("mode", mode).Msg("stream: send failed")
			return errors.Wrap(err, "stream: send")
		}
		a.messageID = id
		metrics.StreamFlushes.WithLabelValues("send", mode, "success").Inc()
		return nil
	}

	if err := a.sink.EditMessage(ctx, a.chatID, a.messageID, text, rich); err != nil {
		metrics.StreamFlushes.WithLabelValues("edit", mode, "error").Inc()
		a.log.Warn().Err(err).Int64("chat", a.chatID).Int64("message", a.messageID).Str("mode", mode).Msg("stream: edit failed")
		return errors.Wrap(err, "stream: edit")
	}
	metrics.StreamFlushes.WithLabelValues("edit", mode, "success").Inc()
	return nil
}
