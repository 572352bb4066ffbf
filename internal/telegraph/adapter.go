// Package telegraph connects bots to chat platforms. It defines the platform
// Adapter, the inbound Event model, the Router that drives conversations, and
// the Daemon that keeps the fleet of bot loops running.
package telegraph

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zulandar/botyard/internal/models"
	"github.com/zulandar/botyard/internal/state"
)

var (
	// ErrUnauthorized is returned by Adapter.Connect when the platform
	// rejects the bot credential.
	ErrUnauthorized = errors.New("telegraph: unauthorized")
	// ErrTransient marks a send or edit failure worth retrying later.
	ErrTransient = errors.New("telegraph: transient platform failure")
	// ErrMalformedEvent marks an inbound update that cannot be handled.
	ErrMalformedEvent = errors.New("telegraph: malformed event")
	// ErrInvalidCredential is reported when a token cannot be used to
	// register a bot.
	ErrInvalidCredential = errors.New("telegraph: invalid bot credential")
	// ErrDuplicateUsername is reported when a bot with the same platform
	// username is already registered.
	ErrDuplicateUsername = errors.New("telegraph: bot username already registered")
)

// Adapter is one authenticated bot connection to a chat platform.
type Adapter interface {
	// Connect authenticates and resolves the bot identity. A rejected
	// credential yields an error wrapping ErrUnauthorized.
	Connect(ctx context.Context) error

	// Identity returns the bot account. Valid after Connect.
	Identity() Identity

	// Listen returns the inbound event channel. The channel is closed when
	// ctx is cancelled or the adapter is closed.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send posts a new message and returns its id.
	Send(ctx context.Context, msg OutboundMessage) (int64, error)

	// Edit replaces the text of a message previously sent by this bot.
	Edit(ctx context.Context, chatID, messageID int64, text string, mode RenderMode) error

	// FileURL resolves an uploaded file id to a downloadable URL.
	FileURL(ctx context.Context, fileID string) (string, error)

	// Close releases the connection.
	Close() error
}

// Identity describes the bot account behind an adapter.
type Identity struct {
	ID       int64
	Name     string
	Username string
}

// EventKind classifies inbound events.
type EventKind string

const (
	EventText     EventKind = "text"
	EventCommand  EventKind = "command"
	EventButton   EventKind = "button"
	EventDocument EventKind = "document"
)

// Event is one inbound user action normalised across platforms.
type Event struct {
	Platform  string
	ChatID    int64
	UserID    string
	UserName  string
	Kind      EventKind
	Text      string // message text, or command arguments
	Command   string // command name without the leading slash
	Action    string // button action
	Arg       string // button argument
	File      *File
	Timestamp time.Time
}

// File is an uploaded document.
type File struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// Input maps the event onto the state machine alphabet. ok is false for
// events of unknown kind.
func (e Event) Input() (state.Input, bool) {
	switch e.Kind {
	case EventCommand:
		return state.Input{Kind: state.InputCommand, Name: e.Command}, true
	case EventButton:
		return state.Input{Kind: state.InputButton, Name: e.Action}, true
	case EventText:
		return state.Input{Kind: state.InputText}, true
	case EventDocument:
		if e.File == nil {
			return state.Input{}, false
		}
		return state.Input{Kind: state.InputDocument}, true
	}
	return state.Input{}, false
}

// RenderMode selects how the platform formats message text.
type RenderMode int

const (
	// RenderPlain sends text verbatim.
	RenderPlain RenderMode = iota
	// RenderRich sends pre-escaped MarkdownV2.
	RenderRich
)

func (m RenderMode) String() string {
	if m == RenderRich {
		return "rich"
	}
	return "plain"
}

// OutboundMessage is a message to post. Buttons are laid out as rows.
type OutboundMessage struct {
	ChatID  int64
	Text    string
	Mode    RenderMode
	Buttons [][]Button
}

// Button is an inline button. Pressing it produces an EventButton carrying
// Action and Arg.
type Button struct {
	Label  string
	Action string
	Arg    string
}

// Data encodes the button payload as "action" or "action:arg".
func (b Button) Data() string {
	if b.Arg == "" {
		return b.Action
	}
	return b.Action + ":" + b.Arg
}

// ParseButtonData splits a payload produced by Button.Data.
func ParseButtonData(data string) (action, arg string) {
	action, arg, _ = strings.Cut(data, ":")
	return action, arg
}

// ParseCommand splits "/name@bot args" into name and args. ok is false when
// text is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// BotContext identifies the bot loop that received an event.
type BotContext struct {
	Bot     *models.Bot
	Adapter Adapter
	Primary bool
}

// transientError marks a platform failure as retryable while keeping the
// original error reachable.
type transientError struct{ cause error }

func (e *transientError) Error() string        { return e.cause.Error() }
func (e *transientError) Unwrap() error        { return e.cause }
func (e *transientError) Cause() error         { return e.cause }
func (e *transientError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err so that errors.Is(err, ErrTransient) holds. nil stays
// nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err}
}
