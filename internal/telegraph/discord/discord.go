// Package discord implements the telegraph Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/stream"
	"github.com/zulandar/botyard/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
	// maxRowButtons is Discord's limit of buttons in one action row.
	maxRowButtons = 5
	// emptyText replaces empty message bodies, which Discord rejects.
	emptyText = "…"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Adapter implements telegraph.Adapter for one Discord bot. Chat ids are
// channel snowflakes.
type Adapter struct {
	sess        session
	botToken    string
	log         zerolog.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu        sync.Mutex
	self      *discordgo.User
	connected bool
	closed    bool
	cancel    context.CancelFunc
	removers  []func()

	// outMu guards inbound against sends racing its close.
	outMu     sync.RWMutex
	inbound   chan telegraph.Event
	closeOnce sync.Once
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string
	Logger   zerolog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, errors.New("discord: bot token is required")
	}
	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		log:         opts.Logger,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		inbound:     make(chan telegraph.Event, 100),
	}, nil
}

// Connect verifies the token over REST, then opens the Gateway.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return errors.Wrap(err, "discord: create session")
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = dg
	}

	self, err := a.sess.User("@me")
	if err != nil {
		if statusCode(err) == http.StatusUnauthorized {
			return errors.Wrap(telegraph.ErrUnauthorized, "discord: token rejected")
		}
		return errors.Wrap(err, "discord: fetch bot user")
	}

	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn().Str("bot", self.Username).Msg("discord: gateway disconnected, reconnecting")
	})

	if err := a.sess.Open(); err != nil {
		return errors.Wrap(err, "discord: open gateway")
	}

	a.self = self
	a.connected = true
	a.log.Info().Str("bot", self.Username).Str("id", self.ID).Msg("discord: connected")
	return nil
}

func (a *Adapter) Identity() telegraph.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.self == nil {
		return telegraph.Identity{}
	}
	id, _ := strconv.ParseInt(a.self.ID, 10, 64)
	name := a.self.GlobalName
	if name == "" {
		name = a.self.Username
	}
	return telegraph.Identity{ID: id, Name: name, Username: a.self.Username}
}

// Listen registers message and interaction handlers on the Gateway session.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, errors.New("discord: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if ev, ok := a.messageEvent(m); ok {
				a.emit(listenCtx, ev)
			}
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			if ev, ok := a.interactionEvent(listenCtx, i); ok {
				a.emit(listenCtx, ev)
			}
		}),
	)

	go func() {
		<-listenCtx.Done()
		a.closeInbound()
	}()
	return a.inbound, nil
}

func (a *Adapter) emit(ctx context.Context, ev telegraph.Event) {
	a.outMu.RLock()
	defer a.outMu.RUnlock()
	if ctx.Err() != nil {
		return
	}
	select {
	case a.inbound <- ev:
	case <-ctx.Done():
	}
}

func (a *Adapter) closeInbound() {
	a.closeOnce.Do(func() {
		a.outMu.Lock()
		close(a.inbound)
		a.outMu.Unlock()
	})
}

// Send posts msg to the channel msg.ChatID and returns the message snowflake.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) (int64, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}

	data := buildMessageSend(msg)
	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = a.sess.ChannelMessageSendComplex(snowflake(msg.ChatID), data)
		return apiErr
	})
	if err != nil {
		return 0, telegraph.Transient(errors.Wrap(err, "discord: send message"))
	}
	id, err := strconv.ParseInt(sent.ID, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "discord: message id %q", sent.ID)
	}
	return id, nil
}

// Edit replaces the content of messageID.
func (a *Adapter) Edit(ctx context.Context, chatID, messageID int64, text string, mode telegraph.RenderMode) error {
	if err := a.ready(); err != nil {
		return err
	}

	edit := discordgo.NewMessageEdit(snowflake(chatID), snowflake(messageID)).SetContent(content(text, mode))
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEditComplex(edit)
		return apiErr
	})
	if err != nil {
		return telegraph.Transient(errors.Wrap(err, "discord: edit message"))
	}
	return nil
}

// FileURL returns the CDN URL of an attachment. Discord attachment ids are
// already their download URLs.
func (a *Adapter) FileURL(ctx context.Context, fileID string) (string, error) {
	if !strings.HasPrefix(fileID, "https://") {
		return "", errors.Errorf("discord: %q is not an attachment url", fileID)
	}
	return fileID, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	for _, remove := range a.removers {
		remove()
	}
	sess := a.sess
	a.mu.Unlock()

	a.closeInbound()
	if sess != nil {
		return sess.Close()
	}
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return errors.New("discord: not connected")
	}
	return nil
}

// messageEvent converts a Discord message into an Event. Messages from bots,
// including this one, are dropped.
func (a *Adapter) messageEvent(m *discordgo.MessageCreate) (telegraph.Event, bool) {
	if m.Author == nil || m.Author.Bot {
		return telegraph.Event{}, false
	}
	chatID, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		return telegraph.Event{}, false
	}

	ev := telegraph.Event{
		Platform:  "discord",
		ChatID:    chatID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Timestamp: m.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp, _ = discordgo.SnowflakeTimestamp(m.ID)
	}

	switch {
	case len(m.Attachments) > 0:
		att := m.Attachments[0]
		ev.Kind = telegraph.EventDocument
		ev.Text = m.Content
		ev.File = &telegraph.File{ID: att.URL, Name: att.Filename, MimeType: att.ContentType, Size: int64(att.Size)}
	default:
		if name, args, ok := telegraph.ParseCommand(m.Content); ok {
			ev.Kind = telegraph.EventCommand
			ev.Command = name
			ev.Text = args
		} else if strings.TrimSpace(m.Content) != "" {
			ev.Kind = telegraph.EventText
			ev.Text = m.Content
		} else {
			return telegraph.Event{}, false
		}
	}
	return ev, true
}

// interactionEvent converts a button press into an Event and acknowledges it
// so the client does not show a failed interaction.
func (a *Adapter) interactionEvent(ctx context.Context, i *discordgo.InteractionCreate) (telegraph.Event, bool) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return telegraph.Event{}, false
	}
	chatID, err := strconv.ParseInt(i.ChannelID, 10, 64)
	if err != nil {
		return telegraph.Event{}, false
	}

	err = a.retryOnRateLimit(ctx, func() error {
		return a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
	})
	if err != nil {
		a.log.Debug().Err(err).Str("interaction", i.ID).Msg("discord: acknowledge interaction")
	}

	action, arg := telegraph.ParseButtonData(i.MessageComponentData().CustomID)
	ev := telegraph.Event{
		Platform: "discord",
		ChatID:   chatID,
		Kind:     telegraph.EventButton,
		Action:   action,
		Arg:      arg,
	}
	ev.Timestamp, _ = discordgo.SnowflakeTimestamp(i.ID)

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		ev.UserID = user.ID
		ev.UserName = user.Username
	}
	return ev, true
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: content(msg.Text, msg.Mode)}
	for _, row := range msg.Buttons {
		for start := 0; start < len(row); start += maxRowButtons {
			end := min(start+maxRowButtons, len(row))
			components := make([]discordgo.MessageComponent, 0, end-start)
			for _, b := range row[start:end] {
				components = append(components, discordgo.Button{
					Label:    b.Label,
					Style:    discordgo.PrimaryButton,
					CustomID: b.Data(),
				})
			}
			data.Components = append(data.Components, discordgo.ActionsRow{Components: components})
		}
	}
	return data
}

// content renders text for Discord. Rich text arrives MarkdownV2-escaped;
// Discord markdown needs the raw characters back.
func content(text string, mode telegraph.RenderMode) string {
	if mode == telegraph.RenderRich {
		text = stream.UnescapeMarkdown(text)
	}
	if strings.TrimSpace(text) == "" {
		return emptyText
	}
	return text
}

func snowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

func statusCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if statusCode(err) != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("discord: rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
