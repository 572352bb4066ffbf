// Package telegram implements the telegraph Adapter for Telegram using long
// polling.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/telegraph"
	"golang.org/x/time/rate"
)

const (
	// pollTimeout is the long-poll timeout in seconds.
	pollTimeout = 60
	// sendRate and sendBurst stay under Telegram's per-bot limit.
	sendRate  = 25
	sendBurst = 5
	// emptyText replaces empty message bodies, which Telegram rejects.
	emptyText = "…"
)

// botAPI abstracts the tgbotapi.BotAPI methods we use, enabling test fakes.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// dialFunc authenticates token and returns the API handle and bot account.
type dialFunc func(token string) (botAPI, tgbotapi.User, error)

func dialBotAPI(token string) (botAPI, tgbotapi.User, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, tgbotapi.User{}, err
	}
	return bot, bot.Self, nil
}

// Adapter implements telegraph.Adapter for one Telegram bot.
type Adapter struct {
	token   string
	dial    dialFunc
	limiter *rate.Limiter
	log     zerolog.Logger

	mu        sync.Mutex
	api       botAPI
	self      tgbotapi.User
	connected bool
	closed    bool
	cancel    context.CancelFunc
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token  string
	Logger zerolog.Logger
	// For testing: replace the real Bot API handshake.
	dial dialFunc
}

// New creates a Telegram Adapter. No network call is made until Connect.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Token == "" && opts.dial == nil {
		return nil, errors.New("telegram: bot token is required")
	}
	dial := opts.dial
	if dial == nil {
		dial = dialBotAPI
	}
	return &Adapter{
		token:   opts.Token,
		dial:    dial,
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendBurst),
		log:     opts.Logger,
	}, nil
}

// Connect calls getMe with the token. A rejected token wraps
// telegraph.ErrUnauthorized.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	api, self, err := a.dial(a.token)
	if err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) && (tgErr.Code == 401 || tgErr.Code == 404) {
			return errors.Wrap(telegraph.ErrUnauthorized, "telegram: "+tgErr.Message)
		}
		return errors.Wrap(err, "telegram: connect")
	}
	a.api = api
	a.self = self
	a.connected = true
	a.log.Info().Str("bot", self.UserName).Int64("id", self.ID).Msg("telegram: connected")
	return nil
}

func (a *Adapter) Identity() telegraph.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := strings.TrimSpace(a.self.FirstName + " " + a.self.LastName)
	return telegraph.Identity{ID: a.self.ID, Name: name, Username: a.self.UserName}
}

func (a *Adapter) client() (botAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, errors.New("telegram: not connected")
	}
	return a.api, nil
}

// Listen starts long polling. Unusable updates are dropped; button presses
// are acknowledged so the client stops its spinner.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.Event, error) {
	api, err := a.client()
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := api.GetUpdatesChan(u)

	out := make(chan telegraph.Event, 100)
	go func() {
		defer close(out)
		defer api.StopReceivingUpdates()
		for {
			select {
			case <-listenCtx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				ev, err := toEvent(upd)
				if err != nil {
					a.log.Debug().Err(err).Int("update", upd.UpdateID).Msg("telegram: dropped update")
					continue
				}
				if upd.CallbackQuery != nil {
					a.answerCallback(listenCtx, api, upd.CallbackQuery.ID)
				}
				select {
				case out <- ev:
				case <-listenCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *Adapter) answerCallback(ctx context.Context, api botAPI, id string) {
	if err := a.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		a.log.Debug().Err(err).Msg("telegram: answer callback")
	}
}

// Send posts msg and returns the Telegram message id.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) (int64, error) {
	api, err := a.client()
	if err != nil {
		return 0, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	sent, err := api.Send(buildMessage(msg))
	if err != nil {
		return 0, telegraph.Transient(errors.Wrap(err, "telegram: send"))
	}
	return int64(sent.MessageID), nil
}

// Edit replaces the text of messageID. Editing to identical text is not an
// error.
func (a *Adapter) Edit(ctx context.Context, chatID, messageID int64, text string, mode telegraph.RenderMode) error {
	api, err := a.client()
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	cfg := tgbotapi.NewEditMessageText(chatID, int(messageID), bodyText(text))
	cfg.ParseMode = parseMode(mode)
	if _, err := api.Request(cfg); err != nil {
		if isNotModified(err) {
			return nil
		}
		return telegraph.Transient(errors.Wrap(err, "telegram: edit"))
	}
	return nil
}

func (a *Adapter) FileURL(ctx context.Context, fileID string) (string, error) {
	api, err := a.client()
	if err != nil {
		return "", err
	}
	u, err := api.GetFileDirectURL(fileID)
	if err != nil {
		return "", errors.Wrap(err, "telegram: file url")
	}
	return u, nil
}

// Close stops polling. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// toEvent converts an update into a telegraph.Event.
func toEvent(upd tgbotapi.Update) (telegraph.Event, error) {
	if cq := upd.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return telegraph.Event{}, errors.Wrap(telegraph.ErrMalformedEvent, "callback without message")
		}
		action, arg := telegraph.ParseButtonData(cq.Data)
		ev := telegraph.Event{
			Platform:  "telegram",
			ChatID:    cq.Message.Chat.ID,
			Kind:      telegraph.EventButton,
			Action:    action,
			Arg:       arg,
			Timestamp: cq.Message.Time(),
		}
		setUser(&ev, cq.From)
		return ev, nil
	}

	m := upd.Message
	if m == nil || m.Chat == nil {
		return telegraph.Event{}, errors.Wrap(telegraph.ErrMalformedEvent, "unsupported update")
	}
	ev := telegraph.Event{
		Platform:  "telegram",
		ChatID:    m.Chat.ID,
		Timestamp: m.Time(),
	}
	setUser(&ev, m.From)

	switch {
	case m.Document != nil:
		ev.Kind = telegraph.EventDocument
		ev.Text = m.Caption
		ev.File = &telegraph.File{
			ID:       m.Document.FileID,
			Name:     m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		}
	case m.IsCommand():
		ev.Kind = telegraph.EventCommand
		ev.Command = strings.ToLower(m.Command())
		ev.Text = m.CommandArguments()
	case m.Text != "":
		ev.Kind = telegraph.EventText
		ev.Text = m.Text
	default:
		return telegraph.Event{}, errors.Wrap(telegraph.ErrMalformedEvent, "message without text or document")
	}
	return ev, nil
}

func setUser(ev *telegraph.Event, u *tgbotapi.User) {
	if u == nil {
		return
	}
	ev.UserID = strconv.FormatInt(u.ID, 10)
	ev.UserName = u.UserName
	if ev.UserName == "" {
		ev.UserName = u.FirstName
	}
}

// buildMessage translates an OutboundMessage into a sendMessage request.
func buildMessage(msg telegraph.OutboundMessage) tgbotapi.MessageConfig {
	cfg := tgbotapi.NewMessage(msg.ChatID, bodyText(msg.Text))
	cfg.ParseMode = parseMode(msg.Mode)
	if len(msg.Buttons) > 0 {
		cfg.ReplyMarkup = keyboard(msg.Buttons)
	}
	return cfg
}

func keyboard(rows [][]telegraph.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data()))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func parseMode(mode telegraph.RenderMode) string {
	if mode == telegraph.RenderRich {
		return tgbotapi.ModeMarkdownV2
	}
	return ""
}

func bodyText(text string) string {
	if strings.TrimSpace(text) == "" {
		return emptyText
	}
	return text
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
