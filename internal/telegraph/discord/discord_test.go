package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/botyard/internal/telegraph"
)

// --- Mock Discord session ---

type mockSession struct {
	mu          sync.Mutex
	opened      bool
	closeCalled bool
	openErr     error
	userErr     error
	sendErr     error
	editErr     error
	sent        []sentMessage
	edits       []*discordgo.MessageEdit
	responded   []string
	handlers    []interface{}
	removeCount int
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func newMockSession() *mockSession {
	return &mockSession{}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	if m.userErr != nil {
		return nil, m.userErr
	}
	return &discordgo.User{ID: "1100", Username: "docs_bot", GlobalName: "Docs Bot", Bot: true}, nil
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "5000"}, nil
}

func (m *mockSession) ChannelMessageEditComplex(e *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.edits = append(m.edits, e)
	return &discordgo.Message{ID: e.ID}, nil
}

func (m *mockSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responded = append(m.responded, i.ID)
	return nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

// dispatch invokes every registered handler that accepts evt.
func (m *mockSession) dispatch(evt interface{}) {
	m.mu.Lock()
	handlers := append([]interface{}(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		switch fn := h.(type) {
		case func(*discordgo.Session, *discordgo.MessageCreate):
			if e, ok := evt.(*discordgo.MessageCreate); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.InteractionCreate):
			if e, ok := evt.(*discordgo.InteractionCreate); ok {
				fn(nil, e)
			}
		}
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()
	a, err := New(AdapterOpts{Session: sess})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, sess
}

func receive(t *testing.T, ch <-chan telegraph.Event) telegraph.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return telegraph.Event{}
}

// --- New / Connect ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q, want to mention bot token", err.Error())
	}
}

func TestConnect_Identity(t *testing.T) {
	a, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("gateway should be opened")
	}
	want := telegraph.Identity{ID: 1100, Name: "Docs Bot", Username: "docs_bot"}
	if got := a.Identity(); got != want {
		t.Errorf("Identity = %+v, want %+v", got, want)
	}
}

func TestConnect_UnauthorizedToken(t *testing.T) {
	sess := newMockSession()
	sess.userErr = &discordgo.RESTError{Response: &http.Response{StatusCode: 401, Status: "401 Unauthorized"}}
	a, _ := New(AdapterOpts{Session: sess})

	err := a.Connect(context.Background())
	if !errors.Is(err, telegraph.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if sess.opened {
		t.Error("gateway should not be opened with a rejected token")
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = errors.New("websocket: bad handshake")
	a, _ := New(AdapterOpts{Session: sess})

	err := a.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "open gateway") {
		t.Fatalf("err = %v, want open gateway error", err)
	}
	if errors.Is(err, telegraph.ErrUnauthorized) {
		t.Error("gateway failure must not be reported as unauthorized")
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting a closed adapter")
	}
}

// --- Listen ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestListen_MessageKinds(t *testing.T) {
	a, sess := newTestAdapter(t)
	events, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	author := &discordgo.User{ID: "77", Username: "alice"}
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", ChannelID: "900", Author: author, Content: "/Start@docs_bot"}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "2", ChannelID: "900", Author: author, Content: "what is botyard?"}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "3", ChannelID: "900", Author: author,
		Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn.discordapp.com/a/manual.pdf", Filename: "manual.pdf", ContentType: "application/pdf", Size: 2048}},
	}})

	ev := receive(t, events)
	if ev.Kind != telegraph.EventCommand || ev.Command != "start" {
		t.Errorf("event 1 = %+v, want start command", ev)
	}
	if ev.ChatID != 900 || ev.UserID != "77" || ev.UserName != "alice" || ev.Platform != "discord" {
		t.Errorf("event 1 origin = %+v", ev)
	}

	ev = receive(t, events)
	if ev.Kind != telegraph.EventText || ev.Text != "what is botyard?" {
		t.Errorf("event 2 = %+v, want text", ev)
	}

	ev = receive(t, events)
	if ev.Kind != telegraph.EventDocument || ev.File == nil {
		t.Fatalf("event 3 = %+v, want document", ev)
	}
	if ev.File.ID != "https://cdn.discordapp.com/a/manual.pdf" || ev.File.Name != "manual.pdf" || ev.File.Size != 2048 {
		t.Errorf("file = %+v", ev.File)
	}
}

func TestListen_FiltersBotsAndEmpty(t *testing.T) {
	a, sess := newTestAdapter(t)
	events, _ := a.Listen(context.Background())

	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "900", Author: &discordgo.User{ID: "1100", Bot: true}, Content: "echo"}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "900", Content: "no author"}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "900", Author: &discordgo.User{ID: "77"}, Content: "   "}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "not-a-snowflake", Author: &discordgo.User{ID: "77"}, Content: "hi"}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "900", Author: &discordgo.User{ID: "77"}, Content: "kept"}})

	if ev := receive(t, events); ev.Text != "kept" {
		t.Errorf("first delivered event = %+v, want the human message", ev)
	}
}

func TestListen_ButtonInteraction(t *testing.T) {
	a, sess := newTestAdapter(t)
	events, _ := a.Listen(context.Background())

	sess.dispatch(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "4000",
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "900",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "77", Username: "alice"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "select_chatbot:3"},
	}})

	ev := receive(t, events)
	if ev.Kind != telegraph.EventButton || ev.Action != "select_chatbot" || ev.Arg != "3" {
		t.Errorf("event = %+v, want select_chatbot:3 button", ev)
	}
	if ev.UserName != "alice" {
		t.Errorf("UserName = %q, want alice", ev.UserName)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.responded) != 1 || sess.responded[0] != "4000" {
		t.Errorf("responded = %v, want the interaction acknowledged", sess.responded)
	}
}

func TestListen_ClosedOnCancel(t *testing.T) {
	a, sess := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := a.Listen(ctx)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Late gateway events must not panic on the closed channel.
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "900", Author: &discordgo.User{ID: "77"}, Content: "late"}})
}

// --- Send / Edit ---

func TestSend_WithButtons(t *testing.T) {
	a, sess := newTestAdapter(t)

	row := make([]telegraph.Button, 7)
	for i := range row {
		row[i] = telegraph.Button{Label: "b", Action: "select_chatbot", Arg: "1"}
	}
	id, err := a.Send(context.Background(), telegraph.OutboundMessage{
		ChatID:  900,
		Text:    "Your chatbots:",
		Buttons: [][]telegraph.Button{row, {{Label: "Menu", Action: "menu"}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 5000 {
		t.Errorf("id = %d, want 5000", id)
	}

	got := sess.sent[0]
	if got.channelID != "900" || got.data.Content != "Your chatbots:" {
		t.Errorf("sent = %s %q", got.channelID, got.data.Content)
	}
	if len(got.data.Components) != 3 {
		t.Fatalf("action rows = %d, want 3 (7 buttons split 5+2, plus menu)", len(got.data.Components))
	}
	last := got.data.Components[2].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	if last.CustomID != "menu" || last.Label != "Menu" {
		t.Errorf("last button = %+v", last)
	}
}

func TestSend_RichIsUnescaped(t *testing.T) {
	a, sess := newTestAdapter(t)
	if _, err := a.Send(context.Background(), telegraph.OutboundMessage{ChatID: 1, Text: `Hello, world\!`, Mode: telegraph.RenderRich}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := sess.sent[0].data.Content; got != "Hello, world!" {
		t.Errorf("content = %q, want Hello, world!", got)
	}
}

func TestSend_EmptyUsesPlaceholder(t *testing.T) {
	a, sess := newTestAdapter(t)
	if _, err := a.Send(context.Background(), telegraph.OutboundMessage{ChatID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := sess.sent[0].data.Content; got != emptyText {
		t.Errorf("content = %q, want placeholder", got)
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Send(context.Background(), telegraph.OutboundMessage{ChatID: 1, Text: "x"}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestSend_FailureIsTransient(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.sendErr = errors.New("connection reset")
	_, err := a.Send(context.Background(), telegraph.OutboundMessage{ChatID: 1, Text: "x"})
	if !errors.Is(err, telegraph.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestEdit(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Edit(context.Background(), 900, 5000, "partial", telegraph.RenderPlain); err != nil {
		t.Fatalf("edit: %v", err)
	}
	e := sess.edits[0]
	if e.Channel != "900" || e.ID != "5000" || e.Content == nil || *e.Content != "partial" {
		t.Errorf("edit = %+v", e)
	}

	sess.editErr = errors.New("unknown message")
	if err := a.Edit(context.Background(), 900, 5000, "x", telegraph.RenderPlain); !errors.Is(err, telegraph.ErrTransient) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestFileURL(t *testing.T) {
	a, _ := newTestAdapter(t)
	u, err := a.FileURL(context.Background(), "https://cdn.discordapp.com/a/manual.pdf")
	if err != nil || u != "https://cdn.discordapp.com/a/manual.pdf" {
		t.Errorf("FileURL = %q, %v", u, err)
	}
	if _, err := a.FileURL(context.Background(), "12345"); err == nil {
		t.Error("expected error for a bare id")
	}
}

// --- Close ---

func TestClose_Idempotent(t *testing.T) {
	a, sess := newTestAdapter(t)
	a.Listen(context.Background())
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !sess.closeCalled {
		t.Error("session should be closed")
	}
	if sess.removeCount != 2 {
		t.Errorf("removeCount = %d, want 2", sess.removeCount)
	}
}

// --- retryOnRateLimit ---

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: 429, Status: "429 Too Many Requests"}}
}

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return errors.New("some other error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("should not retry non-rate-limit errors, calls = %d", calls)
	}
}

func TestRetryOnRateLimit_RetriesAndSucceeds(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return rateLimited()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return rateLimited()
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := a.retryOnRateLimit(ctx, func() error {
		calls++
		return rateLimited()
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before context cancel, got %d", calls)
	}
}
