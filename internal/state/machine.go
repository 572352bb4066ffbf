package state

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrNoTransition is returned by Apply when the input has no transition from
// the current step.
var ErrNoTransition = errors.New("state: no transition")

// Machine loads and advances conversation state through a Store. Every
// transition is persisted before the caller's copy changes.
type Machine struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewMachine creates a Machine backed by store.
func NewMachine(store Store, log zerolog.Logger) *Machine {
	return &Machine{store: store, log: log, now: time.Now}
}

// Load returns the state for (botUsername, chatID), creating and persisting a
// fresh bot_menu state on first contact.
func (m *Machine) Load(ctx context.Context, botUsername string, chatID int64) (*ConversationState, error) {
	st, err := m.store.Get(ctx, botUsername, chatID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, persistErr(err, "load")
	}

	st = &ConversationState{
		BotUsername: botUsername,
		ChatID:      chatID,
		Step:        StepBotMenu,
		UpdatedAt:   m.now().UTC(),
	}
	if err := m.store.Put(ctx, st); err != nil {
		return nil, persistErr(err, "create")
	}
	m.log.Debug().Str("bot", botUsername).Int64("chat", chatID).Msg("state: created")
	return st, nil
}

// Apply advances st on in. mutate, when non-nil, may adjust the copy that is
// about to be persisted (for example to record a selected bot). If the store
// rejects the write, st is left unchanged and the error wraps ErrPersistence.
func (m *Machine) Apply(ctx context.Context, st *ConversationState, in Input, mutate func(*ConversationState)) error {
	next, ok := Next(st.Step, in)
	if !ok {
		return ErrNoTransition
	}
	return m.commit(ctx, st, next, mutate)
}

// commit persists a copy of st moved to next and then copies it into st.
func (m *Machine) commit(ctx context.Context, st *ConversationState, next Step, mutate func(*ConversationState)) error {
	updated := st.clone()
	updated.Step = next
	if mutate != nil {
		mutate(&updated)
	}
	updated.UpdatedAt = m.now().UTC()

	if err := m.store.Put(ctx, &updated); err != nil {
		return persistErr(err, "put")
	}
	m.log.Debug().
		Str("bot", st.BotUsername).
		Int64("chat", st.ChatID).
		Str("from", string(st.Step)).
		Str("to", string(next)).
		Msg("state: transition")
	*st = updated
	return nil
}

// ResetToMenu moves st to bot_menu and forgets any selected child bot and
// scratch data.
func (m *Machine) ResetToMenu(ctx context.Context, st *ConversationState) error {
	return m.Apply(ctx, st, Input{Kind: InputCommand, Name: CmdMenu}, clearChild)
}

// AskForToken moves st from bot_menu to bot_ask_for_token.
func (m *Machine) AskForToken(ctx context.Context, st *ConversationState) error {
	return m.Apply(ctx, st, Input{Kind: InputButton, Name: ActionNewChatbot}, nil)
}

// Registered records the freshly registered child bot and moves st from
// bot_ask_for_token to bot_registered.
func (m *Machine) Registered(ctx context.Context, st *ConversationState, childID uint, childUsername string) error {
	if st.Step != StepAskForToken {
		return ErrNoTransition
	}
	return m.Apply(ctx, st, Input{Kind: InputText}, selectChild(childID, childUsername))
}

// SelectBot records the chosen child bot and moves st to resource_menu.
func (m *Machine) SelectBot(ctx context.Context, st *ConversationState, childID uint, childUsername string) error {
	return m.Apply(ctx, st, Input{Kind: InputButton, Name: ActionSelectChatbot}, selectChild(childID, childUsername))
}

// AskForResource moves st to ask_for_resource.
func (m *Machine) AskForResource(ctx context.Context, st *ConversationState) error {
	return m.Apply(ctx, st, Input{Kind: InputButton, Name: ActionAddResource}, nil)
}

// ResourceAdded moves st from ask_for_resource back to resource_menu.
func (m *Machine) ResourceAdded(ctx context.Context, st *ConversationState) error {
	return m.Apply(ctx, st, Input{Kind: InputDocument}, nil)
}

func clearChild(st *ConversationState) {
	st.ChildBotID = 0
	st.ChildBotUsername = ""
	st.Data = nil
}

func selectChild(id uint, username string) func(*ConversationState) {
	return func(st *ConversationState) {
		st.ChildBotID = id
		st.ChildBotUsername = username
	}
}
