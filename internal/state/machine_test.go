package state

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore wraps a Store and fails Put once armed.
type failingStore struct {
	Store
	failPut bool
}

func (f *failingStore) Put(ctx context.Context, st *ConversationState) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, st)
}

func newTestMachine(t *testing.T) (*Machine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewMachine(store, zerolog.Nop()), store
}

func TestMachine_LoadCreatesAndPersistsMenuState(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)

	st, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)
	assert.Equal(t, StepBotMenu, st.Step)
	assert.Equal(t, "alice_bot", st.BotUsername)
	assert.Equal(t, int64(42), st.ChatID)
	assert.Equal(t, 1, store.Len())

	again, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)
	assert.Equal(t, st.Step, again.Step)
	assert.Equal(t, 1, store.Len())
}

func TestMachine_StatesAreScopedPerBotAndChat(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)

	a, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)
	require.NoError(t, m.AskForToken(ctx, a))

	b, err := m.Load(ctx, "bob_bot", 42)
	require.NoError(t, err)
	assert.Equal(t, StepBotMenu, b.Step)

	c, err := m.Load(ctx, "alice_bot", 43)
	require.NoError(t, err)
	assert.Equal(t, StepBotMenu, c.Step)
	assert.Equal(t, 3, store.Len())
}

func TestMachine_NewChatbotPersistsBeforeReturning(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)

	st, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)

	require.NoError(t, m.Apply(ctx, st, Input{Kind: InputButton, Name: ActionNewChatbot}, nil))
	assert.Equal(t, StepAskForToken, st.Step)

	persisted, err := store.Get(ctx, "alice_bot", 42)
	require.NoError(t, err)
	assert.Equal(t, StepAskForToken, persisted.Step)
}

func TestMachine_PersistedEqualsReturned(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)

	st, err := m.Load(ctx, "alice_bot", 7)
	require.NoError(t, err)
	require.NoError(t, m.SelectBot(ctx, st, 3, "child_bot"))

	persisted, err := store.Get(ctx, "alice_bot", 7)
	require.NoError(t, err)
	assert.Equal(t, st.Step, persisted.Step)
	assert.Equal(t, st.ChildBotID, persisted.ChildBotID)
	assert.Equal(t, st.ChildBotUsername, persisted.ChildBotUsername)
	assert.True(t, st.UpdatedAt.Equal(persisted.UpdatedAt))
}

func TestMachine_UnmatchedInputLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMachine(t)

	st, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)
	before := *st

	err = m.Apply(ctx, st, Input{Kind: InputDocument}, nil)
	assert.ErrorIs(t, err, ErrNoTransition)
	assert.Equal(t, before, *st)

	persisted, err := store.Get(ctx, "alice_bot", 42)
	require.NoError(t, err)
	assert.Equal(t, StepBotMenu, persisted.Step)
}

func TestMachine_PersistFailureKeepsOldState(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: NewMemoryStore()}
	m := NewMachine(store, zerolog.Nop())

	st, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)

	store.failPut = true
	err = m.AskForToken(ctx, st)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StepBotMenu, st.Step)
}

func TestMachine_ScratchDataPersistsAndIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: NewMemoryStore()}
	m := NewMachine(store, zerolog.Nop())

	st, err := m.Load(ctx, "alice_bot", 42)
	require.NoError(t, err)
	require.NoError(t, m.Apply(ctx, st, Input{Kind: InputButton, Name: ActionNewChatbot}, func(next *ConversationState) {
		next.Data = map[string]string{"prompt_message": "17"}
	}))
	assert.Equal(t, "17", st.Data["prompt_message"])

	got, err := store.Get(ctx, "alice_bot", 42)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"prompt_message": "17"}, got.Data)

	store.failPut = true
	err = m.Apply(ctx, st, Input{Kind: InputButton, Name: ActionCancel}, func(next *ConversationState) {
		next.Data["prompt_message"] = "99"
	})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "17", st.Data["prompt_message"], "a failed write must not leak into the caller's copy")
	assert.Equal(t, StepAskForToken, st.Step)

	store.failPut = false
	require.NoError(t, m.ResetToMenu(ctx, st))
	assert.Nil(t, st.Data)
}

func TestMachine_LoadCreateFailure(t *testing.T) {
	store := &failingStore{Store: NewMemoryStore(), failPut: true}
	m := NewMachine(store, zerolog.Nop())

	_, err := m.Load(context.Background(), "alice_bot", 42)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestMachine_RegistrationFlow(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t)

	st, err := m.Load(ctx, "primary_bot", 42)
	require.NoError(t, err)
	require.NoError(t, m.AskForToken(ctx, st))
	require.NoError(t, m.Registered(ctx, st, 9, "alice_bot"))
	assert.Equal(t, StepBotRegistered, st.Step)
	assert.Equal(t, uint(9), st.ChildBotID)
	assert.Equal(t, "alice_bot", st.ChildBotUsername)

	require.NoError(t, m.AskForResource(ctx, st))
	assert.Equal(t, StepAskForResource, st.Step)
	require.NoError(t, m.ResourceAdded(ctx, st))
	assert.Equal(t, StepResourceMenu, st.Step)
	assert.Equal(t, "alice_bot", st.ChildBotUsername, "child bot survives resource upload")

	require.NoError(t, m.ResetToMenu(ctx, st))
	assert.Equal(t, StepBotMenu, st.Step)
	assert.Zero(t, st.ChildBotID)
	assert.Empty(t, st.ChildBotUsername)
}

func TestMachine_RegisteredOnlyFromTokenStep(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t)

	st, err := m.Load(ctx, "primary_bot", 42)
	require.NoError(t, err)
	err = m.Registered(ctx, st, 9, "alice_bot")
	assert.ErrorIs(t, err, ErrNoTransition)
	assert.Equal(t, StepBotMenu, st.Step)
	assert.Zero(t, st.ChildBotID)

	require.NoError(t, m.AskForToken(ctx, st))
	err = m.AskForToken(ctx, st)
	assert.ErrorIs(t, err, ErrNoTransition)
}
