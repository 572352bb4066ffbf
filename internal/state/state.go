// Package state holds the per-chat conversation state machine and the
// key-value stores that persist it.
package state

import (
	"fmt"
	"time"
)

// Step is the conversation step of one chat with one bot.
type Step string

const (
	StepBotMenu        Step = "bot_menu"
	StepAskForToken    Step = "bot_ask_for_token"
	StepBotRegistered  Step = "bot_registered"
	StepResourceMenu   Step = "resource_menu"
	StepAskForResource Step = "ask_for_resource"
)

// InputKind classifies what the user did.
type InputKind string

const (
	InputCommand  InputKind = "command"
	InputButton   InputKind = "button"
	InputText     InputKind = "text"
	InputDocument InputKind = "document"
)

// Input is the part of an inbound event the state machine cares about. Name
// is the command or button action and is empty for text and documents.
type Input struct {
	Kind InputKind
	Name string
}

// Command, button and action names understood by the machine.
const (
	CmdStart = "start"
	CmdMenu  = "menu"

	ActionNewChatbot    = "new_chatbot"
	ActionListChatbots  = "list_chatbots"
	ActionSelectChatbot = "select_chatbot"
	ActionAddResource   = "add_resource"
	ActionListResources = "list_resources"
	ActionMenu          = "menu"
	ActionCancel        = "cancel"
)

// ConversationState is the persisted state of one (bot, chat) pair. The child
// bot fields name the bot whose resources are being managed, if any. Data is
// free-form scratch space for handlers and is cleared on return to the menu.
type ConversationState struct {
	BotUsername      string            `json:"bot_username"`
	ChatID           int64             `json:"chat_id"`
	Step             Step              `json:"step"`
	ChildBotID       uint              `json:"child_bot_id,omitempty"`
	ChildBotUsername string            `json:"child_bot_username,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// clone returns a copy of s that shares no map with it.
func (s *ConversationState) clone() ConversationState {
	c := *s
	if s.Data != nil {
		c.Data = make(map[string]string, len(s.Data))
		for k, v := range s.Data {
			c.Data[k] = v
		}
	}
	return c
}

// Key returns the storage key of the state.
func (s *ConversationState) Key() string {
	return Key(s.BotUsername, s.ChatID)
}

// Key builds the storage key for a (bot, chat) pair.
func Key(botUsername string, chatID int64) string {
	return fmt.Sprintf("chat_state_%s_%d", botUsername, chatID)
}

// transitions maps (from, input) to the next step. Inputs with an empty
// Name match any name of their kind.
var transitions = map[Step]map[Input]Step{
	StepBotMenu: {
		{InputButton, ActionNewChatbot}:    StepAskForToken,
		{InputButton, ActionListChatbots}:  StepBotMenu,
		{InputButton, ActionSelectChatbot}: StepResourceMenu,
		{InputText, ""}:                    StepBotMenu,
	},
	StepAskForToken: {
		{InputText, ""}:             StepBotRegistered,
		{InputButton, ActionCancel}: StepBotMenu,
	},
	StepBotRegistered: {
		{InputButton, ActionAddResource}: StepAskForResource,
		{InputButton, ActionMenu}:        StepBotMenu,
	},
	StepResourceMenu: {
		{InputButton, ActionAddResource}:   StepAskForResource,
		{InputButton, ActionListResources}: StepResourceMenu,
		{InputButton, ActionMenu}:          StepBotMenu,
	},
	StepAskForResource: {
		{InputDocument, ""}:         StepResourceMenu,
		{InputButton, ActionCancel}: StepResourceMenu,
	},
}

// Next returns the step reached from step on in. ok is false when the pair
// has no transition; such inputs must leave the state untouched.
func Next(step Step, in Input) (next Step, ok bool) {
	if in.Kind == InputCommand && (in.Name == CmdStart || in.Name == CmdMenu) {
		return StepBotMenu, true
	}
	row, known := transitions[step]
	if !known {
		return step, false
	}
	if in.Kind == InputText || in.Kind == InputDocument {
		in.Name = ""
	}
	next, ok = row[in]
	if !ok {
		return step, false
	}
	return next, true
}
