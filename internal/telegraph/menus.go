package telegraph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/botyard/internal/models"
	"github.com/zulandar/botyard/internal/state"
)

var (
	btnNewChatbot    = Button{Label: "New chatbot", Action: state.ActionNewChatbot}
	btnListChatbots  = Button{Label: "My chatbots", Action: state.ActionListChatbots}
	btnAddResource   = Button{Label: "Add resource", Action: state.ActionAddResource}
	btnListResources = Button{Label: "List resources", Action: state.ActionListResources}
	btnMenu          = Button{Label: "Menu", Action: state.ActionMenu}
	btnCancel        = Button{Label: "Cancel", Action: state.ActionCancel}
)

func mainMenu(chatID int64) OutboundMessage {
	return OutboundMessage{
		ChatID:  chatID,
		Text:    "What would you like to do?",
		Buttons: [][]Button{{btnNewChatbot}, {btnListChatbots}},
	}
}

func askTokenPrompt(chatID int64) OutboundMessage {
	return OutboundMessage{
		ChatID:  chatID,
		Text:    "Send me the API token of the bot you want to connect.",
		Buttons: [][]Button{{btnCancel}},
	}
}

func registeredMessage(chatID int64, bot *models.Bot) OutboundMessage {
	return OutboundMessage{
		ChatID:  chatID,
		Text:    fmt.Sprintf("@%s is up and running. Add documents so it can answer questions about them.", bot.Username),
		Buttons: [][]Button{{btnAddResource}, {btnMenu}},
	}
}

func botList(chatID int64, bots []models.Bot) OutboundMessage {
	if len(bots) == 0 {
		return OutboundMessage{
			ChatID:  chatID,
			Text:    "No chatbots yet.",
			Buttons: [][]Button{{btnNewChatbot}},
		}
	}
	rows := make([][]Button, 0, len(bots)+1)
	for _, b := range bots {
		rows = append(rows, []Button{{
			Label:  "@" + b.Username,
			Action: state.ActionSelectChatbot,
			Arg:    strconv.FormatUint(uint64(b.ID), 10),
		}})
	}
	rows = append(rows, []Button{btnNewChatbot})
	return OutboundMessage{ChatID: chatID, Text: "Your chatbots:", Buttons: rows}
}

func resourceMenu(chatID int64, username, note string) OutboundMessage {
	text := fmt.Sprintf("Managing @%s.", username)
	if note != "" {
		text = note + "\n" + text
	}
	return OutboundMessage{
		ChatID:  chatID,
		Text:    text,
		Buttons: [][]Button{{btnAddResource}, {btnListResources}, {btnMenu}},
	}
}

func resourceList(chatID int64, username string, resources []models.Resource) OutboundMessage {
	var b strings.Builder
	if len(resources) == 0 {
		fmt.Fprintf(&b, "@%s has no resources yet.", username)
	} else {
		fmt.Fprintf(&b, "Resources of @%s:", username)
		for _, r := range resources {
			b.WriteString("\n- " + r.Name)
		}
	}
	msg := resourceMenu(chatID, username, "")
	msg.Text = b.String()
	return msg
}

func askResourcePrompt(chatID int64, username string) OutboundMessage {
	return OutboundMessage{
		ChatID:  chatID,
		Text:    fmt.Sprintf("Send a document (PDF, HTML or plain text) for @%s.", username),
		Buttons: [][]Button{{btnCancel}},
	}
}

func greeting(chatID int64, bot *models.Bot) OutboundMessage {
	name := bot.Name
	if name == "" {
		name = "@" + bot.Username
	}
	return OutboundMessage{
		ChatID: chatID,
		Text:   fmt.Sprintf("Hi, I'm %s. Ask me anything about my documents.", name),
	}
}

func textMessage(chatID int64, text string, buttons ...[]Button) OutboundMessage {
	return OutboundMessage{ChatID: chatID, Text: text, Buttons: buttons}
}
