package telegraph

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/models"
	"github.com/zulandar/botyard/internal/rag"
	"github.com/zulandar/botyard/internal/state"
	"github.com/zulandar/botyard/internal/stream"
)

// BotRegistry is the part of the bot lifecycle manager the router needs.
type BotRegistry interface {
	RegisterAndStart(ctx context.Context, token string) (*models.Bot, error)
	Bots(ctx context.Context) ([]models.Bot, error)
	Bot(ctx context.Context, id uint) (*models.Bot, error)
}

// ResourceStore records ingested documents.
type ResourceStore interface {
	RegisterFrom(ctx context.Context, botID uint, name, source string, chunkIDs []string) (*models.Resource, error)
	List(ctx context.Context, botID uint) ([]models.Resource, error)
}

// Pipeline ingests documents and answers questions over them.
type Pipeline interface {
	Ingest(ctx context.Context, url, namespace string) ([]string, error)
	Answer(ctx context.Context, question, namespace string, onFragment func(string), onEnd func()) error
}

// Router drives the conversation of every chat with every bot. The primary
// bot runs the operator menu; registered bots only answer questions.
type Router struct {
	machine    *state.Machine
	bots       BotRegistry
	resources  ResourceStore
	pipeline   Pipeline
	streamOpts []stream.Option
	log        zerolog.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Machine       *state.Machine
	Bots          BotRegistry
	Resources     ResourceStore
	Pipeline      Pipeline
	StreamOptions []stream.Option
	Logger        zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Machine == nil {
		return nil, errors.New("telegraph: router: state machine is required")
	}
	if opts.Bots == nil {
		return nil, errors.New("telegraph: router: bot registry is required")
	}
	if opts.Resources == nil {
		return nil, errors.New("telegraph: router: resource store is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("telegraph: router: pipeline is required")
	}
	return &Router{
		machine:    opts.Machine,
		bots:       opts.Bots,
		resources:  opts.Resources,
		pipeline:   opts.Pipeline,
		streamOpts: append(opts.StreamOptions, stream.WithLogger(opts.Logger)),
		log:        opts.Logger,
	}, nil
}

// Handle processes one event received by the bot in bc. Events with no
// transition from the chat's current step are ignored. The returned error is
// for logging; the caller's loop keeps running.
func (r *Router) Handle(ctx context.Context, bc BotContext, ev Event) error {
	in, ok := ev.Input()
	if !ok {
		return errors.Wrapf(ErrMalformedEvent, "kind %q", ev.Kind)
	}

	st, err := r.machine.Load(ctx, bc.Bot.Username, ev.ChatID)
	if err != nil {
		return err
	}
	if _, ok := state.Next(st.Step, in); !ok {
		r.log.Debug().
			Str("bot", bc.Bot.Username).
			Int64("chat", ev.ChatID).
			Str("step", string(st.Step)).
			Str("kind", string(in.Kind)).
			Str("name", in.Name).
			Msg("router: ignored")
		return nil
	}

	if !bc.Primary {
		return r.handleChild(ctx, bc, st, ev)
	}

	switch in.Kind {
	case state.InputCommand:
		return r.toMenu(ctx, bc, st)
	case state.InputText:
		if st.Step == state.StepAskForToken {
			return r.register(ctx, bc, st, ev)
		}
		return r.question(ctx, bc, st, ev)
	case state.InputDocument:
		return r.addResource(ctx, bc, st, ev)
	}

	switch in.Name {
	case state.ActionNewChatbot:
		if err := r.machine.AskForToken(ctx, st); err != nil {
			return err
		}
		return r.send(ctx, bc, askTokenPrompt(ev.ChatID))

	case state.ActionListChatbots:
		bots, err := r.bots.Bots(ctx)
		if err != nil {
			return err
		}
		if err := r.machine.Apply(ctx, st, in, nil); err != nil {
			return err
		}
		return r.send(ctx, bc, botList(ev.ChatID, bots))

	case state.ActionSelectChatbot:
		return r.selectBot(ctx, bc, st, ev)

	case state.ActionAddResource:
		if err := r.machine.AskForResource(ctx, st); err != nil {
			return err
		}
		return r.send(ctx, bc, askResourcePrompt(ev.ChatID, st.ChildBotUsername))

	case state.ActionListResources:
		list, err := r.resources.List(ctx, st.ChildBotID)
		if err != nil {
			return err
		}
		if err := r.machine.Apply(ctx, st, in, nil); err != nil {
			return err
		}
		return r.send(ctx, bc, resourceList(ev.ChatID, st.ChildBotUsername, list))

	case state.ActionMenu:
		return r.toMenu(ctx, bc, st)

	case state.ActionCancel:
		if st.Step == state.StepAskForToken {
			return r.toMenu(ctx, bc, st)
		}
		if err := r.machine.Apply(ctx, st, in, nil); err != nil {
			return err
		}
		return r.send(ctx, bc, resourceMenu(ev.ChatID, st.ChildBotUsername, ""))
	}
	return nil
}

// handleChild serves a registered bot: /start greets, text is a question.
func (r *Router) handleChild(ctx context.Context, bc BotContext, st *state.ConversationState, ev Event) error {
	switch ev.Kind {
	case EventCommand:
		if err := r.machine.ResetToMenu(ctx, st); err != nil {
			return err
		}
		return r.send(ctx, bc, greeting(ev.ChatID, bc.Bot))
	case EventText:
		return r.question(ctx, bc, st, ev)
	}
	return nil
}

func (r *Router) toMenu(ctx context.Context, bc BotContext, st *state.ConversationState) error {
	if err := r.machine.ResetToMenu(ctx, st); err != nil {
		return err
	}
	return r.send(ctx, bc, mainMenu(st.ChatID))
}

func (r *Router) selectBot(ctx context.Context, bc BotContext, st *state.ConversationState, ev Event) error {
	id, err := strconv.ParseUint(ev.Arg, 10, 64)
	if err != nil {
		return errors.Wrapf(ErrMalformedEvent, "select_chatbot argument %q", ev.Arg)
	}
	bot, err := r.bots.Bot(ctx, uint(id))
	if err != nil {
		r.log.Warn().Err(err).Uint64("bot_id", id).Msg("router: select unknown bot")
		return r.send(ctx, bc, textMessage(ev.ChatID, "That chatbot no longer exists.", []Button{btnListChatbots}))
	}
	if err := r.machine.SelectBot(ctx, st, bot.ID, bot.Username); err != nil {
		return err
	}
	return r.send(ctx, bc, resourceMenu(ev.ChatID, bot.Username, ""))
}

// register validates the token in ev by starting the bot. Failures keep the
// chat in bot_ask_for_token so the operator can try again.
func (r *Router) register(ctx context.Context, bc BotContext, st *state.ConversationState, ev Event) error {
	token := strings.TrimSpace(ev.Text)
	bot, err := r.bots.RegisterAndStart(ctx, token)
	switch {
	case errors.Is(err, ErrInvalidCredential):
		return r.send(ctx, bc, textMessage(ev.ChatID, "That token was rejected by the platform. Check it and send it again.", []Button{btnCancel}))
	case errors.Is(err, ErrDuplicateUsername):
		return r.send(ctx, bc, textMessage(ev.ChatID, "That bot is already registered. Send a different token.", []Button{btnCancel}))
	case err != nil:
		_ = r.send(ctx, bc, textMessage(ev.ChatID, "Registration failed, please try again later.", []Button{btnCancel}))
		return err
	}

	if err := r.machine.Registered(ctx, st, bot.ID, bot.Username); err != nil {
		return err
	}
	return r.send(ctx, bc, registeredMessage(ev.ChatID, bot))
}

// question streams an answer drawn from the receiving bot's collection.
func (r *Router) question(ctx context.Context, bc BotContext, st *state.ConversationState, ev Event) error {
	q := strings.TrimSpace(ev.Text)
	if q == "" {
		return nil
	}
	if err := r.machine.Apply(ctx, st, state.Input{Kind: state.InputText}, nil); err != nil {
		return err
	}

	agg := stream.Start(ctx, ev.ChatID, StreamSink{Adapter: bc.Adapter}, r.streamOpts...)
	answerErr := r.pipeline.Answer(ctx, q, rag.Namespace(bc.Bot.Username), agg.Push, agg.PushEnd)
	flushErr := agg.Wait()

	if answerErr != nil {
		_ = r.send(ctx, bc, textMessage(ev.ChatID, "Sorry, I could not answer that right now."))
		return answerErr
	}
	return flushErr
}

// addResource ingests the uploaded document into the selected bot's
// collection and records it.
func (r *Router) addResource(ctx context.Context, bc BotContext, st *state.ConversationState, ev Event) error {
	if st.ChildBotID == 0 {
		return r.toMenu(ctx, bc, st)
	}
	name := strings.TrimSpace(ev.File.Name)
	if name == "" {
		name = "document"
	}

	url, err := bc.Adapter.FileURL(ctx, ev.File.ID)
	if err != nil {
		_ = r.send(ctx, bc, textMessage(ev.ChatID, "Could not download that file. Try again.", []Button{btnCancel}))
		return err
	}
	_ = r.send(ctx, bc, textMessage(ev.ChatID, "Processing "+name+"..."))

	ids, err := r.pipeline.Ingest(ctx, url, rag.Namespace(st.ChildBotUsername))
	if err != nil {
		msg := "Could not process " + name + "."
		if errors.Is(err, rag.ErrEmptyDocument) {
			msg = name + " contains no readable text."
		}
		_ = r.send(ctx, bc, textMessage(ev.ChatID, msg+" Send another document or cancel.", []Button{btnCancel}))
		return err
	}

	if _, err := r.resources.RegisterFrom(ctx, st.ChildBotID, name, ev.File.ID, ids); err != nil {
		_ = r.send(ctx, bc, textMessage(ev.ChatID, "Could not save "+name+". Try again.", []Button{btnCancel}))
		return err
	}
	if err := r.machine.ResourceAdded(ctx, st); err != nil {
		return err
	}
	note := "Added " + name + " (" + strconv.Itoa(len(ids)) + " chunks)."
	return r.send(ctx, bc, resourceMenu(ev.ChatID, st.ChildBotUsername, note))
}

func (r *Router) send(ctx context.Context, bc BotContext, msg OutboundMessage) error {
	if _, err := bc.Adapter.Send(ctx, msg); err != nil {
		return errors.Wrap(err, "telegraph: reply")
	}
	return nil
}
