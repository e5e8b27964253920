package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/embedchat/pkg/attachments"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/go-go-golems/embedchat/pkg/ui"
	"github.com/pkg/errors"
)

// UIHandlerName is the router handler that feeds the terminal program.
const UIHandlerName = "ui-forward"

// HandlerContext provides runtime objects for building a Watermill handler.
type HandlerContext struct {
	Session *ChatSession
	Program *tea.Program
	Router  *events.Router
}

// HandlerFactory produces a Watermill handler bound to the provided context.
type HandlerFactory func(HandlerContext) func(*message.Message) error

// ChatBuilder wires a widget, its event router and a Bubble Tea program.
type ChatBuilder struct {
	ctx            context.Context
	widget         *conversation.Widget
	router         *events.Router
	tray           *attachments.Tray
	title          string
	description    string
	programOptions []tea.ProgramOption
	handlerFactory HandlerFactory
}

func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{ctx: context.Background()}
}

func (b *ChatBuilder) WithContext(ctx context.Context) *ChatBuilder {
	if ctx != nil {
		b.ctx = ctx
	}
	return b
}

func (b *ChatBuilder) WithWidget(w *conversation.Widget) *ChatBuilder {
	b.widget = w
	return b
}

func (b *ChatBuilder) WithRouter(r *events.Router) *ChatBuilder {
	b.router = r
	return b
}

func (b *ChatBuilder) WithTray(t *attachments.Tray) *ChatBuilder {
	b.tray = t
	return b
}

func (b *ChatBuilder) WithTitle(title, description string) *ChatBuilder {
	b.title = title
	b.description = description
	return b
}

func (b *ChatBuilder) WithProgramOptions(opts ...tea.ProgramOption) *ChatBuilder {
	b.programOptions = append(b.programOptions, opts...)
	return b
}

// WithHandlerFactory replaces the default StepForwardFunc handler.
func (b *ChatBuilder) WithHandlerFactory(f HandlerFactory) *ChatBuilder {
	b.handlerFactory = f
	return b
}

// ChatSession holds the runtime components of one terminal widget.
type ChatSession struct {
	Router  *events.Router
	Widget  *conversation.Widget
	Program *tea.Program

	handler func(*message.Message) error
}

// EventHandler returns the bound Watermill->UI handler.
func (cs *ChatSession) EventHandler() func(*message.Message) error {
	return cs.handler
}

// BuildProgram creates the model and program and registers the UI handler on
// the router. The router must not be running yet.
func (b *ChatBuilder) BuildProgram() (*ChatSession, *tea.Program, error) {
	if b.widget == nil {
		return nil, nil, errors.New("widget is required; use WithWidget")
	}
	if b.router == nil {
		return nil, nil, errors.New("router is required; use WithRouter")
	}

	modelOpts := []ui.ModelOption{
		ui.WithContext(b.ctx),
		ui.WithTitle(b.title, b.description),
	}
	if b.tray != nil {
		modelOpts = append(modelOpts, ui.WithTray(b.tray))
	}
	model := ui.NewModel(b.widget, modelOpts...)
	program := tea.NewProgram(model, b.programOptions...)

	sess := &ChatSession{
		Router:  b.router,
		Widget:  b.widget,
		Program: program,
	}
	if b.handlerFactory != nil {
		sess.handler = b.handlerFactory(HandlerContext{Session: sess, Program: program, Router: b.router})
	} else {
		sess.handler = ui.StepForwardFunc(program)
	}
	handler := events.ForConversation(b.widget.Conversation().ID(), sess.handler)
	if err := b.router.AddHandler(b.ctx, UIHandlerName, events.Topic, handler); err != nil {
		return nil, nil, errors.Wrap(err, "register ui handler")
	}
	return sess, program, nil
}
