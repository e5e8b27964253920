package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/embedchat/pkg/attachments"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/rs/zerolog/log"
)

// WidgetEventMsg carries a widget event into the bubbletea loop.
type WidgetEventMsg struct {
	Event conversation.Event
}

type actionDoneMsg struct {
	err error
}

type noticeMsg string

// Model is the terminal rendition of the chat widget. It never mutates the
// conversation itself: actions run as commands against the widget and the
// resulting events trigger a redraw.
type Model struct {
	ctx         context.Context
	widget      *conversation.Widget
	tray        *attachments.Tray
	title       string
	description string

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	ticking  bool

	notice   string
	width    int
	rendered map[string]string
}

type ModelOption func(*Model)

func WithTitle(title, description string) ModelOption {
	return func(m *Model) {
		m.title = title
		m.description = description
	}
}

// WithTray enables the attachment tray.
func WithTray(t *attachments.Tray) ModelOption {
	return func(m *Model) { m.tray = t }
}

func WithContext(ctx context.Context) ModelOption {
	return func(m *Model) {
		if ctx != nil {
			m.ctx = ctx
		}
	}
}

func NewModel(w *conversation.Widget, opts ...ModelOption) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = typingStyle

	ta := textarea.New()
	ta.Placeholder = "Escribí tu mensaje..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(2)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	m := Model{
		ctx:      context.Background(),
		widget:   w,
		viewport: viewport.New(80, 16),
		input:    ta,
		spinner:  sp,
		width:    80,
		rendered: map[string]string{},
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		m.viewport.Width = ev.Width
		m.viewport.Height = max(3, ev.Height-m.chromeHeight())
		m.input.SetWidth(ev.Width)
		m.rendered = map[string]string{}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(ev)

	case WidgetEventMsg:
		m.refresh()
		return m, m.startTicking()

	case actionDoneMsg:
		if ev.err != nil {
			log.Debug().Err(ev.err).Str("component", "ui").Msg("widget action finished with error")
		}
		m.refresh()
		return m, nil

	case noticeMsg:
		m.notice = string(ev)
		return m, nil

	case spinner.TickMsg:
		if !m.animating() {
			m.ticking = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		if m.widget.Busy() {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		if m.tray != nil && strings.HasPrefix(text, "/") {
			return m, m.trayCommand(text)
		}
		return m, m.submit(text)

	case tea.KeyCtrlR:
		if !m.widget.CanRecord() {
			m.notice = "Grabación no disponible"
			return m, nil
		}
		if !m.widget.Recording() && m.widget.Busy() {
			return m, nil
		}
		ctx, w := m.ctx, m.widget
		return m, func() tea.Msg {
			return actionDoneMsg{err: w.ToggleRecording(ctx)}
		}

	case tea.KeyCtrlY:
		last, ok := m.widget.Conversation().Last(conversation.SenderBot)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			if err := clipboard.WriteAll(last.Content); err != nil {
				log.Warn().Err(err).Str("component", "ui").Msg("copy to clipboard")
				return noticeMsg("No pude copiar al portapapeles")
			}
			return noticeMsg("Respuesta copiada")
		}
	}

	var cmd tea.Cmd
	if !m.widget.Busy() {
		m.input, cmd = m.input.Update(k)
	}
	return m, cmd
}

func (m Model) submit(text string) tea.Cmd {
	ctx, w := m.ctx, m.widget
	return func() tea.Msg {
		return actionDoneMsg{err: w.SubmitText(ctx, text)}
	}
}

// trayCommand handles /attach <path>, /detach <id> and /clear.
func (m Model) trayCommand(text string) tea.Cmd {
	tray := m.tray
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	return func() tea.Msg {
		switch cmd {
		case "/attach":
			fd, err := tray.Add(arg)
			if err != nil {
				return noticeMsg(err.Error())
			}
			return noticeMsg(fmt.Sprintf("Adjuntado %s (%s)", fd.Name, fd.MimeType))
		case "/detach":
			if err := tray.Remove(arg); err != nil {
				return noticeMsg(err.Error())
			}
			return noticeMsg("Adjunto quitado")
		case "/clear":
			tray.Clear()
			return noticeMsg("Adjuntos vaciados")
		default:
			return noticeMsg("Comandos: /attach <ruta>, /detach <id>, /clear")
		}
	}
}

func (m Model) animating() bool {
	return m.widget.Typing() || m.widget.Recording()
}

func (m *Model) startTicking() tea.Cmd {
	if m.ticking || !m.animating() {
		return nil
	}
	m.ticking = true
	return m.spinner.Tick
}

// chromeHeight is everything around the viewport.
func (m Model) chromeHeight() int {
	h := 2 + 1 + m.input.Height() + 1
	if m.tray != nil {
		h++
	}
	return h
}

func (m *Model) refresh() {
	var b strings.Builder
	for i, msg := range m.widget.Conversation().Messages() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderBubble(msg))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderBubble(msg conversation.Message) string {
	if msg.Sender == conversation.SenderUser {
		line := userBubbleStyle.Render(msg.Content) + " " + statusMark(msg.Status)
		return lipgloss.PlaceHorizontal(m.width, lipgloss.Right, line)
	}
	key := msg.ID + "\x00" + msg.Content
	if r, ok := m.rendered[key]; ok {
		return r
	}
	body := msg.Content
	if out, err := glamour.Render(msg.Content, "dark"); err == nil {
		body = strings.Trim(out, "\n")
	}
	r := botBubbleStyle.MaxWidth(max(20, m.width-2)).Render(body)
	m.rendered[key] = r
	return r
}

func statusMark(s conversation.Status) string {
	switch s {
	case conversation.StatusSending:
		return statusSendingStyle.Render("…")
	case conversation.StatusSent:
		return statusSentStyle.Render("✓")
	case conversation.StatusError:
		return statusErrorStyle.Render("✗")
	}
	return ""
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(descriptionStyle.Render(m.description))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch {
	case m.widget.Recording():
		b.WriteString(recordingStyle.Render(m.spinner.View() + " Grabando... ctrl+r para enviar"))
	case m.widget.Typing():
		b.WriteString(m.spinner.View() + typingStyle.Render(" Escribiendo..."))
	case m.notice != "":
		b.WriteString(noticeStyle.Render(m.notice))
	}
	b.WriteString("\n")

	if m.tray != nil {
		b.WriteString(trayStyle.Render(trayLine(m.tray.List())))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpLine()))
	return b.String()
}

func (m Model) helpLine() string {
	parts := []string{"enter enviar"}
	if m.widget.CanRecord() {
		parts = append(parts, "ctrl+r audio")
	}
	parts = append(parts, "ctrl+y copiar", "ctrl+c salir")
	return strings.Join(parts, " · ")
}

func trayLine(files []attachments.FileDescriptor) string {
	if len(files) == 0 {
		return "📎 sin adjuntos (/attach <ruta>)"
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, fmt.Sprintf("%s [%s]", f.Name, f.ID[:8]))
	}
	return "📎 " + strings.Join(names, ", ")
}
