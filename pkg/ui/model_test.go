package ui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/embedchat/pkg/attachments"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/webhook"
	"github.com/stretchr/testify/require"
)

type stubHook struct {
	replies []string
}

func (s stubHook) Send(context.Context, webhook.Request) ([]string, error) {
	return s.replies, nil
}

var noSleep = conversation.SleeperFunc(func(context.Context, time.Duration) error { return nil })

func typeText(t *testing.T, m tea.Model, text string) tea.Model {
	t.Helper()
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func TestModelSubmitsOnEnter(t *testing.T) {
	w := conversation.NewWidget(stubHook{replies: []string{"**hola** atleta"}}, conversation.WithSleeper(noSleep))
	var m tea.Model = NewModel(w, WithTitle("Coach Netia", "Preguntame cualquier duda"))
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})

	m = typeText(t, m, "hola")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, actionDoneMsg{}, msg)
	require.NoError(t, msg.(actionDoneMsg).err)

	m, _ = m.Update(msg)
	msgs := w.Conversation().Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "hola", msgs[1].Content)
	require.Equal(t, conversation.StatusSent, msgs[1].Status)

	view := m.View()
	require.Contains(t, view, "Coach Netia")
	require.Contains(t, view, "Preguntame cualquier duda")
	require.Contains(t, view, "atleta")
	require.Equal(t, "", m.(Model).input.Value())
}

func TestModelIgnoresBlankEnter(t *testing.T) {
	w := conversation.NewWidget(stubHook{}, conversation.WithSleeper(noSleep))
	var m tea.Model = NewModel(w)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Equal(t, 1, w.Conversation().Len())
}

func TestModelRecordingUnavailable(t *testing.T) {
	w := conversation.NewWidget(stubHook{}, conversation.WithSleeper(noSleep))
	var m tea.Model = NewModel(w)
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	require.Nil(t, cmd)
	require.Equal(t, "Grabación no disponible", m.(Model).notice)
	require.NotContains(t, m.View(), "ctrl+r audio")
}

func TestModelTrayCommands(t *testing.T) {
	w := conversation.NewWidget(stubHook{}, conversation.WithSleeper(noSleep))
	tray := attachments.NewTray()
	var m tea.Model = NewModel(w, WithTray(tray))
	require.Contains(t, m.View(), "sin adjuntos")

	m = typeText(t, m, "/clear")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	require.Equal(t, "Adjuntos vaciados", m.(Model).notice)
	require.Equal(t, 1, w.Conversation().Len())
}
