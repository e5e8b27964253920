package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/go-go-golems/embedchat/pkg/webhook"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubHook struct {
	replies []string
	err     error
	entered chan struct{}
	release chan struct{}
}

func (h *stubHook) Send(context.Context, webhook.Request) ([]string, error) {
	if h.entered != nil {
		h.entered <- struct{}{}
	}
	if h.release != nil {
		<-h.release
	}
	return h.replies, h.err
}

var noSleep = conversation.SleeperFunc(func(context.Context, time.Duration) error { return nil })

func newTestServer(t *testing.T, hook conversation.Webhook, opts ...conversation.Option) (*Server, *httptest.Server, *conversation.Widget) {
	t.Helper()
	w := conversation.NewWidget(hook, append([]conversation.Option{conversation.WithSleeper(noSleep)}, opts...)...)
	s, err := NewServer(context.Background(), "", w, WidgetInfo{Title: "Coach Netia", Description: "Preguntame cualquier duda"})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, w
}

func postChat(t *testing.T, url, text string) (*http.Response, chatResponse) {
	t.Helper()
	body, err := json.Marshal(chatRequest{Text: text})
	require.NoError(t, err)
	resp, err := http.Post(url+"/api/chat", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out chatResponse
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestChatEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubHook{replies: []string{"a", "b"}})

	resp, out := postChat(t, ts.URL, "hola")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Messages, 4)
	require.Equal(t, conversation.StatusSent, out.Messages[1].Status)
	require.Equal(t, "b", out.Messages[3].Content)

	resp, _ = postChat(t, ts.URL, "   ")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointWebhookFailure(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubHook{err: errors.New("refused")})
	resp, out := postChat(t, ts.URL, "hola")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Len(t, out.Messages, 3)
	require.Equal(t, conversation.WebhookErrorText, out.Messages[2].Content)
}

func TestChatEndpointBusy(t *testing.T) {
	hook := &stubHook{replies: []string{"ok"}, entered: make(chan struct{}, 1), release: make(chan struct{})}
	_, ts, w := newTestServer(t, hook)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"text":"first"}`))
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-hook.entered

	before := w.Conversation().Len()
	resp, _ := postChat(t, ts.URL, "second")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, before, w.Conversation().Len())

	close(hook.release)
	require.Equal(t, http.StatusOK, <-done)
}

func TestWidgetEndpointAndIndex(t *testing.T) {
	_, ts, w := newTestServer(t, &stubHook{})

	resp, err := http.Get(ts.URL + "/api/widget")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var snap widgetSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, "Coach Netia", snap.Title)
	require.Equal(t, w.Conversation().ID(), snap.ConversationID)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, conversation.DefaultGreeting, snap.Messages[0].Content)

	idx, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = idx.Body.Close() }()
	require.Equal(t, http.StatusOK, idx.StatusCode)
	require.Contains(t, idx.Header.Get("Content-Type"), "text/html")
}

func TestWebsocketStreamsEvents(t *testing.T) {
	router, err := events.NewRouter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	hook := &stubHook{replies: []string{"respuesta"}}
	s, ts, _ := newTestServer(t, hook,
		conversation.WithSink(events.NewWatermillSink(router.Publisher(), events.Topic)),
		conversation.WithGreeting(""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Register(ctx, router))
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "snapshot", hello["type"])

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "text", Text: "hola"}))

	var contents []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(contents) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		e, err := events.NewEventFromJSON(data)
		require.NoError(t, err)
		if e.Type == conversation.EventMessageAppended {
			contents = append(contents, e.Message.Content)
		}
	}
	require.Equal(t, []string{"hola", "respuesta"}, contents)
}

func TestWebsocketSkipsOtherConversations(t *testing.T) {
	router, err := events.NewRouter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	hook := &stubHook{replies: []string{"respuesta"}}
	s, ts, w := newTestServer(t, hook,
		conversation.WithSink(events.NewWatermillSink(router.Publisher(), events.Topic)),
		conversation.WithGreeting(""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Register(ctx, router))
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))

	foreign, err := events.NewMessage(conversation.Event{
		Type:    conversation.EventMessageAppended,
		ConvID:  "conv_someone_else",
		Message: &conversation.Message{ID: "x", Content: "reply meant for another widget", Sender: conversation.SenderBot},
	})
	require.NoError(t, err)
	require.NoError(t, router.Publisher().Publish(events.Topic, foreign))

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "text", Text: "hola"}))

	var contents []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(contents) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		e, err := events.NewEventFromJSON(data)
		require.NoError(t, err)
		require.Equal(t, w.Conversation().ID(), e.ConvID)
		if e.Type == conversation.EventMessageAppended {
			contents = append(contents, e.Message.Content)
		}
	}
	require.Equal(t, []string{"hola", "respuesta"}, contents)
}
