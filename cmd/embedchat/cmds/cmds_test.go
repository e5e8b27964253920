package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/embedchat/pkg/audio"
	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/go-go-golems/embedchat/pkg/persistence/transcripts"
	"github.com/stretchr/testify/require"
)

type webhookCall struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Audio          *struct {
		Base64   string `json:"base64"`
		MimeType string `json:"mimeType"`
	} `json:"audio"`
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
	reply string
}

func (f *fakeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var c webhookCall
	_ = json.NewDecoder(r.Body).Decode(&c)
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(f.reply))
}

func (f *fakeWebhook) received() []webhookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhookCall(nil), f.calls...)
}

func newFakeWebhook(t *testing.T, reply string) (*fakeWebhook, *httptest.Server) {
	t.Helper()
	hook := &fakeWebhook{reply: reply}
	srv := httptest.NewServer(hook)
	t.Cleanup(srv.Close)
	return hook, srv
}

func testSettings(url string) *config.Settings {
	s := config.Default()
	s.WebhookURL = url
	s.Timeout = 5 * time.Second
	s.Pacing = config.PacingSettings{}
	s.Recorder.Command = ""
	return s
}

func newTestRuntime(t *testing.T, s *config.Settings, opts ...runtimeOption) *widgetRuntime {
	t.Helper()
	rt, err := newWidgetRuntime(context.Background(), s, opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewWidgetRuntimeArchivesGreeting(t *testing.T) {
	s := testSettings("http://127.0.0.1:1/unused")
	s.Title = "Soporte"
	rt := newTestRuntime(t, s)
	convID := rt.Widget.Conversation().ID()

	msgs, err := rt.Store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, conversation.GreetingID, msgs[0].MessageID)
	require.Equal(t, conversation.SenderBot, msgs[0].Sender)
	require.Equal(t, conversation.DefaultGreeting, msgs[0].Content)

	rec, ok, err := rt.Store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Soporte", rec.Title)
}

func TestHandleLineRecordsUntilEmptyLine(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{"output.respuesta":"te escuché"}`)
	src := &audio.CommandSource{
		Args:     []string{"sh", "-c", "printf abc; exec sleep 10"},
		MimeType: "audio/wav",
	}
	rt := newTestRuntime(t, testSettings(srv.URL), withAudioSource(src))
	ctx := context.Background()

	require.NoError(t, handleLine(ctx, rt, "/rec"))
	require.True(t, rt.Widget.Recording())
	require.Empty(t, hook.received())

	require.NoError(t, handleLine(ctx, rt, ""))
	require.False(t, rt.Widget.Recording())

	calls := hook.received()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Audio)
	require.Equal(t, "YWJj", calls[0].Audio.Base64)
	require.Equal(t, "audio/wav", calls[0].Audio.MimeType)
	require.Equal(t, "", calls[0].Message)

	last, ok := rt.Widget.Conversation().Last(conversation.SenderBot)
	require.True(t, ok)
	require.Equal(t, "te escuché", last.Content)
}

func TestHandleLineEmptyLineWithoutRecordingIsIgnored(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{"output.respuesta":"hola"}`)
	rt := newTestRuntime(t, testSettings(srv.URL))

	err := handleLine(context.Background(), rt, "")
	require.ErrorIs(t, err, conversation.ErrEmpty)
	require.Empty(t, hook.received())
}

func TestHandleLineSendsAudioFile(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{"output.respuesta":"recibido"}`)
	rt := newTestRuntime(t, testSettings(srv.URL))
	path := writeFile(t, "clip.bin", []byte("abc"))

	require.NoError(t, handleLine(context.Background(), rt, "/audio "+path))

	calls := hook.received()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Audio)
	require.Equal(t, "YWJj", calls[0].Audio.Base64)

	msgs := rt.Widget.Conversation().Messages()
	require.Equal(t, conversation.AudioSentPlaceholder, msgs[len(msgs)-2].Content)
	require.Equal(t, "recibido", msgs[len(msgs)-1].Content)
}

func TestHandleLineAudioWithoutPath(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{}`)
	rt := newTestRuntime(t, testSettings(srv.URL))

	require.Error(t, handleLine(context.Background(), rt, "/audio"))
	require.Empty(t, hook.received())
}

func TestHandleLineAttachWithUploads(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{}`)
	s := testSettings(srv.URL)
	s.Uploads = true
	rt := newTestRuntime(t, s)
	require.NotNil(t, rt.Tray)
	path := writeFile(t, "notes.txt", []byte("hello"))

	require.NoError(t, handleLine(context.Background(), rt, "/attach "+path))

	files := rt.Tray.List()
	require.Len(t, files, 1)
	require.Equal(t, "notes.txt", files[0].Name)
	require.Empty(t, hook.received())
}

func TestHandleLineAttachWithoutUploadsIsText(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{"output.respuesta":"ok"}`)
	rt := newTestRuntime(t, testSettings(srv.URL))
	require.Nil(t, rt.Tray)

	require.NoError(t, handleLine(context.Background(), rt, "/attach notes.txt"))

	calls := hook.received()
	require.Len(t, calls, 1)
	require.Equal(t, "/attach notes.txt", calls[0].Message)
	require.Equal(t, rt.Widget.Conversation().ID(), calls[0].ConversationID)
}

func TestRunSendPrintsOnlyNewReplies(t *testing.T) {
	_, srv := newFakeWebhook(t, `[{"output.respuesta":"uno"},{"output.respuesta":"dos"}]`)
	out := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runSend(ctx, testSettings(srv.URL), "hola", "", out))
	require.Equal(t, "uno\ndos\n", out.String())
}

func TestRunSendWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	out := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := runSend(ctx, testSettings(url), "hola", "", out)
	require.Error(t, err)
	require.Equal(t, conversation.WebhookErrorText+"\n", out.String())
}

func TestRunSendAudioFile(t *testing.T) {
	hook, srv := newFakeWebhook(t, `{"output.respuesta":"audio ok"}`)
	path := writeFile(t, "clip.bin", []byte("abc"))
	out := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runSend(ctx, testSettings(srv.URL), "", path, out))
	require.Equal(t, "audio ok\n", out.String())

	calls := hook.received()
	require.Len(t, calls, 1)
	require.Equal(t, "YWJj", calls[0].Audio.Base64)
}

func TestRunSendRejectsBadInput(t *testing.T) {
	s := testSettings("http://127.0.0.1:1/unused")
	require.Error(t, runSend(context.Background(), s, "", "", &bytes.Buffer{}))
	require.Error(t, runSend(context.Background(), s, "hola", "clip.wav", &bytes.Buffer{}))
}

func TestLoadSettingsFallsBackToEnvConfig(t *testing.T) {
	fromEnv := writeFile(t, "env.yaml", []byte("title: Desde env\n"))
	t.Setenv("EMBEDCHAT_CONFIG", fromEnv)

	s, err := loadSettings("", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Desde env", s.Title)

	explicit := writeFile(t, "flag.yaml", []byte("title: Desde flag\n"))
	s, err = loadSettings(explicit, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Desde flag", s.Title)
}

func TestLoadSettingsAppliesExplicitFlags(t *testing.T) {
	path := writeFile(t, "cfg.yaml", []byte("title: Archivo\ndescription: Archivo\n"))
	o := &config.Overrides{Widget: &config.WidgetFlags{Title: "Flag", Description: "default"}}

	s, err := loadSettings(path, o, func(name string) bool { return name == "title" })
	require.NoError(t, err)
	require.Equal(t, "Flag", s.Title)
	require.Equal(t, "Archivo", s.Description)
}

func TestLoadSettingsValidates(t *testing.T) {
	path := writeFile(t, "cfg.yaml", []byte("webhook_url: ftp://nope\n"))
	_, err := loadSettings(path, nil, nil)
	require.Error(t, err)
}

func TestLinePrinterSkipsOtherConversations(t *testing.T) {
	out := &bytes.Buffer{}
	h := linePrinter("mine", out)

	bot := conversation.Message{ID: "2", Content: "para mí", Sender: conversation.SenderBot}
	other := conversation.Message{ID: "2", Content: "para otro", Sender: conversation.SenderBot}
	user := conversation.Message{ID: "3", Content: "yo", Sender: conversation.SenderUser}

	for _, e := range []conversation.Event{
		{Type: conversation.EventMessageAppended, ConvID: "someone-else", Message: &other},
		{Type: conversation.EventRecording, ConvID: "someone-else", Recording: true},
		{Type: conversation.EventMessageAppended, ConvID: "mine", Message: &user},
		{Type: conversation.EventMessageAppended, ConvID: "mine", Message: &bot},
	} {
		msg, err := events.NewMessage(e)
		require.NoError(t, err)
		require.NoError(t, h(msg))
	}
	require.Equal(t, "bot> para mí\n", out.String())
}

func TestTranscriptRows(t *testing.T) {
	ctx := context.Background()
	store := transcripts.NewInMemoryStore(0)
	require.NoError(t, store.UpsertConversation(ctx, transcripts.ConversationRecord{ConvID: "c1", Title: "Soporte"}))
	require.NoError(t, store.UpsertMessage(ctx, "c1", conversation.Message{
		ID: "1", Content: "hola", Sender: conversation.SenderBot, Timestamp: time.Now(),
	}))
	require.NoError(t, store.UpsertMessage(ctx, "c1", conversation.Message{
		ID: "u1", Content: "ayuda", Sender: conversation.SenderUser, Status: conversation.StatusError, Timestamp: time.Now(),
	}))

	convs, err := conversationRows(ctx, store, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	id, ok := convs[0].Get("conv_id")
	require.True(t, ok)
	require.Equal(t, "c1", id)
	title, _ := convs[0].Get("title")
	require.Equal(t, "Soporte", title)

	msgs, err := messageRows(ctx, store, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	status, _ := msgs[1].Get("status")
	require.Equal(t, "error", status)
	content, _ := msgs[1].Get("content")
	require.Equal(t, "ayuda", content)

	_, err = messageRows(ctx, store, "missing")
	require.Error(t, err)
}
