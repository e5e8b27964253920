package cmds

import (
	"context"
	"os"

	"github.com/go-go-golems/embedchat/pkg/attachments"
	"github.com/go-go-golems/embedchat/pkg/audio"
	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/go-go-golems/embedchat/pkg/persistence/transcripts"
	"github.com/go-go-golems/embedchat/pkg/webhook"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const archiveHandlerName = "transcripts"

// loadSettings resolves defaults, the config file, the environment and the
// flags set explicitly on the command line. An empty path falls back to
// EMBEDCHAT_CONFIG.
func loadSettings(path string, o *config.Overrides, changed func(name string) bool) (*config.Settings, error) {
	if path == "" {
		path = os.Getenv("EMBEDCHAT_CONFIG")
	}
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := s.Apply(o, changed); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return s, nil
}

func openStore(s *config.Settings) (transcripts.Store, error) {
	if s.Transcript.DB == "" {
		return transcripts.NewInMemoryStore(0), nil
	}
	dsn, err := transcripts.SQLiteDSNForFile(s.Transcript.DB)
	if err != nil {
		return nil, err
	}
	return transcripts.NewSQLiteStore(dsn)
}

// widgetRuntime bundles everything one widget instance needs.
type widgetRuntime struct {
	Settings *config.Settings
	Router   *events.Router
	Store    transcripts.Store
	Widget   *conversation.Widget
	Tray     *attachments.Tray
}

type runtimeOption func(*runtimeOptions)

type runtimeOptions struct {
	source audio.Source
}

// withAudioSource overrides the microphone configured in settings.
func withAudioSource(src audio.Source) runtimeOption {
	return func(o *runtimeOptions) { o.source = src }
}

func newWidgetRuntime(ctx context.Context, s *config.Settings, opts ...runtimeOption) (*widgetRuntime, error) {
	o := runtimeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == nil && s.Recorder.Command != "" {
		o.source = &audio.CommandSource{Args: audio.ParseCommand(s.Recorder.Command)}
	}

	convID := conversation.NewConversationID()
	router, err := events.NewRouter(events.WithRedis(events.RedisSettings{
		Enabled:  s.Redis.Enabled,
		Addr:     s.Redis.Addr,
		Group:    s.Redis.Group,
		Consumer: s.Redis.Consumer,
		Scope:    convID,
	}))
	if err != nil {
		return nil, err
	}

	store, err := openStore(s)
	if err != nil {
		_ = router.Close()
		return nil, err
	}
	if err := router.AddHandler(ctx, archiveHandlerName, events.Topic, events.ForConversation(convID, transcripts.StepArchiveFunc(store))); err != nil {
		_ = store.Close()
		_ = router.Close()
		return nil, err
	}

	client := webhook.NewClient(s.WebhookURL, webhook.WithTimeout(s.Timeout))
	widgetOpts := []conversation.Option{
		conversation.WithConversationID(convID),
		conversation.WithGreeting(s.Greeting),
		conversation.WithPacing(conversation.Pacing{Thinking: s.Pacing.Thinking, Settle: s.Pacing.Settle}),
		conversation.WithSink(events.NewWatermillSink(router.Publisher(), events.Topic)),
	}
	if o.source != nil {
		widgetOpts = append(widgetOpts, conversation.WithRecorder(audio.NewRecorder(o.source)))
	}

	rt := &widgetRuntime{
		Settings: s,
		Router:   router,
		Store:    store,
		Widget:   conversation.NewWidget(client, widgetOpts...),
	}
	if s.Uploads {
		rt.Tray = attachments.NewTray()
	}
	if err := store.UpsertConversation(ctx, transcripts.ConversationRecord{
		ConvID: convID,
		Title:  s.Title,
	}); err != nil {
		log.Warn().Err(err).Str("conv_id", convID).Msg("record conversation")
	}
	// the greeting is published before any handler subscribes
	for _, m := range rt.Widget.Conversation().Messages() {
		e := conversation.Event{Type: conversation.EventMessageAppended, ConvID: convID, Message: &m}
		if err := transcripts.Archive(ctx, store, e); err != nil {
			log.Warn().Err(err).Str("conv_id", convID).Str("message_id", m.ID).Msg("archive greeting")
		}
	}
	log.Debug().
		Str("conv_id", convID).
		Str("webhook", client.URL()).
		Bool("uploads", s.Uploads).
		Msg("widget ready")
	return rt, nil
}

// run starts the router, waits for its handlers and then runs fn. Whichever
// finishes first cancels the other.
func (rt *widgetRuntime) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return rt.Router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-rt.Router.Running():
		case <-ctx.Done():
			return nil
		}
		return fn(ctx)
	})
	return eg.Wait()
}

func (rt *widgetRuntime) Close() {
	if err := rt.Router.Close(); err != nil {
		log.Debug().Err(err).Msg("router close")
	}
	if err := rt.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("transcript store close")
	}
}
