package conversation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/embedchat/pkg/audio"
	"github.com/go-go-golems/embedchat/pkg/webhook"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy  = errors.New("a message is already being sent")
	ErrEmpty = errors.New("message is empty")
)

// Webhook is the outbound side of a send.
type Webhook interface {
	Send(ctx context.Context, req webhook.Request) ([]string, error)
}

// Recorder captures a voice message.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (audio.Clip, error)
	Recording() bool
}

// endNotifier is implemented by recorders that can tell when their input
// ended without Stop being called.
type endNotifier interface {
	Ended() <-chan struct{}
}

// Pacing staggers reply bubbles: Thinking before each one, Settle after it.
type Pacing struct {
	Thinking time.Duration
	Settle   time.Duration
}

var DefaultPacing = Pacing{Thinking: 300 * time.Millisecond, Settle: 150 * time.Millisecond}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Widget drives one conversation: it accepts text or audio, talks to the
// webhook and renders the replies as bubbles. At most one send is in flight.
type Widget struct {
	conv     *Conversation
	hook     Webhook
	recorder Recorder
	pacing   Pacing
	sleeper  Sleeper
	sink     EventSink
	now      func() time.Time
	newID    func() string

	greeting string
	busy     atomic.Bool
	typing   atomic.Bool

	recMu      sync.Mutex
	recStopped chan struct{}
}

type Option func(*Widget)

func WithConversationID(id string) Option {
	return func(w *Widget) { w.conv = New(id) }
}

// WithGreeting sets the opening bot bubble. An empty greeting disables it.
func WithGreeting(text string) Option {
	return func(w *Widget) { w.greeting = text }
}

func WithPacing(p Pacing) Option {
	return func(w *Widget) { w.pacing = p }
}

func WithSleeper(s Sleeper) Option {
	return func(w *Widget) {
		if s != nil {
			w.sleeper = s
		}
	}
}

func WithSink(s EventSink) Option {
	return func(w *Widget) {
		if s != nil {
			w.sink = s
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(w *Widget) { w.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(w *Widget) {
		if now != nil {
			w.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(w *Widget) {
		if gen != nil {
			w.newID = gen
		}
	}
}

func NewWidget(hook Webhook, opts ...Option) *Widget {
	w := &Widget{
		hook:     hook,
		pacing:   DefaultPacing,
		sleeper:  timerSleeper{},
		sink:     nopSink{},
		now:      time.Now,
		newID:    newMessageID,
		greeting: DefaultGreeting,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.conv == nil {
		w.conv = New("")
	}
	if w.greeting != "" && w.conv.Len() == 0 {
		w.appendMessage(Message{ID: GreetingID, Content: w.greeting, Sender: SenderBot, Timestamp: w.now()})
	}
	return w
}

func (w *Widget) Conversation() *Conversation { return w.conv }
func (w *Widget) Busy() bool                 { return w.busy.Load() }
func (w *Widget) Typing() bool               { return w.typing.Load() }

func (w *Widget) Recording() bool {
	return w.recorder != nil && w.recorder.Recording()
}

// CanRecord reports whether a voice input is configured.
func (w *Widget) CanRecord() bool {
	return w.recorder != nil
}

// SubmitText sends a text message. Blank input and input arriving while a
// send is pending are rejected without touching the conversation. A failed
// webhook call is rendered as an error bubble and also returned.
func (w *Widget) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	return w.submit(ctx, text, webhook.Request{Message: text})
}

// SubmitAudio sends a finished recording with empty text.
func (w *Widget) SubmitAudio(ctx context.Context, clip audio.Clip) error {
	if clip.Base64 == "" {
		return ErrEmpty
	}
	return w.submit(ctx, AudioSentPlaceholder, webhook.Request{
		Audio: &webhook.Audio{
			Base64:   clip.Base64,
			MimeType: clip.MimeType,
			Duration: clip.Duration,
		},
	})
}

func (w *Widget) submit(ctx context.Context, display string, req webhook.Request) error {
	if !w.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer w.busy.Store(false)

	userMsg := Message{
		ID:        w.newID(),
		Content:   display,
		Sender:    SenderUser,
		Timestamp: w.now(),
		Status:    StatusSending,
	}
	w.appendMessage(userMsg)

	w.setTyping(true)
	defer w.setTyping(false)

	req.ConversationID = w.conv.ID()
	replies, err := w.hook.Send(ctx, req)
	if err != nil {
		log.Warn().Err(err).
			Str("component", "widget").
			Str("conv_id", w.conv.ID()).
			Str("message_id", userMsg.ID).
			Msg("webhook call failed")
		w.setStatus(userMsg.ID, StatusError)
		w.appendMessage(Message{
			ID:        errorBubbleID(userMsg.ID),
			Content:   WebhookErrorText,
			Sender:    SenderBot,
			Timestamp: w.now(),
		})
		return errors.Wrap(err, "send to webhook")
	}

	w.setStatus(userMsg.ID, StatusSent)

	paced := true
	for _, reply := range webhook.WithFallback(replies) {
		paced = paced && w.pause(ctx, w.pacing.Thinking)
		w.appendMessage(Message{
			ID:        w.newID(),
			Content:   reply,
			Sender:    SenderBot,
			Timestamp: w.now(),
		})
		paced = paced && w.pause(ctx, w.pacing.Settle)
	}
	return nil
}

// StartRecording acquires the microphone. When it cannot, a bot bubble
// explains the failure and the error is returned.
func (w *Widget) StartRecording(ctx context.Context) error {
	if w.recorder == nil {
		return errors.New("no recorder configured")
	}
	if w.recorder.Recording() {
		return nil
	}
	if err := w.recorder.Start(ctx); err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("conv_id", w.conv.ID()).Msg("microphone unavailable")
		w.appendBotNotice(MicUnavailableText)
		return errors.Wrap(err, "start recording")
	}
	w.publish(Event{Type: EventRecording, ConvID: w.conv.ID(), Recording: true})
	w.watchRecording()
	return nil
}

// watchRecording publishes the end of a capture whose input died before
// StopRecording was called.
func (w *Widget) watchRecording() {
	en, ok := w.recorder.(endNotifier)
	if !ok {
		return
	}
	ended := en.Ended()
	if ended == nil {
		return
	}
	stopped := make(chan struct{})
	w.recMu.Lock()
	w.recStopped = stopped
	w.recMu.Unlock()

	go func() {
		select {
		case <-stopped:
		case <-ended:
			w.recMu.Lock()
			current := w.recStopped == stopped
			w.recMu.Unlock()
			if !current {
				return
			}
			log.Warn().Str("component", "widget").Str("conv_id", w.conv.ID()).Msg("audio input ended before recording was stopped")
			w.publish(Event{Type: EventRecording, ConvID: w.conv.ID(), Recording: false})
		}
	}()
}

func (w *Widget) markRecordingStopped() {
	w.recMu.Lock()
	defer w.recMu.Unlock()
	if w.recStopped != nil {
		close(w.recStopped)
		w.recStopped = nil
	}
}

// StopRecording finalizes the capture and submits it. A capture whose input
// ended on its own is still collected.
func (w *Widget) StopRecording(ctx context.Context) error {
	if w.recorder == nil {
		return nil
	}
	w.markRecordingStopped()
	clip, err := w.recorder.Stop()
	if errors.Is(err, audio.ErrNotRecording) {
		return nil
	}
	w.publish(Event{Type: EventRecording, ConvID: w.conv.ID(), Recording: false})
	if err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("conv_id", w.conv.ID()).Msg("audio processing failed")
		w.appendBotNotice(AudioProcessingText)
		return errors.Wrap(err, "finish recording")
	}
	return w.SubmitAudio(ctx, clip)
}

// ToggleRecording starts a capture or stops and sends the current one.
func (w *Widget) ToggleRecording(ctx context.Context) error {
	if w.Recording() {
		return w.StopRecording(ctx)
	}
	return w.StartRecording(ctx)
}

func (w *Widget) appendBotNotice(text string) {
	w.appendMessage(Message{ID: w.newID(), Content: text, Sender: SenderBot, Timestamp: w.now()})
}

// pause returns false once the context is done; later pauses are skipped
// but the remaining replies are still rendered.
func (w *Widget) pause(ctx context.Context, d time.Duration) bool {
	if err := w.sleeper.Sleep(ctx, d); err != nil {
		log.Debug().Err(err).Str("component", "widget").Msg("reply pacing interrupted")
		return false
	}
	return true
}

func (w *Widget) appendMessage(m Message) {
	if err := w.conv.Append(m); err != nil {
		log.Error().Err(err).Str("component", "widget").Str("conv_id", w.conv.ID()).Msg("append message")
		return
	}
	w.publish(Event{Type: EventMessageAppended, ConvID: w.conv.ID(), Message: &m})
}

func (w *Widget) setStatus(id string, status Status) {
	m, err := w.conv.SetStatus(id, status)
	if err != nil {
		log.Error().Err(err).Str("component", "widget").Str("conv_id", w.conv.ID()).Msg("set message status")
		return
	}
	w.publish(Event{Type: EventMessageStatus, ConvID: w.conv.ID(), Message: &m})
}

func (w *Widget) setTyping(on bool) {
	w.typing.Store(on)
	w.publish(Event{Type: EventTyping, ConvID: w.conv.ID(), Typing: on})
}

func (w *Widget) publish(e Event) {
	if err := w.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("event", string(e.Type)).Msg("publish widget event")
	}
}
