package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultURL is used when no webhook URL is configured.
const DefaultURL = "https://devwebhookn8n.ezequiellamas.com/webhook/455582c0-6b85-4434-ae68-fd59c5a5fdd2"

// DefaultAudioMimeType is assumed when a clip does not carry its own type.
const DefaultAudioMimeType = "audio/webm"

const (
	defaultTimeout  = 60 * time.Second
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Audio is a recorded clip attached to a send.
type Audio struct {
	Base64   string
	MimeType string
	// Duration is omitted from the payload when zero.
	Duration time.Duration
}

// Request is one outbound chat message.
type Request struct {
	ConversationID string
	Message        string
	Audio          *Audio
}

type audioPayload struct {
	Base64     string `json:"base64"`
	MimeType   string `json:"mimeType"`
	DurationMs *int64 `json:"durationMs,omitempty"`
}

type payload struct {
	ConversationID string        `json:"conversationId"`
	Message        string        `json:"message"`
	Timestamp      string        `json:"timestamp"`
	Audio          *audioPayload `json:"audio,omitempty"`
}

// Client posts chat messages to a webhook and parses the replies.
type Client struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithClock overrides the time source used for the payload timestamp.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// NewClient returns a client for url. A blank url selects DefaultURL.
func NewClient(url string, opts ...Option) *Client {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.url
}

// Send performs a single POST and returns the parsed replies.
// Only transport failures are errors; any response body, whatever its
// status code, is run through ParseReplies.
func (c *Client) Send(ctx context.Context, req Request) ([]string, error) {
	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, errors.Wrap(err, "marshal webhook payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("component", "webhook").
		Str("conv_id", req.ConversationID).
		Bool("audio", req.Audio != nil && req.Audio.Base64 != "").
		Msg("posting message")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "post to webhook")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read webhook response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("component", "webhook").
			Str("conv_id", req.ConversationID).
			Int("status", resp.StatusCode).
			Msg("webhook answered with non-2xx status")
	}

	replies := ParseReplies(raw)
	log.Debug().
		Str("component", "webhook").
		Str("conv_id", req.ConversationID).
		Int("replies", len(replies)).
		Msg("parsed webhook replies")
	return replies, nil
}

func (c *Client) buildPayload(req Request) payload {
	p := payload{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Timestamp:      c.now().UTC().Format(timestampLayout),
	}
	if req.Audio != nil && req.Audio.Base64 != "" {
		mime := req.Audio.MimeType
		if mime == "" {
			mime = DefaultAudioMimeType
		}
		ap := &audioPayload{Base64: req.Audio.Base64, MimeType: mime}
		if req.Audio.Duration > 0 {
			ms := req.Audio.Duration.Milliseconds()
			ap.DurationMs = &ms
		}
		p.Audio = ap
	}
	return p
}
