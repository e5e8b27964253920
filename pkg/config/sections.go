package config

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

const (
	WidgetSlug     = "widget"
	TranscriptSlug = "transcript"
	RedisSlug      = "redis"
	ServerSlug     = "server"
)

// WidgetFlags holds the widget section as glazed decodes it. Durations are
// kept as strings and parsed by Apply.
type WidgetFlags struct {
	WebhookURL      string `glazed:"webhook-url"`
	Title           string `glazed:"title"`
	Description     string `glazed:"description"`
	Greeting        string `glazed:"greeting"`
	Uploads         bool   `glazed:"uploads"`
	Timeout         string `glazed:"timeout"`
	PacingThinking  string `glazed:"pacing-thinking"`
	PacingSettle    string `glazed:"pacing-settle"`
	RecorderCommand string `glazed:"recorder-command"`
}

type TranscriptFlags struct {
	DB string `glazed:"transcript-db"`
}

type RedisFlags struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

type ServerFlags struct {
	Addr string `glazed:"addr"`
}

func NewWidgetSection() (schema.Section, error) {
	d := Default()
	return schema.NewSection(
		WidgetSlug,
		"Widget settings",
		schema.WithFields(
			fields.New("webhook-url", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Webhook URL (empty uses the built-in webhook)")),
			fields.New("title", fields.TypeString, fields.WithDefault(d.Title),
				fields.WithHelp("Widget title")),
			fields.New("description", fields.TypeString, fields.WithDefault(d.Description),
				fields.WithHelp("Widget description")),
			fields.New("greeting", fields.TypeString, fields.WithDefault(d.Greeting),
				fields.WithHelp("Opening bot message (empty disables it)")),
			fields.New("uploads", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Enable the attachment tray")),
			fields.New("timeout", fields.TypeString, fields.WithDefault(d.Timeout.String()),
				fields.WithHelp("Webhook request timeout")),
			fields.New("pacing-thinking", fields.TypeString, fields.WithDefault(d.Pacing.Thinking.String()),
				fields.WithHelp("Pause before each reply bubble")),
			fields.New("pacing-settle", fields.TypeString, fields.WithDefault(d.Pacing.Settle.String()),
				fields.WithHelp("Pause after each reply bubble")),
			fields.New("recorder-command", fields.TypeString, fields.WithDefault(d.Recorder.Command),
				fields.WithHelp("Command that records audio to stdout")),
		),
	)
}

func NewTranscriptSection() (schema.Section, error) {
	return schema.NewSection(
		TranscriptSlug,
		"Transcript archive",
		schema.WithFields(
			fields.New("transcript-db", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("SQLite transcript archive (empty keeps it in memory)")),
		),
	)
}

// NewRedisSection returns the Redis Streams transport section.
func NewRedisSection() (schema.Section, error) {
	d := Default()
	return schema.NewSection(
		RedisSlug,
		"Redis configuration for Watermill Redis Streams",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Route widget events through Redis Streams")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault(d.Redis.Addr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(d.Redis.Group),
				fields.WithHelp("Redis consumer group prefix")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(d.Redis.Consumer),
				fields.WithHelp("Redis consumer name")),
		),
	)
}

func NewServerSection() (schema.Section, error) {
	return schema.NewSection(
		ServerSlug,
		"Embed server",
		schema.WithFields(
			fields.New("addr", fields.TypeString, fields.WithDefault(Default().Server.Addr),
				fields.WithHelp("Embed server listen address")),
		),
	)
}

// Overrides is what the command line parsed. Sections a command does not
// carry stay nil.
type Overrides struct {
	Widget     *WidgetFlags
	Transcript *TranscriptFlags
	Redis      *RedisFlags
	Server     *ServerFlags
}

// DecodeOverrides decodes the named sections from parsed.
func DecodeOverrides(parsed *values.Values, slugs ...string) (*Overrides, error) {
	o := &Overrides{}
	for _, slug := range slugs {
		var dst any
		switch slug {
		case WidgetSlug:
			o.Widget = &WidgetFlags{}
			dst = o.Widget
		case TranscriptSlug:
			o.Transcript = &TranscriptFlags{}
			dst = o.Transcript
		case RedisSlug:
			o.Redis = &RedisFlags{}
			dst = o.Redis
		case ServerSlug:
			o.Server = &ServerFlags{}
			dst = o.Server
		default:
			return nil, errors.Errorf("unknown settings section %q", slug)
		}
		if err := parsed.DecodeSectionInto(slug, dst); err != nil {
			return nil, errors.Wrapf(err, "decode %s settings", slug)
		}
	}
	return o, nil
}

// Apply copies the overrides for which changed reports true. Values that
// were not given explicitly keep what the file and environment set.
func (s *Settings) Apply(o *Overrides, changed func(name string) bool) error {
	if o == nil || changed == nil {
		return nil
	}
	setString := func(name, v string, dst *string) {
		if changed(name) {
			*dst = v
		}
	}
	setBool := func(name string, v bool, dst *bool) {
		if changed(name) {
			*dst = v
		}
	}
	setDuration := func(name, v string, dst *time.Duration) error {
		if !changed(name) {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "flag --%s", name)
		}
		*dst = d
		return nil
	}

	if w := o.Widget; w != nil {
		setString("webhook-url", w.WebhookURL, &s.WebhookURL)
		setString("title", w.Title, &s.Title)
		setString("description", w.Description, &s.Description)
		setString("greeting", w.Greeting, &s.Greeting)
		setBool("uploads", w.Uploads, &s.Uploads)
		setString("recorder-command", w.RecorderCommand, &s.Recorder.Command)
		if err := setDuration("timeout", w.Timeout, &s.Timeout); err != nil {
			return err
		}
		if err := setDuration("pacing-thinking", w.PacingThinking, &s.Pacing.Thinking); err != nil {
			return err
		}
		if err := setDuration("pacing-settle", w.PacingSettle, &s.Pacing.Settle); err != nil {
			return err
		}
	}
	if t := o.Transcript; t != nil {
		setString("transcript-db", t.DB, &s.Transcript.DB)
	}
	if r := o.Redis; r != nil {
		setBool("redis-enabled", r.Enabled, &s.Redis.Enabled)
		setString("redis-addr", r.Addr, &s.Redis.Addr)
		setString("redis-group", r.Group, &s.Redis.Group)
		setString("redis-consumer", r.Consumer, &s.Redis.Consumer)
	}
	if sv := o.Server; sv != nil {
		setString("addr", sv.Addr, &s.Server.Addr)
	}
	return nil
}
