package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-go-golems/embedchat/pkg/audio"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTitle       = "Coach Netia"
	DefaultDescription = "Preguntame cualquier duda"
)

// Settings is everything a host can tune about the widget.
// Precedence, lowest first: defaults, YAML file, EMBEDCHAT_* environment, flags.
type Settings struct {
	// WebhookURL empty means the built-in webhook.
	WebhookURL  string        `yaml:"webhook_url" env:"EMBEDCHAT_WEBHOOK_URL"`
	Title       string        `yaml:"title" env:"EMBEDCHAT_TITLE"`
	Description string        `yaml:"description" env:"EMBEDCHAT_DESCRIPTION"`
	Greeting    string        `yaml:"greeting" env:"EMBEDCHAT_GREETING"`
	Uploads     bool          `yaml:"uploads" env:"EMBEDCHAT_UPLOADS"`
	Timeout     time.Duration `yaml:"timeout" env:"EMBEDCHAT_TIMEOUT"`

	Pacing     PacingSettings     `yaml:"pacing"`
	Recorder   RecorderSettings   `yaml:"recorder"`
	Transcript TranscriptSettings `yaml:"transcript"`
	Redis      RedisSettings      `yaml:"redis"`
	Server     ServerSettings     `yaml:"server"`
}

type PacingSettings struct {
	Thinking time.Duration `yaml:"thinking" env:"EMBEDCHAT_PACING_THINKING"`
	Settle   time.Duration `yaml:"settle" env:"EMBEDCHAT_PACING_SETTLE"`
}

type RecorderSettings struct {
	// Command is split on whitespace; it must write audio to stdout.
	Command string `yaml:"command" env:"EMBEDCHAT_RECORDER_COMMAND"`
}

type TranscriptSettings struct {
	// DB is a sqlite file path. Empty keeps the archive in memory.
	DB string `yaml:"db" env:"EMBEDCHAT_TRANSCRIPT_DB"`
}

type RedisSettings struct {
	Enabled  bool   `yaml:"enabled" env:"EMBEDCHAT_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"EMBEDCHAT_REDIS_ADDR"`
	Group    string `yaml:"group" env:"EMBEDCHAT_REDIS_GROUP"`
	Consumer string `yaml:"consumer" env:"EMBEDCHAT_REDIS_CONSUMER"`
}

type ServerSettings struct {
	Addr string `yaml:"addr" env:"EMBEDCHAT_SERVER_ADDR"`
}

func Default() *Settings {
	return &Settings{
		Title:       DefaultTitle,
		Description: DefaultDescription,
		Greeting:    conversation.DefaultGreeting,
		Timeout:     60 * time.Second,
		Pacing: PacingSettings{
			Thinking: 300 * time.Millisecond,
			Settle:   150 * time.Millisecond,
		},
		Recorder: RecorderSettings{Command: strings.Join(audio.DefaultRecorderCommand, " ")},
		Redis: RedisSettings{
			Addr:     "localhost:6379",
			Group:    "embedchat",
			Consumer: "widget-1",
		},
		Server: ServerSettings{Addr: ":8080"},
	}
}

// Load reads path (if non-empty and present) over the defaults and then
// applies the environment.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	if err := env.Parse(s); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.WebhookURL != "" {
		u, err := url.Parse(s.WebhookURL)
		if err != nil {
			return errors.Wrap(err, "webhook_url")
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.Errorf("webhook_url %q must be an absolute http(s) URL", s.WebhookURL)
		}
	}
	if s.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if s.Pacing.Thinking < 0 || s.Pacing.Settle < 0 {
		return errors.New("pacing durations must not be negative")
	}
	if s.Redis.Enabled && s.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}
