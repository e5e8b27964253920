package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/embedchat/pkg/persistence/transcripts"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type TranscriptsListCommand struct {
	*cmds.CommandDescription
	settingsSource
}

type TranscriptsListSettings struct {
	Limit int    `glazed:"limit"`
	Since string `glazed:"since"`
}

type TranscriptsShowCommand struct {
	*cmds.CommandDescription
	settingsSource
}

type TranscriptsShowSettings struct {
	ConvID string `glazed:"conv-id"`
}

var (
	_ cmds.GlazeCommand = &TranscriptsListCommand{}
	_ cmds.GlazeCommand = &TranscriptsShowCommand{}
)

func transcriptSections() ([]schema.Section, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	transcriptSection, err := config.NewTranscriptSection()
	if err != nil {
		return nil, err
	}
	return []schema.Section{glazedSection, commandSettingsSection, transcriptSection}, nil
}

func NewTranscriptsListCommand() (*TranscriptsListCommand, error) {
	sections, err := transcriptSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List archived conversations, most recent first"),
		cmds.WithFlags(
			fields.New("limit", fields.TypeInteger, fields.WithDefault(50),
				fields.WithHelp("Maximum number of conversations (0 = no limit)")),
			fields.New("since", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Only conversations active within this window, e.g. 24h")),
		),
		cmds.WithSections(sections...),
	)
	return &TranscriptsListCommand{
		CommandDescription: desc,
		settingsSource:     settingsSource{slugs: []string{config.TranscriptSlug}},
	}, nil
}

func (c *TranscriptsListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	ls := &TranscriptsListSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, ls); err != nil {
		return errors.Wrap(err, "decode list settings")
	}
	var sinceMs int64
	if ls.Since != "" {
		d, err := time.ParseDuration(ls.Since)
		if err != nil {
			return errors.Wrap(err, "flag --since")
		}
		sinceMs = time.Now().Add(-d).UnixMilli()
	}
	return c.withArchive(ctx, parsed, func(store transcripts.Store) error {
		rows, err := conversationRows(ctx, store, ls.Limit, sinceMs)
		if err != nil {
			return err
		}
		return addRows(ctx, gp, rows)
	})
}

func NewTranscriptsShowCommand() (*TranscriptsShowCommand, error) {
	sections, err := transcriptSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"show",
		cmds.WithShort("Print the archived messages of a conversation"),
		cmds.WithArguments(
			fields.New("conv-id", fields.TypeString, fields.WithRequired(true),
				fields.WithHelp("Conversation id")),
		),
		cmds.WithSections(sections...),
	)
	return &TranscriptsShowCommand{
		CommandDescription: desc,
		settingsSource:     settingsSource{slugs: []string{config.TranscriptSlug}},
	}, nil
}

func (c *TranscriptsShowCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	ss := &TranscriptsShowSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, ss); err != nil {
		return errors.Wrap(err, "decode show settings")
	}
	return c.withArchive(ctx, parsed, func(store transcripts.Store) error {
		rows, err := messageRows(ctx, store, ss.ConvID)
		if err != nil {
			return err
		}
		return addRows(ctx, gp, rows)
	})
}

// withArchive opens the configured transcript database for reading.
func (s *settingsSource) withArchive(ctx context.Context, parsed *values.Values, fn func(store transcripts.Store) error) error {
	cfg, err := s.load(parsed)
	if err != nil {
		return err
	}
	if cfg.Transcript.DB == "" {
		return errors.New("no transcript database configured (set transcript.db or --transcript-db)")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func conversationRows(ctx context.Context, store transcripts.Store, limit int, sinceMs int64) ([]types.Row, error) {
	convs, err := store.ListConversations(ctx, limit, sinceMs)
	if err != nil {
		return nil, err
	}
	rows := make([]types.Row, 0, len(convs))
	for _, c := range convs {
		rows = append(rows, types.NewRow(
			types.MRP("conv_id", c.ConvID),
			types.MRP("title", c.Title),
			types.MRP("messages", c.MessageCount),
			types.MRP("created_at", formatMs(c.CreatedAtMs)),
			types.MRP("last_activity", formatMs(c.LastActivityMs)),
			types.MRP("last_error", c.LastError),
		))
	}
	return rows, nil
}

func messageRows(ctx context.Context, store transcripts.Store, convID string) ([]types.Row, error) {
	if _, ok, err := store.GetConversation(ctx, convID); err != nil {
		return nil, err
	} else if !ok {
		return nil, errors.Errorf("conversation %s not found", convID)
	}
	msgs, err := store.ListMessages(ctx, convID)
	if err != nil {
		return nil, err
	}
	rows := make([]types.Row, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, types.NewRow(
			types.MRP("seq", m.Seq),
			types.MRP("message_id", m.MessageID),
			types.MRP("time", formatMs(m.CreatedAtMs)),
			types.MRP("sender", string(m.Sender)),
			types.MRP("status", string(m.Status)),
			types.MRP("content", m.Content),
		))
	}
	return rows, nil
}

func addRows(ctx context.Context, gp middlewares.Processor, rows []types.Row) error {
	for _, row := range rows {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
