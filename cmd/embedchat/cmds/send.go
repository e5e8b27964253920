package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/embedchat/pkg/audio"
	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
)

type SendCommand struct {
	*cmds.CommandDescription
	settingsSource
}

var _ cmds.WriterCommand = (*SendCommand)(nil)

type SendSettings struct {
	Text  []string `glazed:"text"`
	Audio string   `glazed:"audio"`
}

func NewSendCommand() (*SendCommand, error) {
	slugs := []string{config.WidgetSlug, config.TranscriptSlug, config.RedisSlug}
	sections, err := buildSections(slugs...)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"send",
		cmds.WithShort("Send one message (or audio clip) and print the replies"),
		cmds.WithFlags(
			fields.New("audio", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Send this audio file instead of text")),
		),
		cmds.WithArguments(
			fields.New("text", fields.TypeStringList, fields.WithHelp("Message text")),
		),
		cmds.WithSections(sections...),
	)
	return &SendCommand{CommandDescription: desc, settingsSource: settingsSource{slugs: slugs}}, nil
}

func (c *SendCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	ss := &SendSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, ss); err != nil {
		return errors.Wrap(err, "decode send settings")
	}
	s, err := c.load(parsed)
	if err != nil {
		return err
	}
	return runSend(ctx, s, strings.TrimSpace(strings.Join(ss.Text, " ")), ss.Audio, w)
}

// runSend submits text or the audio file at audioPath and prints the bot
// bubbles it produced. Error bubbles are printed too, then the error is
// returned.
func runSend(ctx context.Context, s *config.Settings, text, audioPath string, out io.Writer) error {
	if text == "" && audioPath == "" {
		return errors.New("nothing to send: pass text or --audio")
	}
	if text != "" && audioPath != "" {
		return errors.New("text and --audio are mutually exclusive")
	}

	var opts []runtimeOption
	if audioPath != "" {
		opts = append(opts, withAudioSource(&audio.FileSource{Path: audioPath}))
	}
	rt, err := newWidgetRuntime(ctx, s, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.run(ctx, func(ctx context.Context) error {
		before := rt.Widget.Conversation().Len()
		var sendErr error
		if audioPath != "" {
			if sendErr = rt.Widget.StartRecording(ctx); sendErr == nil {
				sendErr = rt.Widget.StopRecording(ctx)
			}
		} else {
			sendErr = rt.Widget.SubmitText(ctx, text)
		}

		msgs := rt.Widget.Conversation().Messages()
		for _, m := range msgs[before:] {
			if m.Sender == conversation.SenderBot {
				_, _ = fmt.Fprintln(out, m.Content)
			}
		}
		return sendErr
	})
}
