package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/embedchat/pkg/audio"
	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/go-go-golems/embedchat/pkg/events"
	"github.com/go-go-golems/embedchat/pkg/ui/runtime"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const linePrinterHandlerName = "line-printer"

type ChatCommand struct {
	*cmds.CommandDescription
	settingsSource
}

var _ cmds.WriterCommand = (*ChatCommand)(nil)

type ChatSettings struct {
	Line bool `glazed:"line"`
}

func NewChatCommand() (*ChatCommand, error) {
	slugs := []string{config.WidgetSlug, config.TranscriptSlug, config.RedisSlug}
	sections, err := buildSections(slugs...)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"chat",
		cmds.WithShort("Open the chat widget in the terminal"),
		cmds.WithLong("Opens the chat widget. On a terminal this is a full-screen UI; "+
			"otherwise lines are read from stdin and replies are printed to stdout."),
		cmds.WithFlags(
			fields.New("line", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Force line mode even on a terminal")),
		),
		cmds.WithSections(sections...),
	)
	return &ChatCommand{CommandDescription: desc, settingsSource: settingsSource{slugs: slugs}}, nil
}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	cs := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, cs); err != nil {
		return errors.Wrap(err, "decode chat settings")
	}
	s, err := c.load(parsed)
	if err != nil {
		return err
	}
	lineMode := cs.Line || !isTerminal(os.Stdout)
	if !lineMode && c.flagString("log-file") == "" {
		// the UI owns the screen
		log.Logger = log.Output(io.Discard)
	}

	rt, err := newWidgetRuntime(ctx, s)
	if err != nil {
		return err
	}
	defer rt.Close()

	if lineMode {
		var in io.Reader = os.Stdin
		if c.cmd != nil {
			in = c.cmd.InOrStdin()
		}
		return runLineMode(ctx, rt, in, w)
	}
	return runTUI(ctx, rt)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func runTUI(ctx context.Context, rt *widgetRuntime) error {
	_, program, err := runtime.NewChatBuilder().
		WithContext(ctx).
		WithWidget(rt.Widget).
		WithRouter(rt.Router).
		WithTray(rt.Tray).
		WithTitle(rt.Settings.Title, rt.Settings.Description).
		WithProgramOptions(tea.WithAltScreen(), tea.WithContext(ctx)).
		BuildProgram()
	if err != nil {
		return err
	}

	return rt.run(ctx, func(ctx context.Context) error {
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// linePrinter prints the bot bubbles of convID and ignores other widgets
// sharing the transport.
func linePrinter(convID string, w io.Writer) func(*message.Message) error {
	return events.ForConversation(convID, stepLinePrinterFunc(w))
}

// stepLinePrinterFunc prints bot bubbles as they are appended.
func stepLinePrinterFunc(w io.Writer) func(*message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()
		e, err := events.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("Failed to parse widget event")
			return nil
		}
		switch {
		case e.Type == conversation.EventMessageAppended && e.Message != nil && e.Message.Sender == conversation.SenderBot:
			_, _ = fmt.Fprintf(w, "bot> %s\n", e.Message.Content)
		case e.Type == conversation.EventRecording && e.Recording:
			_, _ = fmt.Fprintln(w, "-- grabando, línea vacía para enviar --")
		}
		return nil
	}
}

func runLineMode(ctx context.Context, rt *widgetRuntime, in io.Reader, out io.Writer) error {
	if err := rt.Router.AddHandler(ctx, linePrinterHandlerName, events.Topic, linePrinter(rt.Widget.Conversation().ID(), out)); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s: %s\n", rt.Settings.Title, rt.Settings.Description)

	return rt.run(ctx, func(ctx context.Context) error {
		// the greeting was published before the printer subscribed
		for _, m := range rt.Widget.Conversation().Messages() {
			_, _ = fmt.Fprintf(out, "bot> %s\n", m.Content)
		}

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				select {
				case lines <- sc.Text():
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if err := handleLine(ctx, rt, strings.TrimSpace(line)); err != nil {
					log.Debug().Err(err).Msg("line mode action")
				}
			}
		}
	})
}

// handleLine understands /rec, /audio <file>, /attach <file> and plain text.
// An empty line stops an ongoing recording.
func handleLine(ctx context.Context, rt *widgetRuntime, line string) error {
	w := rt.Widget
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch {
	case line == "" && w.Recording():
		return w.StopRecording(ctx)
	case cmd == "/rec":
		return w.StartRecording(ctx)
	case cmd == "/audio":
		return sendAudioFile(ctx, rt.Widget, arg)
	case cmd == "/attach" && rt.Tray != nil:
		fd, err := rt.Tray.Add(arg)
		if err != nil {
			return err
		}
		log.Info().Str("name", fd.Name).Str("mime", fd.MimeType).Int64("size", fd.Size).Msg("attached")
		return nil
	default:
		return w.SubmitText(ctx, line)
	}
}

// sendAudioFile records path through a one-off recorder and submits it.
func sendAudioFile(ctx context.Context, w *conversation.Widget, path string) error {
	if path == "" {
		return errors.New("audio path is empty")
	}
	rec := audio.NewRecorder(&audio.FileSource{Path: path})
	if err := rec.Start(ctx); err != nil {
		return err
	}
	clip, err := rec.Stop()
	if err != nil {
		return err
	}
	return w.SubmitAudio(ctx, clip)
}
