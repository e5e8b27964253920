package cmds

import (
	"context"
	"io"

	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/embedchat/pkg/webchat"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
)

type ServeCommand struct {
	*cmds.CommandDescription
	settingsSource
}

var _ cmds.WriterCommand = (*ServeCommand)(nil)

func NewServeCommand() (*ServeCommand, error) {
	slugs := []string{config.WidgetSlug, config.TranscriptSlug, config.RedisSlug, config.ServerSlug}
	sections, err := buildSections(slugs...)
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Serve the widget to a browser host over HTTP and websockets"),
		cmds.WithSections(sections...),
	)
	return &ServeCommand{CommandDescription: desc, settingsSource: settingsSource{slugs: slugs}}, nil
}

func (c *ServeCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, _ io.Writer) error {
	s, err := c.load(parsed)
	if err != nil {
		return err
	}
	rt, err := newWidgetRuntime(ctx, s)
	if err != nil {
		return err
	}
	defer rt.Close()

	var opts []webchat.ServerOption
	if rt.Tray != nil {
		opts = append(opts, webchat.WithTray(rt.Tray))
	}
	srv, err := webchat.NewServer(ctx, s.Server.Addr, rt.Widget, webchat.WidgetInfo{
		Title:       s.Title,
		Description: s.Description,
		Uploads:     s.Uploads,
	}, opts...)
	if err != nil {
		return err
	}
	if err := srv.Register(ctx, rt.Router); err != nil {
		return err
	}

	return rt.run(ctx, func(ctx context.Context) error {
		return srv.Run(ctx)
	})
}
