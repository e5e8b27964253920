package cmds

import (
	"github.com/go-go-golems/embedchat/pkg/config"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/spf13/cobra"
)

var sectionBuilders = map[string]func() (schema.Section, error){
	config.WidgetSlug:     config.NewWidgetSection,
	config.TranscriptSlug: config.NewTranscriptSection,
	config.RedisSlug:      config.NewRedisSection,
	config.ServerSlug:     config.NewServerSection,
}

func buildSections(slugs ...string) ([]schema.Section, error) {
	ret := make([]schema.Section, 0, len(slugs))
	for _, slug := range slugs {
		s, err := sectionBuilders[slug]()
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

// settingsSource remembers the cobra command glazed parsed so the config
// file can be found and only explicit flags override it.
type settingsSource struct {
	slugs []string
	cmd   *cobra.Command
}

func (s *settingsSource) middlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	s.cmd = cmd
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("EMBEDCHAT",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func (s *settingsSource) changed(name string) bool {
	if s.cmd == nil {
		return false
	}
	f := s.cmd.Flags()
	return f.Lookup(name) != nil && f.Changed(name)
}

func (s *settingsSource) flagString(name string) string {
	if s.cmd == nil {
		return ""
	}
	v, _ := s.cmd.Flags().GetString(name)
	return v
}

func (s *settingsSource) load(parsed *values.Values) (*config.Settings, error) {
	o, err := config.DecodeOverrides(parsed, s.slugs...)
	if err != nil {
		return nil, err
	}
	return loadSettings(s.flagString("config"), o, s.changed)
}
