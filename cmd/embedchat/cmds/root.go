package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/spf13/cobra"
)

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Inspect the transcript archive",
}

func AddToRootCommand(root *cobra.Command) {
	chatCmd, err := NewChatCommand()
	cobra.CheckErr(err)
	sendCmd, err := NewSendCommand()
	cobra.CheckErr(err)
	serveCmd, err := NewServeCommand()
	cobra.CheckErr(err)
	listCmd, err := NewTranscriptsListCommand()
	cobra.CheckErr(err)
	showCmd, err := NewTranscriptsShowCommand()
	cobra.CheckErr(err)

	cobraChatCmd, err := cli.BuildCobraCommand(chatCmd, cli.WithCobraMiddlewaresFunc(chatCmd.middlewares))
	cobra.CheckErr(err)
	cobraSendCmd, err := cli.BuildCobraCommand(sendCmd, cli.WithCobraMiddlewaresFunc(sendCmd.middlewares))
	cobra.CheckErr(err)
	cobraServeCmd, err := cli.BuildCobraCommand(serveCmd, cli.WithCobraMiddlewaresFunc(serveCmd.middlewares))
	cobra.CheckErr(err)
	cobraListCmd, err := cli.BuildCobraCommand(listCmd, cli.WithCobraMiddlewaresFunc(listCmd.middlewares))
	cobra.CheckErr(err)
	cobraShowCmd, err := cli.BuildCobraCommand(showCmd, cli.WithCobraMiddlewaresFunc(showCmd.middlewares))
	cobra.CheckErr(err)

	transcriptsCmd.AddCommand(cobraListCmd, cobraShowCmd)
	root.AddCommand(cobraChatCmd, cobraSendCmd, cobraServeCmd, transcriptsCmd)
}
