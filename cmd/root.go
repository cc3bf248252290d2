package cmd

import (
	"fmt"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	app := &app{}

	rootCmd := &cobra.Command{
		Use:   "ac",
		Short: "Aider chat (ac): drive aider as a streaming chat backend",
		Long: "ac (aider chat) runs aider as a child process, streams its replies turn by turn, " +
			"and manages the credentials and environment it needs.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.wire(*opts, cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.aider-chat/config.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newModelsCmd(app),
		newResolveCmd(app),
		newAskCmd(app),
		newChatCmd(app),
		newAuthCmd(app),
		newConfigCmd(app),
	)

	return rootCmd
}

// withHint prints the actionable hint for err, if any, before cobra reports
// the error itself.
func withHint(cmd *cobra.Command, err error) error {
	if hint := domain.Hint(err); hint != "" {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "hint: "+hint)
	}
	return err
}
