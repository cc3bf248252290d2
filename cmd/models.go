package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newModelsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models aider can be driven with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, model := range domain.Models() {
				marker := " "
				if model == app.cfg.Model {
					marker = "*"
				}
				family := domain.FamilyFor(model)
				if _, err := fmt.Fprintf(out, "%s %-28s %s (%s)\n", marker, model, family.EnvVar, family.Credential); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newResolveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Find the aider command and print how it will be launched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := app.resolver.Resolve(cmd.Context())
			if err != nil {
				return withHint(cmd, err)
			}

			argv := append([]string{inv.Candidate.Program}, inv.Argv()...)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "candidate: %s\nargv: %s\n", inv.Candidate, strings.Join(argv, " "))
			return err
		},
	}
}
