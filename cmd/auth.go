package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/aider-chat-cli/internal/adapters/auth"
	"github.com/bnema/aider-chat-cli/internal/adapters/render/chat"
	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newAuthCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage managed-model tokens and provider API keys",
	}

	cmd.AddCommand(
		newAuthSetCmd(app),
		newAuthSetKeyCmd(app),
		newAuthStatusCmd(app),
		newAuthRefreshCmd(app),
		newAuthLogoutCmd(app),
	)

	return cmd
}

func newAuthSetCmd(app *app) *cobra.Command {
	var accessToken string
	var refreshToken string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the managed-model tokens",
		Long:  "Store the tokens issued after signing in at " + domain.SignInURL,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds := domain.Credentials{
				AccessToken:  strings.TrimSpace(accessToken),
				RefreshToken: strings.TrimSpace(refreshToken),
			}
			if creds.AccessToken == "" {
				return errors.New("access token is empty")
			}
			if exp, ok := auth.TokenExpiry(creds.AccessToken); ok {
				creds.ExpiresAt = exp
			}
			if err := app.store.Save(cmd.Context(), creds); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "credentials stored, expires %s\n", chat.Expiry(creds.ExpiresAt, app.now()))
			return err
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token")
	_ = cmd.MarkFlagRequired("access-token")

	return cmd
}

func newAuthSetKeyCmd(app *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "set-key <model>",
		Short: "Store the API key used for a model family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			family := domain.FamilyFor(args[0])
			if family.Credential != domain.CredentialAPIKey {
				return fmt.Errorf("model %q uses the managed token; run `ac auth set` instead", args[0])
			}
			if err := app.secrets.Put(cmd.Context(), apiKeyRef(family), strings.TrimSpace(key)); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s key stored for the %s family\n", family.EnvVar, family.Name)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "API key value")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func newAuthStatusCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			creds, err := app.credentials.Load(ctx)
			if err != nil {
				return err
			}

			status := "signed in"
			if !creds.HasAccessToken() {
				status = "not signed in, sign in at " + domain.SignInURL
			} else if creds.ExpiringWithin(app.now(), 0) {
				status = "token expired"
			}
			refresh := "missing"
			if creds.RefreshToken != "" {
				refresh = "stored"
			}

			fields := []chat.Field{
				{Key: "managed", Value: status},
				{Key: "expires", Value: chat.Expiry(creds.ExpiresAt, app.now())},
				{Key: "refresh token", Value: refresh},
			}
			for _, model := range domain.Models() {
				family := domain.FamilyFor(model)
				if family.Credential != domain.CredentialAPIKey {
					continue
				}
				state, err := apiKeyState(cmd, app, family)
				if err != nil {
					return err
				}
				fields = append(fields, chat.Field{Key: family.Name + " key", Value: state})
			}

			return chat.New(cmd.OutOrStdout()).Fields("Credentials", fields)
		},
	}
}

func apiKeyState(cmd *cobra.Command, app *app, family domain.ModelFamily) (string, error) {
	_, err := app.secrets.Get(cmd.Context(), apiKeyRef(family))
	switch {
	case err == nil:
		return "stored", nil
	case !errors.Is(err, domain.ErrSecretNotFound):
		return "", err
	case os.Getenv(family.EnvVar) != "":
		return "from " + family.EnvVar, nil
	default:
		return "missing", nil
	}
}

func newAuthRefreshCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.credentials.Refresh(cmd.Context()); err != nil {
				return withHint(cmd, err)
			}

			creds := app.credentials.Credentials()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "access token refreshed, expires %s\n", chat.Expiry(creds.ExpiresAt, app.now()))
			return err
		},
	}
}

func newAuthLogoutCmd(app *app) *cobra.Command {
	var keys bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored managed-model tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := app.store.Clear(ctx); err != nil {
				return err
			}
			app.credentials.Clear()

			if keys {
				for _, model := range domain.Models() {
					family := domain.FamilyFor(model)
					if family.Credential != domain.CredentialAPIKey {
						continue
					}
					if err := app.secrets.Delete(ctx, apiKeyRef(family)); err != nil {
						return err
					}
				}
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		},
	}

	cmd.Flags().BoolVar(&keys, "keys", false, "Also remove stored API keys")

	return cmd
}
