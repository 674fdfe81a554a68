package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSecretCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage SSH credentials referenced from config",
		Long:  "Store the values behind remote.password_ref and remote.key_passphrase_ref. Secrets go to pass when it is available and to files under secrets.file_root otherwise.",
	}

	cmd.AddCommand(newSecretSetCmd(app), newSecretRemoveCmd(app))

	return cmd
}

func newSecretSetCmd(app *app) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <ref>",
		Short: "Store a secret under ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(value) == "" {
				return errors.New("secret value is empty")
			}
			if err := app.wire(cmd); err != nil {
				return err
			}
			defer app.close()

			if err := app.secretStore.Put(cmd.Context(), args[0], value); err != nil {
				return fmt.Errorf("store secret %q: %w", args[0], err)
			}
			app.logger.Info("secret stored", "ref", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Secret value")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func newSecretRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <ref>",
		Aliases: []string{"remove"},
		Short:   "Remove the secret stored under ref",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.wire(cmd); err != nil {
				return err
			}
			defer app.close()

			if err := app.secretStore.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove secret %q: %w", args[0], err)
			}
			app.logger.Info("secret removed", "ref", args[0])
			return nil
		},
	}
}
