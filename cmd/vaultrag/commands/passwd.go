package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newPasswdCmd creates the `vaultrag passwd` command.
func newPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password and re-encrypt your store",
		Long: `Changes the password and salt, re-encrypting every stored chunk under the
new key in one transaction. If re-encryption fails the old password stays valid.

Without a terminal the current password comes from VAULTRAG_PASSWORD and the
new one from VAULTRAG_NEW_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			username, err := resolveUsername(cmd)
			if err != nil {
				return err
			}
			oldPassword, err := resolvePassword(username, a.logger)
			if err != nil {
				return err
			}
			newPassword, err := promptNewPassword("New password: ")
			if err != nil {
				return err
			}
			if newPassword == oldPassword {
				return errors.New("the new password must differ from the current one")
			}

			if err := a.auth.ChangePassword(cmd.Context(), username, oldPassword, newPassword, a.rag.Rekey); err != nil {
				return err
			}
			if hasRememberedPassword(username) {
				if err := rememberPassword(username, newPassword); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed.")
			return nil
		},
	}
}
