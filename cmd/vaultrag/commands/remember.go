package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRememberCmd creates the `vaultrag remember` command.
func newRememberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remember",
		Short: "Store your password in the OS keyring",
		Long: `Verifies the password and stores it in the OS keyring (Keychain, Secret
Service, Credential Manager) so later commands do not prompt.`,
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
			password, err := readPassword(fmt.Sprintf("Password for %s: ", username))
			if err != nil {
				return err
			}
			sess, err := a.auth.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			sess.Clear()

			if err := rememberPassword(username, password); err != nil {
				return err
			}
			fmt.Printf("Password for %s stored in the OS keyring.\n", username)
			return nil
		},
	}
}

// newForgetCmd creates the `vaultrag forget` command.
func newForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Remove your password from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, err := resolveUsername(cmd)
			if err != nil {
				return err
			}
			if err := forgetPassword(username); err != nil {
				return err
			}
			fmt.Printf("Password for %s removed from the OS keyring.\n", username)
			return nil
		},
	}
}
