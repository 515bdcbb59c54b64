package commands

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// newDeleteUserCmd creates the `vaultrag delete-user` command.
func newDeleteUserCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-user",
		Short: "Delete a user and all of their documents",
		Long: `Removes the user's credentials and their whole storage directory. This
cannot be undone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			sess, err := a.login(cmd)
			if err != nil {
				return err
			}
			username := sess.Username()
			sess.Clear()

			if !yes {
				if !isTerminal() {
					return errors.New("refusing to delete without --yes in non-interactive mode")
				}
				confirmed := false
				err := huh.NewConfirm().
					Title(fmt.Sprintf("Delete %s and all of their documents?", username)).
					Affirmative("Delete").
					Negative("Cancel").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			if err := a.router.Remove(username); err != nil {
				return err
			}
			if err := a.auth.Delete(cmd.Context(), username); err != nil {
				return err
			}
			if err := forgetPassword(username); err != nil {
				a.logger.Warn("could not clear keyring entry", "user", username, "error", err)
			}
			fmt.Printf("Deleted user %s.\n", username)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
