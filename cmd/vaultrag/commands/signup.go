package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/auth"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/config"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

// newSignupCmd creates the `vaultrag signup` command.
func newSignupCmd() *cobra.Command {
	var remember bool
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a user",
		Long: `Creates a user with a fresh salt. The password never leaves this machine;
it derives the key that encrypts the user's chunks.

Non-interactive use reads the password from $VAULTRAG_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}

			username, _ := cmd.Flags().GetString("user")
			if username == "" {
				username = os.Getenv(envUser)
			}
			var password string

			if isTerminal() {
				if err := signupForm(&username, &password); err != nil {
					return err
				}
			} else {
				password = os.Getenv(config.EnvPassword)
			}
			if username == "" || password == "" {
				return fmt.Errorf("username and password are required (use --user and %s)", config.EnvPassword)
			}

			sess, err := a.auth.Signup(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			defer sess.Clear()

			if _, err := a.router.ResolveStorePath(sess.Username()); err != nil {
				return err
			}
			if remember {
				if err := rememberPassword(sess.Username(), password); err != nil {
					return err
				}
			}
			fmt.Printf("Created user %s\n", sess.Username())
			return nil
		},
	}
	cmd.Flags().BoolVar(&remember, "remember", false, "store the password in the OS keyring")
	return cmd
}

func signupForm(username, password *string) error {
	var confirm string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(username).
				Validate(func(s string) error {
					return tenant.ValidateUsername(auth.NormalizeUsername(s))
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(password).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if *password != confirm {
		return errors.New("passwords do not match")
	}
	return nil
}
