package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/auth"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/config"
)

// keyringService is the service name used in the OS keyring. Entries are
// keyed by username.
const keyringService = "vaultrag"

const envUser = "VAULTRAG_USER"

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// resolveUsername uses --user, then $VAULTRAG_USER, then asks.
func resolveUsername(cmd *cobra.Command) (string, error) {
	username, _ := cmd.Flags().GetString("user")
	if username == "" {
		username = os.Getenv(envUser)
	}
	if username == "" && isTerminal() {
		err := huh.NewInput().
			Title("Username").
			Value(&username).
			Run()
		if err != nil {
			return "", err
		}
	}
	username = auth.NormalizeUsername(username)
	if username == "" {
		return "", errors.New("no user given: pass --user or set " + envUser)
	}
	return username, nil
}

// resolvePassword follows the chain env -> OS keyring -> prompt.
func resolvePassword(username string, logger *slog.Logger) (string, error) {
	if p := os.Getenv(config.EnvPassword); p != "" {
		logger.Debug("password taken from environment")
		return p, nil
	}
	if p, err := keyring.Get(keyringService, username); err == nil && p != "" {
		logger.Debug("password loaded from OS keyring", "user", username)
		return p, nil
	}
	if isTerminal() {
		return readPassword(fmt.Sprintf("Password for %s: ", username))
	}
	return "", fmt.Errorf("no password for %s: set %s or run 'vaultrag remember'", username, config.EnvPassword)
}

// readPassword reads a password without echo.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// promptNewPassword asks twice and requires both entries to match. Without a
// terminal the new password is read from VAULTRAG_NEW_PASSWORD.
func promptNewPassword(prompt string) (string, error) {
	if !isTerminal() {
		if p := os.Getenv(config.EnvNewPassword); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("set %s or run from a terminal to choose a password", config.EnvNewPassword)
	}
	first, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	second, err := readPassword("Confirm: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if first == "" {
		return "", errors.New("password must not be empty")
	}
	return first, nil
}

func rememberPassword(username, password string) error {
	if err := keyring.Set(keyringService, username, password); err != nil {
		return fmt.Errorf("store password in OS keyring: %w", err)
	}
	return nil
}

func forgetPassword(username string) error {
	err := keyring.Delete(keyringService, username)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("remove password from OS keyring: %w", err)
	}
	return nil
}

func hasRememberedPassword(username string) bool {
	_, err := keyring.Get(keyringService, username)
	return err == nil
}
