package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"taskflow/gateway"
)

// promptPassword reads a password, hiding input when attached to a
// terminal. Tests inject a plain-line reader via Config.PasswordInput.
func promptPassword(cfg *Config, stdout io.Writer, label string) (string, error) {
	_, _ = fmt.Fprintf(stdout, "%s: ", label)

	if cfg.PasswordInput != nil {
		return readPasswordLine(cfg.PasswordInput)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readPasswordLine(os.Stdin)
	}

	raw, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(stdout)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

// readPasswordLine reads one line without buffering past it, so the
// confirmation prompt can read the next line from the same reader.
func readPasswordLine(r io.Reader) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				break
			}
			if err == io.EOF {
				return "", fmt.Errorf("no password input received")
			}
			return "", err
		}
	}
	return strings.TrimSpace(string(line)), nil
}

// authUserMessage prefers the friendly message for known auth failures.
func authUserMessage(err error) string {
	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		return authErr.UserMessage()
	}
	return err.Error()
}

// newLoginCmd creates the 'login' subcommand
func newLoginCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in with email and password",
		Long:  "Sign in to the hosted backend. The session token is stored in the system keyring.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			appCfg, err := loadAppConfig(cfg)
			if err != nil {
				return err
			}
			provider := newProvider(cfg, appCfg)

			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password, err = promptPassword(cfg, stdout, "Password")
				if err != nil {
					return err
				}
			}

			if err := provider.SignIn(context.Background(), args[0], password); err != nil {
				return fmt.Errorf("%s", authUserMessage(err))
			}

			user := provider.CurrentUser()
			_, _ = fmt.Fprintf(stdout, "Signed in as %s\n", user.Email)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().String("password", "", "Password (prompted when omitted)")
	return cmd
}

// newSignupCmd creates the 'signup' subcommand
func newSignupCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup [email]",
		Short: "Create a new account",
		Long:  "Create an account on the hosted backend. Depending on project settings,\nemail confirmation may be required before the first sign-in.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			appCfg, err := loadAppConfig(cfg)
			if err != nil {
				return err
			}
			provider := newProvider(cfg, appCfg)

			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password, err = promptPassword(cfg, stdout, "Password")
				if err != nil {
					return err
				}
				confirm, err := promptPassword(cfg, stdout, "Confirm password")
				if err != nil {
					return err
				}
				if password != confirm {
					return fmt.Errorf("passwords do not match")
				}
			}

			if err := provider.SignUp(context.Background(), args[0], password); err != nil {
				return fmt.Errorf("%s", authUserMessage(err))
			}

			if user := provider.CurrentUser(); user != nil {
				_, _ = fmt.Fprintf(stdout, "Account created, signed in as %s\n", user.Email)
			} else {
				_, _ = fmt.Fprintln(stdout, "Account created. Check your email to confirm, then run 'taskflow login'.")
			}
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().String("password", "", "Password (prompted when omitted)")
	return cmd
}

// newLogoutCmd creates the 'logout' subcommand
func newLogoutCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			appCfg, err := loadAppConfig(cfg)
			if err != nil {
				return err
			}
			provider := newProvider(cfg, appCfg)

			if provider.CurrentUser() == nil {
				_, _ = fmt.Fprintln(stdout, "Not signed in.")
				if cfg.NoPrompt {
					_, _ = fmt.Fprintln(stdout, ResultInfoOnly)
				}
				return nil
			}

			if err := provider.SignOut(context.Background()); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(stdout, "Signed out.")
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultActionCompleted)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newWhoamiCmd creates the 'whoami' subcommand
func newWhoamiCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyGlobalFlags(cmd, cfg)

			appCfg, err := loadAppConfig(cfg)
			if err != nil {
				return err
			}
			provider := newProvider(cfg, appCfg)

			user := cfg.User
			if user == nil {
				user = provider.CurrentUser()
			}
			if user == nil {
				return fmt.Errorf("not signed in (run 'taskflow login' first)")
			}

			jsonOutput, _ := cmd.Flags().GetBool("json")
			if jsonOutput {
				return outputUserJSON(user.ID, user.Email, stdout)
			}

			_, _ = fmt.Fprintf(stdout, "%s (%s)\n", user.Email, user.ID)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultInfoOnly)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func outputUserJSON(id, email string, stdout io.Writer) error {
	_, _ = fmt.Fprintf(stdout, "{\"id\":%q,\"email\":%q}\n", id, email)
	return nil
}
