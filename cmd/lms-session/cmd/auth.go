package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/projectm/lms-session/internal/service"
)

var (
	authEmail    string
	authPassword string
	authFullName string
	authRole     string
	whoamiOutput string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session tokens",
	Long: `Sign in to the LMS with email and password.

The access and refresh tokens are written to the configured store. The
password is taken from --password, then LMS_SESSION_PASSWORD, then read
from standard input.

Examples:
  lms-session login --email ada@example.com
  echo "$PASS" | lms-session login --email ada@example.com`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Long: `Create an LMS account and sign in with it.

Examples:
  lms-session register --email ada@example.com --name "Ada Lovelace"
  lms-session register --email grace@example.com --name "Grace Hopper" --role instructor`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	Long:  `Remove the stored tokens, activity timestamp and live class flag.`,
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Request a password reset",
	Long: `Ask the auth service to start a password reset for an account.

No session is needed and a stored one is left as it is.

Examples:
  lms-session reset-password --email ada@example.com`,
	Args: cobra.NoArgs,
	RunE: runResetPassword,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email")
		c.Flags().StringVar(&authPassword, "password", "", "Account password (prefer stdin or LMS_SESSION_PASSWORD)")
		_ = c.MarkFlagRequired("email")
	}
	registerCmd.Flags().StringVar(&authFullName, "name", "", "Full name")
	registerCmd.Flags().StringVar(&authRole, "role", "", "Role: student, instructor or admin (server default: student)")
	_ = registerCmd.MarkFlagRequired("name")
	resetPasswordCmd.Flags().StringVar(&authEmail, "email", "", "Account email")
	_ = resetPasswordCmd.MarkFlagRequired("email")
	addOutputFlag(whoamiCmd, &whoamiOutput)

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, resetPasswordCmd)
}

// resolvePassword returns the password from the flag, the environment or
// the first line of in.
func resolvePassword(flagValue string, in io.Reader, prompt io.Writer) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("LMS_SESSION_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(prompt, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := resolvePassword(authPassword, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		user, err := a.svc.Login(ctx, service.LoginRequest{Email: authEmail, Password: password})
		if err != nil {
			return err
		}
		printSignedIn(cmd, user)
		return nil
	})
}

func runRegister(cmd *cobra.Command, args []string) error {
	password, err := resolvePassword(authPassword, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		user, err := a.svc.Register(ctx, service.RegisterRequest{
			Email:    authEmail,
			Password: password,
			FullName: authFullName,
			Role:     authRole,
		})
		if err != nil {
			return err
		}
		printSignedIn(cmd, user)
		return nil
	})
}

func printSignedIn(cmd *cobra.Command, user *service.User) {
	if user == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s> (%s)\n", user.FullName, user.Email, user.Role)
}

func runLogout(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		if err := a.svc.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	})
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		msg, err := a.svc.ResetPassword(ctx, service.ResetPasswordRequest{Email: authEmail})
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "Password reset requested."
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	})
}

func runWhoami(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		user, err := a.svc.Me(ctx)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), whoamiOutput, user)
	})
}

// withApp builds the app, runs fn and releases the app.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
