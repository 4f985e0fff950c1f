package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkuntong/highlanderhomes-sub002/internal/session"
	"github.com/pkuntong/highlanderhomes-sub002/sdk"
	"github.com/spf13/cobra"
)

// readSecret returns value, or reads one line from in when value is empty.
func readSecret(cmd *cobra.Command, prompt, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	if v := os.Getenv("PROPSYNC_PASSWORD"); v != "" {
		return v, nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(prompt))
	}
	return line, nil
}

// withClient opens a client for the duration of fn.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *sdk.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := a.openClient(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return userError(fn(ctx, c))
}

func printUser(w io.Writer, u *session.User) {
	if u == nil {
		fmt.Fprintln(w, "Not signed in")
		return
	}
	name := u.Name
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(w, "%s <%s>\n  id:        %s\n  verified:  %v\n", name, u.Email, u.ID, u.EmailVerified)
	if !u.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  created:   %s\n", u.CreatedAt.Format("2006-01-02"))
	}
}

func newSignUpCmd(a *app) *cobra.Command {
	var password, name string
	cmd := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, "Password", password)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				res, err := c.Session().SignUp(ctx, session.SignUpArgs{Email: args[0], Password: pw, Name: name})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.VerificationSent {
					fmt.Fprintf(out, "Verification code sent to %s. Run: propsync verify-email %s <code>\n", args[0], args[0])
					return nil
				}
				fmt.Fprintln(out, "Signed up and signed in.")
				printUser(out, c.Session().State().User)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in with email and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, "Password", password)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				if err := c.Session().SignIn(ctx, session.SignInArgs{Email: args[0], Password: pw}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
				printUser(cmd.OutOrStdout(), c.Session().State().User)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	return cmd
}

func newLoginAppleCmd(a *app) *cobra.Command {
	var fullName, email string
	cmd := &cobra.Command{
		Use:   "login-apple <identity-token>",
		Short: "Sign in with an Apple identity token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				err := c.Session().SignInWithApple(ctx, session.AppleSignInArgs{
					IdentityToken: args[0],
					FullName:      fullName,
					Email:         email,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
				printUser(cmd.OutOrStdout(), c.Session().State().User)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fullName, "name", "", "full name shared on first sign-in")
	cmd.Flags().StringVar(&email, "email", "", "email shared on first sign-in")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(_ context.Context, c *sdk.Client) error {
				if err := c.Session().SignOut(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			})
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(_ context.Context, c *sdk.Client) error {
				state := c.Session().State()
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(state.User)
				}
				printUser(out, state.User)
				if owner := c.Session().DataOwnerID(); state.User != nil && owner != state.User.ID {
					fmt.Fprintf(out, "  acting as: %s\n", owner)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the account as JSON")
	return cmd
}

func newVerifyEmailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <email> <code>",
		Short: "Confirm an email address and sign in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				if err := c.Session().VerifyEmail(ctx, session.VerifyEmailArgs{Email: args[0], Code: args[1]}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Email verified. Signed in.")
				return nil
			})
		},
	}
}

func newSendVerificationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send-verification <email>",
		Short: "Send a new verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				if err := c.Session().SendVerificationEmail(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Verification code sent to %s.\n", args[0])
				return nil
			})
		},
	}
}

func newResetPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Request a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				if err := c.Session().ResetPassword(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "If %s has an account, a reset email is on its way.\n", args[0])
				return nil
			})
		},
	}
}

func newChangePasswordCmd(a *app) *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the signed-in account's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if current == "" || next == "" {
				return errors.New("--current and --new are required")
			}
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				if err := c.Session().ChangePassword(ctx, current, next); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password changed.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current password")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	return cmd
}

func newDeleteAccountCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Permanently delete the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete the account without --yes")
			}
			return a.withClient(cmd, func(ctx context.Context, c *sdk.Client) error {
				if err := c.Session().DeleteAccount(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Account deleted.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newOwnerCmd(a *app) *cobra.Command {
	var clearOverride bool
	cmd := &cobra.Command{
		Use:   "owner [user-id]",
		Short: "Show or set whose data calls operate on",
		Long:  "With no argument, print the data owner. With an id, act on that account's data.\n--clear returns to the signed-in account.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(_ context.Context, c *sdk.Client) error {
				switch {
				case clearOverride:
					if err := c.Session().SetDataOwnerOverride(""); err != nil {
						return err
					}
				case len(args) == 1:
					if err := c.Session().SetDataOwnerOverride(args[0]); err != nil {
						return err
					}
				}
				owner, err := c.Session().RequireDataOwnerID()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), owner)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearOverride, "clear", false, "remove the override")
	return cmd
}
