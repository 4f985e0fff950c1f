package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pkuntong/highlanderhomes-sub002/internal/config"
	"github.com/pkuntong/highlanderhomes-sub002/internal/version"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
	"github.com/pkuntong/highlanderhomes-sub002/sdk"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

// newRootCmd creates the root propsync command with all subcommands attached.
func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "propsync",
		Short:         "Property-management sync client",
		Long:          "propsync signs in to the property-management backend, issues calls,\nfollows live queries and keeps an offline mirror of your data.",
		Version:       version.RichVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.SetVersionTemplate("propsync {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $PROPSYNC_HOME/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	cmd.AddCommand(
		newSignUpCmd(a),
		newLoginCmd(a),
		newLoginAppleCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newVerifyEmailCmd(a),
		newSendVerificationCmd(a),
		newResetPasswordCmd(a),
		newChangePasswordCmd(a),
		newDeleteAccountCmd(a),
		newOwnerCmd(a),
		newCallCmd(a),
		newSubscribeCmd(a),
		newReloadCmd(a),
		newMirrorCmd(a),
		newDevServerCmd(),
		newVersionCmd(),
	)
	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.Debugf("config: base_url=%s home=%s", cfg.BaseURL, cfg.Home)
	a.cfg = cfg
	return nil
}

// openClient builds a client from the loaded configuration and restores the
// persisted session.
func (a *app) openClient(ctx context.Context, out io.Writer) (*sdk.Client, error) {
	c, err := sdk.NewFromConfig(a.cfg, &printListener{out: out})
	if err != nil {
		return nil, err
	}
	c.Restore(ctx)
	return c, nil
}

// printListener reports connection changes and errors on the command's
// error stream.
type printListener struct {
	out io.Writer
}

func (l *printListener) OnConnected() {
	logger.Debugf("realtime: connected")
}

func (l *printListener) OnDisconnected(reason string) {
	if reason != "" {
		fmt.Fprintf(l.out, "disconnected: %s\n", reason)
	}
}

func (l *printListener) OnSessionChanged(state sdk.SessionState) {
	logger.Debugf("session: authenticated=%v pending=%v", state.Authenticated, state.PendingVerification)
}

func (l *printListener) OnError(message string) {
	fmt.Fprintf(l.out, "error: %s\n", message)
}

// userError rewrites errors raised by the backend contract into the message
// shown to a person. Local errors pass through.
func userError(err error) error {
	if err == nil {
		return nil
	}
	logger.Debugf("command failed: %v", err)

	var (
		serverErr    *wire.ServerError
		httpErr      *wire.HTTPError
		transportErr *wire.TransportError
		decodeErr    *wire.DecodingError
		encodeErr    *wire.EncodingError
	)
	switch {
	case errors.As(err, &serverErr), errors.As(err, &httpErr), errors.As(err, &transportErr),
		errors.As(err, &decodeErr), errors.As(err, &encodeErr),
		errors.Is(err, wire.ErrNotAuthenticated), errors.Is(err, wire.ErrInvalidResponse):
		return errors.New(wire.UserMessage(err))
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "propsync %s\n", version.RichVersion())
			return nil
		},
	}
}
