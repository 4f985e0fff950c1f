package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/fakebackend"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
	"github.com/spf13/cobra"
)

func newDevServerCmd() *cobra.Command {
	var (
		addr         string
		secret       string
		tokenTTL     time.Duration
		verification bool
	)
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run an in-memory backend for local development",
		Long: "Serve the call endpoints and the realtime sync socket from memory.\n" +
			"Verification codes are logged instead of emailed. Data is lost on exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := fakebackend.New()
			fakebackend.InstallDevHandlers(b, fakebackend.DevOptions{
				Secret:              secret,
				TokenTTL:            tokenTTL,
				RequireVerification: verification,
			})
			b.SetAutoRefresh(true)

			srv := &http.Server{
				Addr:              addr,
				Handler:           b.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Infof("dev-server: listening on %s", addr)
				errCh <- srv.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Point the client at it with: PROPSYNC_URL=http://%s\n", addr)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			b.DropConnections()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3210", "listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret (a fixed dev secret when empty)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 0, "session token lifetime, 0 for no expiry")
	cmd.Flags().BoolVar(&verification, "require-verification", false, "require email verification on sign-up")
	return cmd
}
