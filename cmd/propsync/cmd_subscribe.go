package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/storage"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
	"github.com/pkuntong/highlanderhomes-sub002/sdk"
	"github.com/spf13/cobra"
)

func newSubscribeCmd(a *app) *cobra.Command {
	var (
		pairs    []string
		argsFile string
		mirrorAs string
	)
	cmd := &cobra.Command{
		Use:   "subscribe [path]",
		Short: "Follow a live query and print every result",
		Long: "Subscribe to a query and print each pushed result until interrupted.\n" +
			"Sign-out from another propsync process pauses the output; a later sign-in\n" +
			"subscribes again under the new session.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (mirrorAs != "") {
				return errors.New("give either a query path or --mirror <collection>")
			}
			callArgs, err := parseArgs(argsFile, pairs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := a.openClient(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			var outMu sync.Mutex
			show := func(value json.RawMessage) {
				outMu.Lock()
				defer outMu.Unlock()
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", time.Now().Format(time.RFC3339))
				_ = printJSON(cmd.OutOrStdout(), value)
			}

			q := &liveQuery{
				client:     c,
				path:       firstArg(args),
				args:       callArgs,
				collection: mirrorAs,
				show:       show,
				notice:     cmd.ErrOrStderr(),
			}
			if err := q.start(ctx); err != nil {
				return userError(err)
			}

			go func() {
				err := storage.Watch(ctx, a.cfg.StatePath, func() {
					if err := q.resync(ctx); err != nil {
						logger.Warnf("subscribe: resync session: %v", err)
					}
				})
				if err != nil && ctx.Err() == nil {
					logger.Warnf("subscribe: watch session file: %v", err)
				}
			}()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "argument as key=value (repeatable)")
	cmd.Flags().StringVar(&argsFile, "args-file", "", "YAML or JSON file with the arguments object")
	cmd.Flags().StringVar(&mirrorAs, "mirror", "", "follow a collection's list for the data owner and mirror each push")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// liveQuery is the subscription a subscribe command keeps alive across
// session changes. Signing out drops every subscription, so a later sign-in
// must issue it again, and a collection watch must pick up the new owner.
type liveQuery struct {
	client     *sdk.Client
	path       string
	args       map[string]any
	collection string
	show       func(json.RawMessage)
	notice     io.Writer

	mu    sync.Mutex
	token string
}

// start issues the subscription for the current session.
func (q *liveQuery) start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startLocked(ctx)
}

func (q *liveQuery) startLocked(ctx context.Context) error {
	var err error
	if q.collection != "" {
		err = q.client.WatchCollection(ctx, q.collection, q.show)
	} else {
		err = q.client.Subscribe(ctx, q.path, q.args, q.show)
	}
	if err != nil {
		return err
	}
	q.token = q.client.Session().State().Token
	return nil
}

// resync applies a session change made by another process and, when a new
// session is in place, subscribes again.
func (q *liveQuery) resync(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.client.ResyncSession(ctx); err != nil {
		return err
	}
	if err := q.client.Flush(); err != nil {
		return err
	}

	state := q.client.Session().State()
	if !state.Authenticated {
		if q.token != "" {
			fmt.Fprintln(q.notice, "Signed out; waiting for a new sign-in.")
		}
		q.token = ""
		return nil
	}
	if state.Token == q.token {
		return nil
	}
	fmt.Fprintln(q.notice, "Session changed; subscribing again.")
	return q.startLocked(ctx)
}
