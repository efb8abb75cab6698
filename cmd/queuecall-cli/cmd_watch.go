package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/queuecall/client"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// joinFunc attaches a fresh socket to the watched screen.
type joinFunc func(ctx context.Context, s *client.Socket) (*client.Envelope, error)

func newWatchCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a display screen and print its frames",
	}
	cmd.PersistentFlags().BoolVar(&once, "once", false, "Exit instead of reconnecting when the connection ends")

	screen := func(use, short string, join func(id string) joinFunc) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
				defer stop()
				return watchLoop(ctx, join(args[0]), cmd.OutOrStdout(), once)
			},
		}
	}

	cmd.AddCommand(screen("counter <counter-id>", "Counter status display", func(id string) joinFunc {
		return func(ctx context.Context, s *client.Socket) (*client.Envelope, error) {
			return s.JoinCounterStatus(ctx, id)
		}
	}))
	cmd.AddCommand(screen("lobby <agency-id>", "Agency lobby display", func(id string) joinFunc {
		return func(ctx context.Context, s *client.Socket) (*client.Envelope, error) {
			return s.JoinLobby(ctx, id)
		}
	}))
	cmd.AddCommand(screen("feedback <counter-id>", "Counter feedback display", func(id string) joinFunc {
		return func(ctx context.Context, s *client.Socket) (*client.Envelope, error) {
			return s.JoinFeedback(ctx, id)
		}
	}))
	return cmd
}

// errShutdown marks a server-initiated drain.
var errShutdown = errors.New("server shutting down")

// watchLoop joins and prints frames, rejoining with backoff after the
// connection drops. Join rejections are not retried.
func watchLoop(ctx context.Context, join joinFunc, out io.Writer, once bool) error {
	backoff := initialBackoff
	for {
		joined, err := watchOnce(ctx, join, out)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, client.ErrRejected) {
			return err
		}
		if once {
			if errors.Is(err, errShutdown) {
				return nil
			}
			return err
		}
		if joined {
			backoff = initialBackoff
		}

		fmt.Fprintf(os.Stderr, "connection lost (%v), reconnecting in %s\n", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func watchOnce(ctx context.Context, join joinFunc, out io.Writer) (bool, error) {
	sock, err := apiClient.Dial(ctx)
	if err != nil {
		return false, err
	}
	defer sock.Close() //nolint:errcheck // reconnect path

	snap, err := join(ctx, sock)
	if snap != nil {
		printFrame(out, snap)
	}
	if err != nil {
		return false, err
	}

	for {
		env, err := sock.Next(ctx)
		if err != nil {
			return true, err
		}
		printFrame(out, env)
		if env.Kind == "shutdown" {
			return true, errShutdown
		}
	}
}
