package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/queuecall/client"
)

// replyWait bounds how long the console waits for outstanding replies once
// input ends.
const replyWait = 5 * time.Second

var consoleActions = map[string]string{
	"call":   client.ActionCall,
	"next":   client.ActionCall,
	"recall": client.ActionRecall,
	"done":   client.ActionDone,
	"missed": client.ActionMissed,
	"leave":  client.ActionLeaveCounter,
}

// parseConsoleCommand maps one input line to a console action. quit is
// reported as an empty action.
func parseConsoleCommand(line string) (string, error) {
	word := strings.ToLower(strings.TrimSpace(line))
	switch word {
	case "quit", "exit":
		return "", nil
	}
	if a, ok := consoleActions[word]; ok {
		return a, nil
	}
	return "", fmt.Errorf("unknown command %q (call, recall, done, missed, leave, quit)", word)
}

func newConsoleCmd() *cobra.Command {
	var services []string
	cmd := &cobra.Command{
		Use:   "console <counter-id>",
		Short: "Run a staff console on a counter",
		Long: "Joins a counter as its staff console and reads commands from stdin, one per line:\n" +
			"call, recall, done, missed, leave, quit. Replies and updates are printed as they arrive.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagToken == "" {
				return errors.New("a staff token is required (--token or QUEUECALL_TOKEN)")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			sock, err := apiClient.Dial(ctx)
			if err != nil {
				return err
			}
			defer sock.Close() //nolint:errcheck // exit path

			return runConsole(ctx, sock, args[0], services, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&services, "service", nil, "Limit calls to these service IDs (repeatable)")
	return cmd
}

func runConsole(ctx context.Context, sock *client.Socket, counterID string, services []string, in io.Reader, out io.Writer) error {
	snap, err := sock.JoinCallScreen(ctx, flagToken, counterID, services...)
	if snap != nil {
		printFrame(out, snap)
	}
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		pending = map[string]bool{}
		idle    = make(chan struct{}, 1)
	)

	readErr := make(chan error, 1)
	go func() {
		for {
			env, err := sock.Next(ctx)
			if err != nil {
				readErr <- err
				return
			}
			printFrame(out, env)

			mu.Lock()
			if pending[env.Ref] {
				delete(pending, env.Ref)
				if len(pending) == 0 {
					select {
					case idle <- struct{}{}:
					default:
					}
				}
			}
			mu.Unlock()

			if env.Status == "logout" {
				readErr <- fmt.Errorf("logged out: %s", env.Message)
				return
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		action, err := parseConsoleCommand(scanner.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if action == "" {
			break
		}

		// Hold the lock across Send so a fast reply cannot arrive before
		// its ref is recorded.
		mu.Lock()
		ref, err := sock.Send(ctx, client.EventActionCall, &client.CallAction{
			CounterID:  counterID,
			ServiceIDs: services,
			Action:     action,
		})
		if err == nil {
			pending[ref] = true
		}
		mu.Unlock()
		if err != nil {
			return err
		}

		select {
		case err := <-readErr:
			return err
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	deadline := time.After(replyWait)
	for {
		mu.Lock()
		outstanding := len(pending)
		mu.Unlock()
		if outstanding == 0 {
			return nil
		}

		select {
		case <-idle:
		case err := <-readErr:
			return err
		case <-deadline:
			return fmt.Errorf("timed out waiting for %d replies", outstanding)
		case <-ctx.Done():
			return nil
		}
	}
}
