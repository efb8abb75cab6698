package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/persistorai/queuecall/client"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Issue, look up, and rate tickets",
	}
	cmd.AddCommand(ticketIssueCmd())
	cmd.AddCommand(ticketGetCmd())
	cmd.AddCommand(ticketRateCmd())
	return cmd
}

func ticketTable(t *client.Ticket) tableFunc {
	return func() ([]string, [][]string) {
		counter := t.CounterID
		if counter == "" {
			counter = "-"
		}
		return []string{"ID", "NUMBER", "SERVICE", "STATUS", "AHEAD", "COUNTER"}, [][]string{{
			t.ID,
			strconv.Itoa(t.QueueNumber),
			t.ServiceID,
			t.Status,
			strconv.Itoa(t.WaitingAhead),
			counter,
		}}
	}
}

func ticketIssueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issue <agency-id> <service-id>",
		Short: "Take the next number for a service",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			t, err := apiClient.Tickets.Issue(context.Background(), args[0], args[1])
			if err != nil {
				fatal("issue ticket", err)
			}
			output(cmd.OutOrStdout(), t, strconv.Itoa(t.QueueNumber), ticketTable(t))
		},
	}
}

func ticketGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <ticket-id>",
		Short: "Show a ticket and its place in line",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			t, err := apiClient.Tickets.Get(context.Background(), args[0])
			if err != nil {
				fatal("get ticket", err)
			}
			output(cmd.OutOrStdout(), t, t.Status, ticketTable(t))
		},
	}
}

func ticketRateCmd() *cobra.Command {
	var (
		score   int
		comment string
	)
	cmd := &cobra.Command{
		Use:   "rate <ticket-id>",
		Short: "Rate a served ticket from 1 to 5",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if score < 1 || score > 5 {
				return fmt.Errorf("--score must be between 1 and 5")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			req := &client.RatingRequest{Score: score, Comment: comment}
			if err := apiClient.Tickets.Rate(context.Background(), args[0], req); err != nil {
				fatal("rate ticket", err)
			}
			output(cmd.OutOrStdout(), map[string]any{"ticket_id": args[0], "score": score, "accepted": true}, args[0], nil)
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "Score from 1 to 5 (required)")
	cmd.Flags().StringVar(&comment, "comment", "", "Optional comment")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}
