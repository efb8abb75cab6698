package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/persistorai/queuecall/client"
)

func newCountersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counters <agency-id>",
		Short: "List an agency's counters and what they are serving",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			counters, err := apiClient.Agencies.ListCounters(context.Background(), args[0])
			if err != nil {
				fatal("list counters", err)
			}
			ids := make([]string, len(counters))
			for i, c := range counters {
				ids[i] = c.ID
			}
			output(cmd.OutOrStdout(), counters, strings.Join(ids, "\n"), func() ([]string, [][]string) {
				return counterTable(counters)
			})
		},
	}
}

func counterTable(counters []client.Counter) ([]string, [][]string) {
	rows := make([][]string, 0, len(counters))
	for _, c := range counters {
		staff := c.StaffName
		if staff == "" {
			staff = "-"
		}
		rows = append(rows, []string{
			c.ID,
			c.Name,
			strings.Join(c.AssignedServiceIDs, ","),
			staff,
			strconv.Itoa(c.TotalServed),
		})
	}
	return []string{"ID", "NAME", "SERVICES", "STAFF", "SERVED"}, rows
}

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services <agency-id>",
		Short: "List an agency's services",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			services, err := apiClient.Agencies.ListServices(context.Background(), args[0])
			if err != nil {
				fatal("list services", err)
			}
			ids := make([]string, len(services))
			rows := make([][]string, len(services))
			for i, s := range services {
				ids[i] = s.ID
				rows[i] = []string{s.ID, s.Name}
			}
			output(cmd.OutOrStdout(), services, strings.Join(ids, "\n"), func() ([]string, [][]string) {
				return []string{"ID", "NAME"}, rows
			})
		},
	}
}
