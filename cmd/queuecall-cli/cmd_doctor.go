package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var agencyID string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and connectivity",
		Long:  "Run diagnostic checks against config, server health, and the staff token",
		RunE: func(cmd *cobra.Command, args []string) error {
			results := runDoctor(agencyID)
			failed := printResults(results)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "Agency ID used to verify the staff token")
	return cmd
}

type checkResult struct {
	Name   string
	Passed bool
	Detail string
	Hint   string
}

func runDoctor(agencyID string) []checkResult {
	var results []checkResult

	if cfgPath, err := configPath(); err == nil {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			results = append(results, checkResult{Name: "Config file", Passed: true, Detail: cfgPath})
		} else {
			// flags and env still work without a file
			results = append(results, checkResult{Name: "Config file", Passed: true, Detail: "not found", Hint: "Run: queuecall init"})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := apiClient.Health(ctx)
	if err != nil {
		return append(results, checkResult{
			Name: "Server reachable", Detail: flagURL,
			Hint: fmt.Sprintf("Is queuecall-server running? Error: %v", err),
		})
	}
	results = append(results, checkResult{
		Name: "Server reachable", Passed: true,
		Detail: fmt.Sprintf("%s (database %s, %d connections)", health.Version, health.Database, health.Connections),
	})

	if ready, err := apiClient.Ready(ctx); err != nil {
		results = append(results, checkResult{Name: "Server ready", Hint: err.Error()})
	} else {
		results = append(results, checkResult{Name: "Server ready", Passed: true, Detail: ready.Status})
	}

	switch {
	case flagToken == "":
		results = append(results, checkResult{
			Name: "Staff token", Passed: true, Detail: "not set",
			Hint: "Needed for console, counters, services, and ticket issue",
		})
	case agencyID == "":
		results = append(results, checkResult{
			Name: "Staff token", Passed: true, Detail: "configured (unverified)",
			Hint: "Pass --agency to verify it",
		})
	default:
		if _, err := apiClient.Agencies.ListServices(ctx, agencyID); err != nil {
			results = append(results, checkResult{Name: "Staff token", Hint: err.Error()})
		} else {
			results = append(results, checkResult{Name: "Staff token", Passed: true, Detail: "valid for " + agencyID})
		}
	}

	return results
}

func printResults(results []checkResult) int {
	failed := 0
	for _, r := range results {
		mark := "ok  "
		if !r.Passed {
			mark = "FAIL"
			failed++
		}
		line := fmt.Sprintf("[%s] %s", mark, r.Name)
		if r.Detail != "" {
			line += ": " + r.Detail
		}
		fmt.Println(line)
		if r.Hint != "" {
			fmt.Printf("       %s\n", r.Hint)
		}
	}
	return failed
}
