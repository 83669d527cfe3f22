package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune captured sandbox messages and print ledger counts",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Remove sandbox messages older than this (default: sandbox retention)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	olderThan := cleanupOlderThan
	if olderThan == 0 {
		olderThan = cfg.Transport.Sandbox.Retention
	}

	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()
	ctx := cmd.Context()

	if store := application.Sandbox(); store != nil {
		n, err := store.Clear(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return fmt.Errorf("failed to clear sandbox: %w", err)
		}
		fmt.Printf("Sandbox: removed %d message(s) older than %s\n", n, olderThan)
	}

	repos := application.Repos()
	subs, err := repos.Subscriptions.CountByStatus(ctx)
	if err != nil {
		return err
	}
	deliveries, err := repos.Deliveries.Count(ctx)
	if err != nil {
		return err
	}
	executions, err := repos.Executions.CountByKind(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nSubscriptions:\n")
	statuses := make([]string, 0, len(subs))
	for s := range subs {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-14s %d\n", s, subs[models.SubscriptionStatus(s)])
	}
	fmt.Printf("\nDeliveries: %d\n", deliveries)
	fmt.Printf("\nAutomation executions:\n")
	kinds := make([]string, 0, len(executions))
	for k := range executions {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-14s %d\n", k, executions[models.AutomationKind(k)])
	}
	return nil
}
