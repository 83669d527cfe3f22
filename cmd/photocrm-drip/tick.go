package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tickAt string

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler pass and automation evaluation",
	Long: `Run one scheduler pass now, without the daemon. Use --at to simulate a
pass at another time (RFC 3339).`,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().StringVar(&tickAt, "at", "", "Pass time (RFC 3339), default now")
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, args []string) error {
	now := time.Now()
	if tickAt != "" {
		t, err := time.Parse(time.RFC3339, tickAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		now = t
	}

	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.Tick(cmd.Context(), now)
	if err != nil {
		return err
	}

	fmt.Printf("Pass at %s\n", now.UTC().Format(time.RFC3339))
	fmt.Printf("  Processed: %d\n", res.Processed)
	fmt.Printf("  Sent:      %d\n", res.Sent)
	fmt.Printf("  Completed: %d\n", res.Completed)
	fmt.Printf("  Retried:   %d\n", res.Retried)
	fmt.Printf("  Failed:    %d\n", res.Failed)
	fmt.Printf("  Skipped:   %d\n", res.Skipped)
	for _, e := range res.Errors {
		fmt.Printf("  error: %v\n", e)
	}
	return nil
}
