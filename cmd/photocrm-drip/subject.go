package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <campaign_id> <subject_id>",
	Short: "Enroll a subject into a campaign",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnroll,
}

var unsubscribeSubscription bool

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <subject_id>",
	Short: "Opt a subject out of email and end its subscriptions",
	Long: `Opt a subject out of email and end all of its subscriptions.
With --subscription the argument is a subscription id and only that
subscription is ended.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUnsubscribe,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <subject_id> <trigger_type>",
	Short: "Raise a business trigger such as DEPOSIT_PAID",
	Args:  cobra.ExactArgs(2),
	RunE:  runTrigger,
}

func init() {
	unsubscribeCmd.Flags().BoolVar(&unsubscribeSubscription, "subscription", false, "argument is a subscription id")
	rootCmd.AddCommand(enrollCmd, unsubscribeCmd, triggerCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	repos := application.Repos()
	if _, err := repos.Subjects.Get(cmd.Context(), args[1]); err != nil {
		return err
	}
	sub, err := repos.Subscriptions.Enroll(cmd.Context(), args[0], args[1], time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Enrolled subscription %s\n", sub.ID)
	if sub.NextEmailAt != nil {
		fmt.Printf("  First email due: %s\n", sub.NextEmailAt.Format(time.RFC3339))
	}
	return nil
}

func runUnsubscribe(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	repos := application.Repos()
	if unsubscribeSubscription {
		sub, err := repos.Subscriptions.Terminate(cmd.Context(), args[0], models.EndUnsubscribed, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Subscription %s is %s\n", sub.ID, sub.Status)
		return nil
	}
	if err := repos.Subjects.SetEmailOptOut(cmd.Context(), args[0], true); err != nil {
		return err
	}
	n, err := repos.Subscriptions.UnsubscribeSubject(cmd.Context(), args[0], time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Subject %s opted out, %d subscription(s) ended\n", args[0], n)
	return nil
}

func runTrigger(cmd *cobra.Command, args []string) error {
	switch args[1] {
	case models.TriggerDepositPaid, models.TriggerContractSigned, models.TriggerInvoicePaid, models.TriggerGalleryDelivered:
	default:
		return fmt.Errorf("unknown trigger %q", args[1])
	}

	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.Engine().HandleTrigger(cmd.Context(), args[0], args[1], time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Executed: %d, already executed: %d\n", len(res.Executed), len(res.AlreadyExecuted))
	return nil
}
