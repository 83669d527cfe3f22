package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thephotocrm/thephotocrm-sub005/internal/campaign"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

var (
	campaignListTenant string
	campaignListStatus string
	campaignListAll    bool
	campaignListLimit  int

	genTenant  string
	genName    string
	genStage   string
	genCount   int
	genCadence int
	genTone    string
	genNotes   string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show a campaign with its emails and delivery stats",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Draft a campaign with AI-written emails",
	RunE:  runCampaignGenerate,
}

func transitionCmd(use, short string, op func(*campaign.Service, context.Context, string) (*models.Campaign, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <campaign_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			c, err := op(application.Campaigns(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Campaign %s is %s\n", c.ID, c.Status)
			return nil
		},
	}
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListTenant, "tenant", "", "Filter by tenant")
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (DRAFT, APPROVED, ACTIVE, PAUSED)")
	campaignListCmd.Flags().BoolVar(&campaignListAll, "all", false, "Include superseded versions")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns to show")

	campaignGenerateCmd.Flags().StringVar(&genTenant, "tenant", "", "Tenant id (required)")
	campaignGenerateCmd.Flags().StringVar(&genName, "name", "", "Campaign name (required)")
	campaignGenerateCmd.Flags().StringVar(&genStage, "stage", "", "Target stage id (required)")
	campaignGenerateCmd.Flags().IntVar(&genCount, "emails", 5, "Number of emails")
	campaignGenerateCmd.Flags().IntVar(&genCadence, "cadence", 7, "Days between emails")
	campaignGenerateCmd.Flags().StringVar(&genTone, "tone", "", "Writing tone")
	campaignGenerateCmd.Flags().StringVar(&genNotes, "notes", "", "Extra guidance for the writer")
	campaignGenerateCmd.MarkFlagRequired("tenant")
	campaignGenerateCmd.MarkFlagRequired("name")
	campaignGenerateCmd.MarkFlagRequired("stage")

	campaignCmd.AddCommand(
		campaignListCmd,
		campaignShowCmd,
		campaignGenerateCmd,
		transitionCmd("approve", "Approve a draft campaign", (*campaign.Service).Approve),
		transitionCmd("activate", "Activate an approved campaign", (*campaign.Service).Activate),
		transitionCmd("pause", "Pause an active campaign", (*campaign.Service).Pause),
		transitionCmd("resume", "Resume a paused campaign", (*campaign.Service).Resume),
	)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	campaigns, err := application.Campaigns().List(cmd.Context(), models.CampaignListFilter{
		TenantID:    campaignListTenant,
		Status:      models.CampaignStatus(campaignListStatus),
		CurrentOnly: !campaignListAll,
		Limit:       campaignListLimit,
	})
	if err != nil {
		return err
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTENANT\tSTAGE\tSTATUS\tVERSION\tORIGIN\tNAME")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID, c.TenantID, c.TargetStageID, c.Status, c.Version, c.ContentOrigin, c.Name)
	}
	return w.Flush()
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	detail, err := application.Campaigns().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	stats, err := application.Campaigns().Stats(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	subs, err := application.Repos().Subscriptions.ListByCampaign(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	c := detail.Campaign
	fmt.Printf("Campaign:  %s\n", c.ID)
	fmt.Printf("Name:      %s\n", c.Name)
	fmt.Printf("Tenant:    %s\n", c.TenantID)
	fmt.Printf("Stage:     %s\n", c.TargetStageID)
	fmt.Printf("Status:    %s\n", c.Status)
	fmt.Printf("Version:   %d (current: %v)\n", c.Version, c.IsCurrentVersion)
	fmt.Printf("Cadence:   %d days (about %d weeks)\n", c.CadenceDays, c.CadenceWeeks())
	if c.MaxDurationDays > 0 {
		fmt.Printf("Max days:  %d\n", c.MaxDurationDays)
	}

	fmt.Printf("\nEmails:\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tDAY\tAPPROVAL\tSUBJECT")
	for _, e := range detail.Emails {
		fmt.Fprintf(w, "  %d\t%d\t%s\t%s\n", e.SequenceIndex, e.DaysAfterStart, e.ApprovalStatus, e.Subject)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nSubscriptions (this version): %s\n", subscriptionCounts(subs))
	fmt.Printf("\nDeliveries (all versions):\n")
	fmt.Printf("  Total: %d  Pending: %d  Sent: %d  Delivered: %d\n", stats.Total, stats.Pending, stats.Sent, stats.Delivered)
	fmt.Printf("  Bounced: %d  Failed: %d  Opened: %d  Clicked: %d\n", stats.Bounced, stats.Failed, stats.Opened, stats.Clicked)
	return nil
}

// subscriptionCounts renders per-status counts, e.g. "ACTIVE=2 COMPLETED=1"
func subscriptionCounts(subs []models.Subscription) string {
	if len(subs) == 0 {
		return "none"
	}
	counts := make(map[string]int)
	for _, sub := range subs {
		counts[string(sub.Status)]++
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = fmt.Sprintf("%s=%d", s, counts[s])
	}
	return strings.Join(parts, " ")
}

func runCampaignGenerate(cmd *cobra.Command, args []string) error {
	application, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer application.Close()

	c, created, err := application.Campaigns().Generate(cmd.Context(), campaign.GenerateInput{
		TenantID:      genTenant,
		Name:          genName,
		TargetStageID: genStage,
		CadenceDays:   genCadence,
		EmailCount:    genCount,
		Tone:          genTone,
		Notes:         genNotes,
	})
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("A draft already exists for stage %s: %s\n", genStage, c.ID)
		return nil
	}

	fmt.Printf("Drafted campaign %s\n", c.ID)
	fmt.Printf("Review the emails with: photocrm-drip campaign show %s\n", c.ID)
	return nil
}
