package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/leadmail/internal/lead"
)

var (
	sendLeadIDs []string
	sendSearch  string
	sendFrom    string
)

var sendCmd = &cobra.Command{
	Use:   "send <template>",
	Short: "Send a template to leads",
	Long: `Render the template for every selected lead and deliver it. Without
--lead all leads (optionally filtered by --search) are addressed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringArrayVar(&sendLeadIDs, "lead", nil, "Lead ID (repeatable)")
	sendCmd.Flags().StringVar(&sendSearch, "search", "", "Filter leads by email or field value")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "Sender address (default: delivery.from)")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	from := sendFrom
	if from == "" {
		from = application.Config().Delivery.From
	}
	if from == "" {
		return fmt.Errorf("sender is required (use --from or delivery.from)")
	}

	ctx := cmd.Context()
	tmpl, err := findTemplate(ctx, application, args[0])
	if err != nil {
		return err
	}

	var leads []*lead.Lead
	if len(sendLeadIDs) == 0 {
		leads, err = application.Leads().List(ctx, lead.ListFilter{Search: sendSearch})
		if err != nil {
			return fmt.Errorf("failed to list leads: %w", err)
		}
	} else {
		for _, id := range sendLeadIDs {
			l, err := application.Leads().Get(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get lead: %w", err)
			}
			if l == nil {
				return fmt.Errorf("lead not found: %s", id)
			}
			leads = append(leads, l)
		}
	}
	if len(leads) == 0 {
		return fmt.Errorf("no leads selected")
	}

	results, err := application.Dispatcher().SendTemplate(ctx, tmpl, leads, from)

	sent := 0
	for _, r := range results {
		if r.OK() {
			sent++
			continue
		}
		fmt.Printf("  ! %s: %s\n", r.Email, r.Error)
	}
	fmt.Printf("Sent %d of %d messages\n", sent, len(results))

	if err != nil {
		return fmt.Errorf("delivery interrupted: %w", err)
	}
	if sent < len(results) {
		return fmt.Errorf("%d deliveries failed", len(results)-sent)
	}
	return nil
}
