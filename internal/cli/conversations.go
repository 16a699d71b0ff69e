package cli

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/inbox/internal/service"
)

var (
	conversationsWaID   string
	conversationsOutput string
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Print conversations or one conversation's history",
	Long: `Print the conversation list from the configured repository, newest first.
With --wa-id, print that counterparty's messages oldest first instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(conversationsOutput, outputJSON, outputYAML, outputTable); err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger, appOptions{withoutBus: true})
		if err != nil {
			return err
		}
		defer a.Close()

		svc := service.NewInboxService(a.repo, a.engine)

		w := cmd.OutOrStdout()
		if conversationsWaID != "" {
			history, err := svc.ListMessages(cmd.Context(), conversationsWaID)
			if err != nil {
				return err
			}
			if conversationsOutput == outputTable {
				historyTable(history).render(w)
				return nil
			}
			return render(w, conversationsOutput, history)
		}

		convs, err := svc.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		if conversationsOutput == outputTable {
			conversationTable(convs).render(w)
			return nil
		}
		return render(w, conversationsOutput, convs)
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.Flags().StringVar(&conversationsWaID, "wa-id", "", "show the history of this counterparty")
	conversationsCmd.Flags().StringVarP(&conversationsOutput, "output", "o", "json", "output format: json, yaml, table")
}
