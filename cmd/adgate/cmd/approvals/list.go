// SPDX-License-Identifier: Apache-2.0

package approvals

import (
	"fmt"
	"os"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/spf13/cobra"
)

func getListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List approval records",
		Run: func(cmd *cobra.Command, args []string) {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			policyPath, _ := cmd.Flags().GetString("policy")

			machine, store, err := openMachine(policyPath)
			if err != nil {
				fmt.Printf("Error opening approvals: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			records, err := machine.List(cmd.Context(), models.ApprovalStatus(status), limit)
			if err != nil {
				fmt.Printf("Error listing approvals: %v\n", err)
				os.Exit(1)
			}

			if len(records) == 0 {
				fmt.Println("No approval records found")
				return
			}
			for _, rec := range records {
				fmt.Printf("%s  %-9s  %s  %s\n", rec.ID, rec.Status, rec.ActionID, rec.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	listCmd.Flags().String("status", "", "Filter by status (DRAFT, SUBMITTED, APPROVED, REJECTED, EXECUTED)")
	listCmd.Flags().Int("limit", 20, "Maximum number of records to show (0 for all)")
	listCmd.Flags().String("policy", "policy.yaml", "Path to the policy file")

	return listCmd
}
