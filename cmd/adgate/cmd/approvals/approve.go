// SPDX-License-Identifier: Apache-2.0

package approvals

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func getApproveCmd() *cobra.Command {
	approveCmd := &cobra.Command{
		Use:   "approve [approval-id]",
		Short: "Approve a submitted request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			comment, _ := cmd.Flags().GetString("comment")
			policyPath, _ := cmd.Flags().GetString("policy")

			machine, store, err := openMachine(policyPath)
			if err != nil {
				fmt.Printf("Error opening approvals: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			rec, err := machine.Approve(cmd.Context(), args[0], reviewer, comment)
			if err != nil {
				fmt.Printf("Error approving request: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Approval %s is now %s (reviewer: %s)\n", rec.ID, rec.Status, rec.Reviewer)
		},
	}

	approveCmd.Flags().String("reviewer", "", "Identity of the reviewer making the decision")
	approveCmd.Flags().String("comment", "", "Optional comment recorded with the decision")
	approveCmd.Flags().String("policy", "policy.yaml", "Path to the policy file")
	approveCmd.MarkFlagRequired("reviewer")

	return approveCmd
}
