// SPDX-License-Identifier: Apache-2.0

package approvals

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func getRejectCmd() *cobra.Command {
	rejectCmd := &cobra.Command{
		Use:   "reject [approval-id]",
		Short: "Reject a submitted request",
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

			rec, err := machine.Reject(cmd.Context(), args[0], reviewer, comment)
			if err != nil {
				fmt.Printf("Error rejecting request: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Approval %s is now %s (reviewer: %s)\n", rec.ID, rec.Status, rec.Reviewer)
		},
	}

	rejectCmd.Flags().String("reviewer", "", "Identity of the reviewer making the decision")
	rejectCmd.Flags().String("comment", "", "Optional comment recorded with the decision")
	rejectCmd.Flags().String("policy", "policy.yaml", "Path to the policy file")
	rejectCmd.MarkFlagRequired("reviewer")

	return rejectCmd
}
