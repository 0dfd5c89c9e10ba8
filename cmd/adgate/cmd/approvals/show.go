// SPDX-License-Identifier: Apache-2.0

package approvals

import (
	"fmt"
	"os"

	"github.com/liyecom/liye-ai-sub006/internal/core/format"
	"github.com/spf13/cobra"
)

func getShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show [approval-id]",
		Short: "Show one approval record in full",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			policyPath, _ := cmd.Flags().GetString("policy")

			machine, store, err := openMachine(policyPath)
			if err != nil {
				fmt.Printf("Error opening approvals: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			rec, found, err := machine.Get(cmd.Context(), args[0])
			if err != nil {
				fmt.Printf("Error reading approval: %v\n", err)
				os.Exit(1)
			}
			if !found {
				fmt.Printf("Error: approval %q not found\n", args[0])
				os.Exit(1)
			}

			out, err := format.FormatData(rec, true)
			if err != nil {
				fmt.Printf("Error formatting approval: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(out)
		},
	}

	showCmd.Flags().String("policy", "policy.yaml", "Path to the policy file")

	return showCmd
}
