// SPDX-License-Identifier: Apache-2.0

package approvals

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/liyecom/liye-ai-sub006/internal/approval"
	"github.com/liyecom/liye-ai-sub006/internal/pipeline"
	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and decide approval requests",
	Long: `Commands for listing, inspecting, and deciding the approval requests
raised by proposals whose execution mode requires a human reviewer.`,
}

func GetApprovalsCmd() *cobra.Command {
	return approvalsCmd
}

func init() {
	approvalsCmd.AddCommand(getListCmd())
	approvalsCmd.AddCommand(getShowCmd())
	approvalsCmd.AddCommand(getApproveCmd())
	approvalsCmd.AddCommand(getRejectCmd())
}

// openMachine resolves the approval database from the policy and wraps it
// in the state machine. The caller owns closing the returned store.
func openMachine(policyPath string) (*approval.Machine, *approval.SQLiteStore, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pol := pipeline.LoadPolicy(policyPath, logger)

	store, err := approval.Open(pol.Approvals.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening approval store: %w", err)
	}
	return approval.NewMachine(store), store, nil
}
