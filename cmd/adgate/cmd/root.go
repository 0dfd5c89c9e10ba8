// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/liyecom/liye-ai-sub006/cmd/adgate/cmd/approvals"
	"github.com/liyecom/liye-ai-sub006/cmd/adgate/cmd/rollback"
	"github.com/liyecom/liye-ai-sub006/cmd/adgate/cmd/run"
	"github.com/liyecom/liye-ai-sub006/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "adgate",
	Short: "Adgate - Governed Ads Remediation Pipeline",
	Long: `Adgate turns remediation recommendations into governed write executions
against an ads platform. Every write passes eligibility, safety, and
policy gates; runs default to dry-run, and real writes leave receipts
and rollback plans behind.`,
	Version: fmt.Sprintf("%s (commit: %s)", version.Version, version.Commit),
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(getInitCmd())
	rootCmd.AddCommand(run.GetRunCmd())
	rootCmd.AddCommand(approvals.GetApprovalsCmd())
	rootCmd.AddCommand(rollback.GetRollbackCmd())
}
