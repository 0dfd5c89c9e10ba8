// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/liyecom/liye-ai-sub006/internal/adsapi"
	"github.com/liyecom/liye-ai-sub006/internal/approval"
	"github.com/liyecom/liye-ai-sub006/internal/core/format"
	"github.com/liyecom/liye-ai-sub006/internal/pipeline"
	"github.com/liyecom/liye-ai-sub006/internal/receipt"
	rb "github.com/liyecom/liye-ai-sub006/internal/rollback"
	"github.com/spf13/cobra"
)

// GetRollbackCmd returns the command that executes a saved rollback plan.
func GetRollbackCmd() *cobra.Command {
	rollbackCmd := &cobra.Command{
		Use:   "rollback [plan-file]",
		Short: "Execute a rollback plan emitted by a real-write run",
		Long: `Rollback replays the inverse actions recorded alongside a real-write
run. Inverse writes pass the same write gate as forward writes, and
actions past their expiry window are rejected. Without --no-dry-run
the rollback is previewed and nothing reaches the ad platform.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			noDryRun, _ := cmd.Flags().GetBool("no-dry-run")
			policyPath, _ := cmd.Flags().GetString("policy")
			verbose, _ := cmd.Flags().GetBool("verbose")

			logger := newLogger(verbose)
			pol := pipeline.LoadPolicy(policyPath, logger)

			var plan rb.Plan
			if err := format.ParseFile(args[0], &plan); err != nil {
				fmt.Printf("Error loading rollback plan: %v\n", err)
				os.Exit(1)
			}

			var caller adsapi.Caller
			if noDryRun && pol.Remote.Endpoint != "" {
				caller = adsapi.NewClient(pol.Remote)
			}

			p, err := pipeline.New(pipeline.Config{
				Policy: pol,
				// Rollback never consults approval state; the in-memory
				// store satisfies the required wiring without touching
				// the approval database.
				Approvals: approval.NewMemoryStore(),
				Caller:    caller,
				Receipts:  receipt.NewLogger(pol.Receipts.Path),
				Logger:    logger,
			})
			if err != nil {
				fmt.Printf("Error building pipeline: %v\n", err)
				os.Exit(1)
			}

			if !noDryRun {
				fmt.Println("Running in dry-run mode - no writes will reach the ad platform")
			}

			report, err := p.ExecuteRollback(cmd.Context(), plan, noDryRun)
			if err != nil {
				fmt.Printf("Error executing rollback: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Rollback for run %s (%s mode): %d reverted, %d blocked, %d failed\n",
				report.RunID, report.Mode, report.Reverted, report.Blocked, report.Failed)
			for _, out := range report.Outcomes {
				fmt.Printf("[%s] %s: %s\n", out.OriginalActionID, out.Tool, out.Status)
				if out.Reason != "" {
					fmt.Printf("    %s\n", out.Reason)
				}
				if out.Error != "" {
					fmt.Printf("    error: %s\n", out.Error)
				}
			}
			if report.Failed > 0 {
				os.Exit(1)
			}
		},
	}

	rollbackCmd.Flags().Bool("no-dry-run", false, "Perform real inverse writes instead of previewing them")
	rollbackCmd.Flags().String("policy", "policy.yaml", "Path to the policy file")
	rollbackCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")

	return rollbackCmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
