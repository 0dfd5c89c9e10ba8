// SPDX-License-Identifier: Apache-2.0

package run

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/liyecom/liye-ai-sub006/internal/adsapi"
	"github.com/liyecom/liye-ai-sub006/internal/approval"
	"github.com/liyecom/liye-ai-sub006/internal/pipeline"
	"github.com/liyecom/liye-ai-sub006/internal/receipt"
	"github.com/liyecom/liye-ai-sub006/internal/safety"
	"github.com/spf13/cobra"
)

// GetRunCmd returns the command that executes a remediation run.
func GetRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the recommendations of a remediation run",
		Long: `Run loads a recommendation document, evaluates each recommendation
against the active policy, and executes the resulting plans. Without
--no-dry-run every write is previewed and nothing reaches the ad
platform.`,
		Run: func(cmd *cobra.Command, args []string) {
			runID, _ := cmd.Flags().GetString("run-id")
			recIndex, _ := cmd.Flags().GetInt("rec-index")
			noDryRun, _ := cmd.Flags().GetBool("no-dry-run")
			runsDir, _ := cmd.Flags().GetString("runs-dir")
			policyPath, _ := cmd.Flags().GetString("policy")
			outDir, _ := cmd.Flags().GetString("out")
			verbose, _ := cmd.Flags().GetBool("verbose")

			logger := newLogger(verbose)
			pol := pipeline.LoadPolicy(policyPath, logger)

			doc, err := pipeline.LoadRun(runsDir, runID)
			if err != nil {
				fmt.Printf("Error loading run: %v\n", err)
				os.Exit(1)
			}

			store, err := approval.Open(pol.Approvals.DBPath)
			if err != nil {
				fmt.Printf("Error opening approval store: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			counters, err := safety.NewCounterStore(pol.Counters)
			if err != nil {
				fmt.Printf("Error configuring counter store: %v\n", err)
				os.Exit(1)
			}

			// A missing endpoint leaves the caller nil so real-write mode
			// fails closed inside the pipeline instead of dialing nowhere.
			var caller adsapi.Caller
			if noDryRun && pol.Remote.Endpoint != "" {
				caller = adsapi.NewClient(pol.Remote)
			}

			p, err := pipeline.New(pipeline.Config{
				Policy:    pol,
				Approvals: store,
				Attempts:  store,
				Counters:  counters,
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

			report, err := p.Run(cmd.Context(), doc, pipeline.RunOptions{
				RecIndex:  recIndex,
				RealWrite: noDryRun,
				OutDir:    outDir,
			})
			if err != nil {
				fmt.Printf("Error executing run: %v\n", err)
				os.Exit(1)
			}

			printReport(report)
			if report.Failed() {
				os.Exit(1)
			}
		},
	}

	runCmd.Flags().String("run-id", "", "Identifier of the run document to execute")
	runCmd.Flags().Int("rec-index", -1, "Execute only the recommendation at this index (default: all)")
	runCmd.Flags().Bool("no-dry-run", false, "Perform real writes instead of previewing them")
	runCmd.Flags().String("runs-dir", "runs", "Directory holding run documents")
	runCmd.Flags().String("policy", "policy.yaml", "Path to the policy file")
	runCmd.Flags().String("out", "out", "Directory for run artifacts (result and rollback plans)")
	runCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")
	runCmd.MarkFlagRequired("run-id")

	return runCmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printReport(report pipeline.RunReport) {
	fmt.Printf("Run %s finished in %s mode (policy %s)\n", report.RunID, report.Mode, shortID(report.PolicyID))
	for _, out := range report.Outcomes {
		actionID := "unknown"
		if out.Proposal != nil {
			actionID = out.Proposal.ActionID
		}
		fmt.Printf("[%d] %s: %s\n", out.Index, actionID, out.Disposition)
		if out.Reason != "" {
			fmt.Printf("    %s\n", out.Reason)
		}
		if out.Error != "" {
			fmt.Printf("    error: %s\n", out.Error)
		}
		if out.Execution != nil {
			s := out.Execution.Summary
			fmt.Printf("    actions: %d executed, %d simulated, %d blocked, %d failed\n",
				s.Executed, s.Simulated, s.Blocked, s.Failed)
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
