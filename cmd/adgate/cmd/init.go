// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/liyecom/liye-ai-sub006/internal/defaults"
	"github.com/spf13/cobra"
)

func getInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a starter adgate workspace",
		Long: `Init writes a starter policy file and an example run document into the
target directory (default "."). The starter policy keeps every write
gate closed. Existing files are left untouched.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			localOnly, _ := cmd.Flags().GetBool("local-only")
			remoteURL, _ := cmd.Flags().GetString("remote-url")
			verbose, _ := cmd.Flags().GetBool("verbose")

			targetDir := "."
			if len(args) == 1 {
				targetDir = args[0]
			}

			cfg := defaults.NewDefaultsConfig()
			if remoteURL != "" {
				cfg.DefaultsURL = remoteURL
			}
			mgr := defaults.NewManager(cfg)

			if verbose {
				if files, err := mgr.ListEmbeddedFiles(); err == nil {
					fmt.Printf("Embedded starter files: %v\n", files)
				}
			}

			usedRemote, err := mgr.WriteStarter(targetDir, !localOnly)
			if err != nil {
				fmt.Printf("Error initializing workspace: %v\n", err)
				os.Exit(1)
			}

			source := "embedded"
			if usedRemote {
				source = "remote"
			}
			fmt.Printf("Workspace initialized in %s (starter files from %s source)\n", targetDir, source)
			fmt.Println("Review policy.yaml before enabling writes.")
		},
	}

	initCmd.Flags().BoolP("local-only", "l", false, "Use only embedded starter files, don't attempt to fetch latest from remote")
	initCmd.Flags().StringP("remote-url", "r", "", "URL for the remote starter file repository")
	initCmd.Flags().BoolP("verbose", "v", false, "Enable verbose output")

	return initCmd
}
