// SPDX-License-Identifier: Apache-2.0

package version

// Populated at build time via -ldflags.
var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)
