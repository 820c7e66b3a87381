// Package main is the policygate binary. It serves the gateway and can
// dry-run the routing and rule configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "policygate",
		Short: "Request policy gateway",
		Long: `policygate routes API requests to backend handlers after running them
through a prioritized chain of validation, authorization, rate limiting,
transformation and audit rules.

Configuration is read from POLICYGATE_* environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}
