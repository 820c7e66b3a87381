package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/carepoint/policygate/internal/audit"
	"github.com/carepoint/policygate/internal/cache"
	"github.com/carepoint/policygate/internal/config"
	"github.com/carepoint/policygate/internal/gateway"
	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/logger"
	"github.com/carepoint/policygate/internal/ruleengine"
)

// knownHandlers are the handler names serve registers.
var knownHandlers = []string{"auth", "patients"}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compile the route and rule files and print a summary",
		Long: `check loads the route table and compiles every rule exactly as serve would,
without connecting to any backend. It exits non-zero on the first error.

File locations default to POLICYGATE_GATEWAY_ROUTES_FILE and
POLICYGATE_GATEWAY_RULES_FILE; flags override them.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}

	cmd.Flags().String("routes", "", "Path to the routes file")
	cmd.Flags().String("rules", "", "Path to the rules file")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	var gw config.GatewayConfig
	if err := envconfig.Process(config.EnvPrefix+"_GATEWAY", &gw); err != nil {
		return fmt.Errorf("failed to read gateway configuration: %w", err)
	}

	routesFile, err := cmd.Flags().GetString("routes")
	if err != nil {
		return fmt.Errorf("failed to get routes flag: %w", err)
	}
	rulesFile, err := cmd.Flags().GetString("rules")
	if err != nil {
		return fmt.Errorf("failed to get rules flag: %w", err)
	}
	if routesFile == "" {
		routesFile = gw.RoutesFile
	}
	if rulesFile == "" {
		rulesFile = gw.RulesFile
	}

	log := logger.Discard()

	routes, err := gateway.LoadRoutes(routesFile, log)
	if err != nil {
		return err
	}

	// Compilation needs collaborators but never calls them.
	counters, err := cache.NewMemoryCounterStore(1)
	if err != nil {
		return err
	}
	defer counters.Close()

	rules, err := ruleengine.LoadFile(rulesFile, ruleengine.Deps{
		Resolver:  identity.NewJWTResolver("check", "", 0, nil),
		Counters:  counters,
		AuditSink: audit.NewLogSink(log),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	return printSummary(cmd.OutOrStdout(), routes, rules)
}

func printSummary(out io.Writer, routes *gateway.RouteTable, rules []ruleengine.Rule) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "ROUTES (%d)\n", routes.Len())
	for _, r := range routes.Routes() {
		note := ""
		if !handledBy(r.Endpoint, knownHandlers) {
			note = "no handler"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Path, r.Endpoint, note)
	}

	byType := map[ruleengine.RuleType]int{}
	for _, r := range rules {
		byType[r.Config().Type]++
	}

	fmt.Fprintf(tw, "\nRULES (%d)\n", len(rules))
	for _, t := range slices.Sorted(maps.Keys(byType)) {
		fmt.Fprintf(tw, "  %s\t%d\n", t, byType[t])
	}

	return tw.Flush()
}

func handledBy(endpoint string, names []string) bool {
	return slices.ContainsFunc(names, func(n string) bool {
		return strings.HasPrefix(endpoint, n+".")
	})
}
