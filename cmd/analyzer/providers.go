package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/repo-analyzer/analyzer/internal/providers"
	"github.com/repo-analyzer/analyzer/pkg/types"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and test configured AI providers",
	}
	cmd.PersistentFlags().Bool("json", false, "Print JSON instead of a table")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered providers and their status",
		Args:  cobra.NoArgs,
		RunE:  runProvidersList,
	})

	test := &cobra.Command{
		Use:   "test [name]",
		Short: "Run a connectivity probe against one or all providers",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProvidersTest,
	}
	test.Flags().Bool("all", false, "Test every registered provider")
	cmd.AddCommand(test)

	cmd.AddCommand(&cobra.Command{
		Use:   "models <name>",
		Short: "List the models a provider hosts",
		Args:  cobra.ExactArgs(1),
		RunE:  runProvidersModels,
	})

	return cmd
}

func runProvidersList(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	infos := a.registry.AllProviderInfo()
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), infos)
	}

	def := a.registry.DefaultProviderName()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tNAME\tMODEL\tCONFIGURED\tSTATUS")
	for _, info := range infos {
		id := info.ID
		if id == def {
			id += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", id, info.Name, info.Model, info.Configured, info.Status)
	}
	return w.Flush()
}

func runProvidersTest(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) == 1) {
		return fmt.Errorf("pass a provider name or --all")
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	var names []string
	if all {
		a.registry.TestAllProviders(ctx)
		names = a.registry.ProviderNames()
	} else {
		if !a.registry.IsRegistered(args[0]) {
			return fmt.Errorf("provider %q %w", args[0], providers.ErrNotRegistered)
		}
		a.registry.TestProvider(ctx, args[0])
		names = []string{strings.ToLower(args[0])}
	}
	sort.Strings(names)

	statuses := make(map[string]types.ProviderStatus, len(names))
	failed := 0
	for _, name := range names {
		st, _ := a.registry.ProviderStatus(name)
		statuses[name] = st
		if st.Status != types.StatusActive {
			failed++
		}
	}

	if asJSON(cmd) {
		if err := writeJSON(cmd.OutOrStdout(), statuses); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tSTATUS\tRESPONSE\tERROR")
		for _, name := range names {
			st := statuses[name]
			response := "-"
			if st.HealthCheck != nil {
				response = fmt.Sprintf("%dms", st.HealthCheck.ResponseTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, st.Status, response, st.ErrorMessage)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d provider(s) failed", failed, len(names))
	}
	return nil
}

func runProvidersModels(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	models, err := a.registry.FetchProviderModels(commandContext(cmd), args[0], "")
	if err != nil {
		return err
	}

	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), models)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCONTEXT\tPOPULAR")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", m.ID, m.Name, m.ContextLength, m.Popular)
	}
	return w.Flush()
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
