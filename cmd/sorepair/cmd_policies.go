package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/spf13/cobra"
)

func newPoliciesCmd(opts *globalOptions) *cobra.Command {
	var (
		all  bool
		arch string
	)

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the compliance tiers",
		Long: `List the tiers of the active policy table, most portable first.

By default only the tiers usable with the host C library on --arch are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executePolicies(cmd.Context(), opts, cmd.OutOrStdout(), arch, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Show every tier regardless of the host C library")
	cmd.Flags().StringVar(&arch, "arch", "x86_64", "Architecture whose symbol tables are shown")
	return cmd
}

func executePolicies(ctx context.Context, opts *globalOptions, out io.Writer, arch string, all bool) error {
	a, err := newApp(ctx, opts, os.Stderr)
	if err != nil {
		return err
	}

	policies := a.registry.Policies()
	if !all {
		policies = a.registry.ForLibc(a.detectLibc(ctx), arch).Policies()
	}

	fmt.Fprintf(out, "Policies for %s (%d total):\n\n", arch, len(policies))
	for _, p := range policies {
		printPolicy(out, p, arch)
	}
	return nil
}

func printPolicy(w io.Writer, p entities.Policy, arch string) {
	fmt.Fprintf(w, "  %-20s priority %d\n", p.Name, p.Priority)
	if len(p.Aliases) > 0 {
		fmt.Fprintf(w, "  %-20s Aliases: %s\n", "", strings.Join(p.Aliases, ", "))
	}
	if p.IsBaseline() {
		fmt.Fprintln(w)
		return
	}

	fams, ok := p.Families(arch)
	if !ok {
		fmt.Fprintf(w, "  %-20s not available for %s\n\n", "", arch)
		return
	}
	fmt.Fprintf(w, "  %-20s Tag: %s\n", "", p.PlatformTag(arch))

	families := make([]string, 0, len(fams))
	for fam := range fams {
		families = append(families, fam)
	}
	sort.Strings(families)
	for _, fam := range families {
		versions := fams[fam]
		if len(versions) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-20s %s up to %s\n", "", fam, versions[len(versions)-1])
	}
	fmt.Fprintf(w, "  %-20s Libraries: %s\n\n", "", strings.Join(p.LibWhitelist, " "))
}
