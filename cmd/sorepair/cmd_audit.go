package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/services"
	"github.com/spf13/cobra"
)

func newAuditCmd(opts *globalOptions) *cobra.Command {
	var plat string

	cmd := &cobra.Command{
		Use:   "audit FILE|DIR...",
		Short: "Report the compliance tier of ELF binaries",
		Long: `Classify each binary against the tiers available for the host C library.

For every file the highest tier it satisfies as-is is printed, together with
the tier bundling would reach and the external libraries that would be
bundled. A directory stands for every shared object under it. With --plat the named tier is checked instead: the command fails
unless the binary satisfies it or only needs its libraries bundled.`,
		Example: `  sorepair audit build/libfoo.so
  sorepair audit --plat manylinux2014 build/libfoo.so build/libbar.so`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeAudit(cmd.Context(), opts, cmd.OutOrStdout(), args, plat)
		},
	}
	cmd.Flags().StringVar(&plat, "plat", "", "Tier (name or alias) the binaries must reach")
	return cmd
}

// auditResult is what audit reports for one file
type auditResult struct {
	Path       string
	Arch       string
	Assessment *services.Assessment
	Libraries  []entities.ExternalLibrary
	ResolveErr error
}

func executeAudit(ctx context.Context, opts *globalOptions, out io.Writer, args []string, plat string) error {
	a, err := newApp(ctx, opts, os.Stderr)
	if err != nil {
		return err
	}
	files, err := a.targets(args)
	if err != nil {
		return err
	}

	// Layer 1: gateways
	resolver := a.resolver(a.inspector)

	// Layer 2: classification for the host C library
	classifier := a.classifier(ctx)
	if plat != "" {
		if _, ok := a.registry.Find(plat); !ok {
			return &entities.PolicyError{Requested: plat, Achieved: a.registry.Baseline().Name, Reason: "unknown policy"}
		}
	}

	var failed []string
	for _, file := range files {
		img, err := a.inspector.Inspect(file)
		if err != nil {
			return err
		}
		res := &auditResult{Path: file, Arch: img.Arch, Assessment: classifier.Assess(img, nil)}

		// The closure is resolved against the tier the libraries would be bundled for
		if whitelist, ok := auditWhitelist(res.Assessment, plat); ok {
			res.Libraries, res.ResolveErr = resolver.ResolveClosure(ctx, img, whitelist)
		}

		printAudit(out, res, plat)
		if plat != "" && !platReachable(res.Assessment, plat) {
			failed = append(failed, file)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("policy %s is not reachable for %s", plat, strings.Join(failed, ", "))
	}
	return nil
}

// auditWhitelist picks the whitelist of the tier the closure is listed for
func auditWhitelist(a *services.Assessment, plat string) ([]string, bool) {
	if plat != "" {
		v, ok := a.Verdict(plat)
		if !ok {
			return nil, false
		}
		return v.Policy.LibWhitelist, true
	}
	if a.RepairTarget != nil {
		return a.RepairTarget.LibWhitelist, true
	}
	if !a.Strict.IsBaseline() {
		return a.Strict.LibWhitelist, true
	}
	return nil, false
}

// platReachable reports whether plat is satisfied or only needs bundling
func platReachable(a *services.Assessment, plat string) bool {
	v, ok := a.Verdict(plat)
	return ok && (v.Satisfied() || v.OnlyForbiddenLibraries())
}

func printAudit(w io.Writer, res *auditResult, plat string) {
	a := res.Assessment
	fmt.Fprintf(w, "%s (%s)\n", res.Path, res.Arch)
	fmt.Fprintf(w, "  Tier:        %s\n", a.Strict.Name)
	fmt.Fprintf(w, "  Platform:    %s\n", a.Strict.PlatformTag(res.Arch))
	if a.NeedsRepair() {
		fmt.Fprintf(w, "  Repairable:  %s\n", a.RepairTarget.PlatformTag(res.Arch))
	}

	if plat != "" {
		v, ok := a.Verdict(plat)
		switch {
		case !ok:
			fmt.Fprintf(w, "  %s: not available for this C library and architecture\n", plat)
		case v.Satisfied():
			fmt.Fprintf(w, "  ✅ %s: satisfied\n", plat)
		case v.OnlyForbiddenLibraries():
			fmt.Fprintf(w, "  🔧 %s: reachable by bundling %s\n", plat, strings.Join(v.ForbiddenLibraries, ", "))
		default:
			fmt.Fprintf(w, "  ❌ %s: %s\n", plat, v.Reason())
		}
	} else {
		for _, v := range a.Verdicts {
			if v.Satisfied() || v.Policy.Priority <= a.Strict.Priority {
				continue
			}
			fmt.Fprintf(w, "  %-14s %s\n", v.Policy.Name+":", v.Reason())
		}
	}

	if res.ResolveErr != nil {
		fmt.Fprintf(w, "  ⚠️  %v\n", res.ResolveErr)
	}
	if len(res.Libraries) > 0 {
		fmt.Fprintf(w, "  External libraries (%d):\n", len(res.Libraries))
		for _, lib := range res.Libraries {
			fmt.Fprintf(w, "    %-24s %s\n", lib.Name, lib.Path)
		}
	}
	fmt.Fprintln(w)
}
