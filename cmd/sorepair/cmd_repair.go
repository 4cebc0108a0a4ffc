package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ochairo/sorepair/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/sorepair/internal/domain-orchestrators"
	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	ports "github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type repairOptions struct {
	outputDir  string
	plat       string
	archiveDir string
	sbom       bool
	jsonOutput string
	dryRun     bool
}

func newRepairCmd(opts *globalOptions) *cobra.Command {
	ro := &repairOptions{}

	cmd := &cobra.Command{
		Use:   "repair FILE|DIR...",
		Short: "Bundle external libraries next to copies of ELF binaries",
		Long: `Copy each binary and the non-system libraries it depends on into the
output directory, then rewrite the copies so they load each other from there.
Inputs are never modified.

A directory stands for every shared object under it. With one target the repair is written directly into --out. With several, each
binary gets its own subdirectory and the repairs run in parallel (jobs from
the config file or SOREPAIR_JOBS).`,
		Example: `  sorepair repair --out dist build/libfoo.so
  sorepair repair --out dist --plat manylinux2014 --sbom --archive dist build/libfoo.so
  sorepair repair --out dist --dry-run build/libfoo.so`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRepair(cmd.Context(), opts, ro, cmd.OutOrStdout(), args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&ro.outputDir, "out", "o", "", "Output directory (required)")
	flags.StringVar(&ro.plat, "plat", "", "Tier (name or alias) the result must satisfy")
	flags.StringVar(&ro.archiveDir, "archive", "", "Also write a tar.gz of each repair into this directory")
	flags.BoolVar(&ro.sbom, "sbom", false, "Write a CycloneDX SBOM of the bundled libraries")
	flags.StringVar(&ro.jsonOutput, "json-output", "", "Write a JSON report of every repair to this file")
	flags.BoolVar(&ro.dryRun, "dry-run", false, "Print the patchelf commands without running them")
	//nolint:errcheck // The flag is defined above
	cmd.MarkFlagRequired("out")
	return cmd
}

func executeRepair(ctx context.Context, opts *globalOptions, ro *repairOptions, out io.Writer, args []string) error {
	a, err := newApp(ctx, opts, os.Stderr)
	if err != nil {
		return err
	}
	targets, err := a.targets(args)
	if err != nil {
		return err
	}

	// Layer 1: gateways. A dry run records patch calls instead of running
	// patchelf and works in a scratch directory.
	var (
		patcher   ports.BinaryPatcher
		inspector ports.BinaryInspector = a.inspector
		recorder  *gateways.RecordingPatcher
		outputDir = ro.outputDir
	)
	if ro.dryRun {
		recorder = gateways.NewRecordingPatcher(a.inspector)
		patcher, inspector = recorder, recorder.Inspector()
		scratch, err := os.MkdirTemp("", "sorepair-dry-run-")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		//nolint:errcheck // Best-effort cleanup of the scratch directory
		defer os.RemoveAll(scratch)
		outputDir = scratch
		out = &pathRewriter{w: out, from: scratch, to: ro.outputDir}
	} else {
		patchelf := a.patchelf()
		if err := patchelf.VerifyTool(ctx); err != nil {
			return err
		}
		patcher = patchelf
	}

	// Layer 2: services
	classifier := a.classifier(ctx)
	names := gateways.NewBundleNameCache()

	// Layer 3: orchestrator
	repairOrch := orchestrators.NewRepairOrchestrator(
		inspector,
		a.resolver(inspector),
		patcher,
		classifier,
		names,
		gateways.NewFileHasher(a.fs),
		a.logger,
		orchestrators.RepairOrchestratorConfig{RequestedPolicy: ro.plat},
	)

	var results []orchestrators.TargetResult
	var repairErr error
	if len(targets) == 1 {
		start := time.Now()
		plan, err := repairOrch.Repair(ctx, targets[0], outputDir)
		if err != nil {
			return err
		}
		results = []orchestrators.TargetResult{{Target: targets[0], OutputDir: outputDir, Plan: plan, Duration: time.Since(start)}}
		printPlan(out, plan)
	} else {
		batch := orchestrators.NewBatchOrchestrator(repairOrch, a.settings.Jobs, a.logger)
		result, err := batch.RepairAll(ctx, targets, outputDir)
		results, repairErr = result.Results, err
		fmt.Fprintln(out, result.GetBatchSummary())
	}

	if ro.dryRun {
		printCalls(out, recorder.Calls())
		return repairErr
	}

	if err := publishResults(ctx, a, ro, out, results); err != nil {
		return err
	}
	return repairErr
}

// publishResults writes the optional SBOMs, archives and JSON report
func publishResults(ctx context.Context, a *app, ro *repairOptions, out io.Writer, results []orchestrators.TargetResult) error {
	sboms := gateways.NewSBOMGenerator(a.fs, version)
	packager := gateways.NewPackager(a.fs, a.settings.ArchiveSubdir, a.settings.ArchivePackage)

	for _, res := range results {
		if res.Plan == nil {
			continue
		}
		if ro.sbom {
			path, err := sboms.Write(res.Plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "📋 SBOM: %s\n", path)
		}
		if ro.archiveDir != "" {
			path, err := packager.PackagePlan(ctx, res.Plan, ro.archiveDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "📦 Archive: %s\n", path)
		}
	}

	if ro.jsonOutput != "" {
		data, err := json.MarshalIndent(newRepairReport(results), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		if err := afero.WriteFile(a.fs, ro.jsonOutput, data, 0600); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		a.logger.Info("Wrote repair report", interfaces.F("path", ro.jsonOutput))
	}
	return nil
}

func printPlan(w io.Writer, plan *entities.RepairPlan) {
	if !plan.Repaired {
		fmt.Fprintf(w, "✅ %s is already %s, copied unchanged to %s\n", plan.Target, plan.PlatformTag(), plan.OutputPath)
		return
	}
	fmt.Fprintf(w, "🔧 Repaired %s -> %s\n", plan.Target, plan.OutputPath)
	fmt.Fprintf(w, "   %s -> %s\n", plan.InitialPolicy.Name, plan.PlatformTag())
	for _, lib := range plan.Libraries {
		fmt.Fprintf(w, "   bundled %-24s as %s\n", lib.Name, lib.BundledName)
	}
}

func printCalls(w io.Writer, calls []gateways.PatchCall) {
	fmt.Fprintf(w, "\nDry run, %d patchelf calls:\n", len(calls))
	for _, c := range calls {
		fmt.Fprintf(w, "  %s\n", c)
	}
}

// pathRewriter shows dry-run scratch paths under the requested output directory
type pathRewriter struct {
	w        io.Writer
	from, to string
}

func (p *pathRewriter) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, strings.ReplaceAll(string(b), p.from, p.to)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// repairReport is the --json-output document
type repairReport struct {
	Tool    string         `json:"tool"`
	Version string         `json:"version"`
	Targets []targetReport `json:"targets"`
}

type targetReport struct {
	Target        string          `json:"target"`
	Output        string          `json:"output,omitempty"`
	Repaired      bool            `json:"repaired"`
	InitialPolicy string          `json:"initial_policy,omitempty"`
	Policy        string          `json:"policy,omitempty"`
	PlatformTag   string          `json:"platform_tag,omitempty"`
	Libraries     []libraryReport `json:"libraries,omitempty"`
	DurationMS    int64           `json:"duration_ms"`
	Error         string          `json:"error,omitempty"`
}

type libraryReport struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	BundledName string `json:"bundled_name"`
	SHA256      string `json:"sha256"`
}

func newRepairReport(results []orchestrators.TargetResult) repairReport {
	report := repairReport{Tool: "sorepair", Version: version, Targets: make([]targetReport, 0, len(results))}
	for _, res := range results {
		t := targetReport{Target: res.Target, DurationMS: res.Duration.Milliseconds()}
		if res.Error != nil {
			t.Error = res.Error.Error()
		}
		if p := res.Plan; p != nil {
			t.Output = p.OutputPath
			t.Repaired = p.Repaired
			t.InitialPolicy = p.InitialPolicy.Name
			t.Policy = p.Policy.Name
			t.PlatformTag = p.PlatformTag()
			for _, lib := range p.Libraries {
				t.Libraries = append(t.Libraries, libraryReport{
					Name:        lib.Name,
					Source:      lib.Path,
					BundledName: lib.BundledName,
					SHA256:      lib.Hash,
				})
			}
		}
		report.Targets = append(report.Targets, t)
	}
	return report
}
