package orchestrators

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	"github.com/sourcegraph/conc/pool"
)

// Repairer repairs one target into a directory
type Repairer interface {
	Repair(ctx context.Context, target, outputDir string) (*entities.RepairPlan, error)
}

// BatchOrchestrator repairs several targets in parallel. Each target gets
// its own output subdirectory; the repairer's bundle namer is shared, so
// the same library content is bundled under one name everywhere.
type BatchOrchestrator struct {
	repairer Repairer
	jobs     int
	logger   interfaces.Logger
}

// NewBatchOrchestrator creates a batch orchestrator running at most jobs repairs at once
func NewBatchOrchestrator(repairer Repairer, jobs int, logger interfaces.Logger) *BatchOrchestrator {
	if jobs < 1 {
		jobs = 1
	}
	return &BatchOrchestrator{repairer: repairer, jobs: jobs, logger: interfaces.OrNoOp(logger)}
}

// TargetResult is the outcome of one target in a batch
type TargetResult struct {
	Target    string
	OutputDir string
	Plan      *entities.RepairPlan
	Duration  time.Duration
	Error     error
}

// BatchResult contains the result of a batch repair, in input order
type BatchResult struct {
	Results       []TargetResult
	TotalDuration time.Duration
}

// Failed returns the results that carry an error
func (r *BatchResult) Failed() []TargetResult {
	var failed []TargetResult
	for _, res := range r.Results {
		if res.Error != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// RepairAll repairs every target into its own subdirectory of outputDir.
// One failing target does not stop the others; the returned error joins
// every failure.
func (o *BatchOrchestrator) RepairAll(ctx context.Context, targets []string, outputDir string) (*BatchResult, error) {
	startTime := time.Now()
	result := &BatchResult{Results: make([]TargetResult, len(targets))}
	dirs := subdirNames(targets)

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(o.jobs)
	for i, target := range targets {
		i, target := i, target
		res := &result.Results[i]
		res.Target = target
		res.OutputDir = filepath.Join(outputDir, dirs[i])

		p.Go(func(ctx context.Context) error {
			start := time.Now()
			plan, err := o.repairer.Repair(ctx, target, res.OutputDir)
			res.Plan = plan
			res.Error = err
			res.Duration = time.Since(start)
			if err != nil {
				o.logger.Error("Repair failed", interfaces.F("target", target), interfaces.F("error", err))
			}
			return err
		})
	}
	err := p.Wait()

	result.TotalDuration = time.Since(startTime)
	return result, err
}

// GetBatchSummary returns a human-readable summary of the batch
func (r *BatchResult) GetBatchSummary() string {
	var b strings.Builder
	failed := 0
	for _, res := range r.Results {
		switch {
		case res.Error != nil:
			failed++
			fmt.Fprintf(&b, "FAIL  %s: %v\n", res.Target, res.Error)
		case res.Plan == nil:
			failed++
			fmt.Fprintf(&b, "SKIP  %s\n", res.Target)
		case res.Plan.Repaired:
			fmt.Fprintf(&b, "OK    %s -> %s (%d bundled, %v)\n",
				res.Target, res.Plan.PlatformTag(), len(res.Plan.Libraries), res.Duration)
		default:
			fmt.Fprintf(&b, "OK    %s -> %s (unchanged, %v)\n", res.Target, res.Plan.PlatformTag(), res.Duration)
		}
	}
	fmt.Fprintf(&b, "%d repaired, %d failed in %v", len(r.Results)-failed, failed, r.TotalDuration)
	return b.String()
}

// subdirNames derives one directory name per target from its file name,
// numbering repeats so no two targets share a directory.
func subdirNames(targets []string) []string {
	names := make([]string, len(targets))
	taken := make(map[string]bool)
	for i, t := range targets {
		stem, _, _ := strings.Cut(filepath.Base(t), ".")
		if stem == "" {
			stem = "target"
		}
		name := stem
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d", stem, n)
		}
		taken[name] = true
		names[i] = name
	}
	return names
}
