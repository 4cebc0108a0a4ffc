package gateways

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	"github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
)

var muslVersionPattern = regexp.MustCompile(`Version (\d+)\.(\d+)`)

// ParseMuslVersion extracts the major and minor version from the banner the
// musl loader prints when run without arguments.
func ParseMuslVersion(text string) (major, minor int, ok bool) {
	m := muslVersionPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// MuslDetector finds the host C library by probing the interpreter of a
// known executable.
type MuslDetector struct {
	inspector gateways.BinaryInspector
	runner    Runner
	probe     string
	logger    interfaces.Logger
}

var _ gateways.LibcDetector = (*MuslDetector)(nil)

// NewMuslDetector creates a detector that reads the interpreter of probe
func NewMuslDetector(inspector gateways.BinaryInspector, runner Runner, probe string, logger interfaces.Logger) *MuslDetector {
	if probe == "" {
		probe = entities.DefaultSettings().ProbeBinary
	}
	return &MuslDetector{
		inspector: inspector,
		runner:    runner,
		probe:     probe,
		logger:    interfaces.OrNoOp(logger),
	}
}

// DetectLibc never fails; anything it cannot establish is LibcUnknown.
func (d *MuslDetector) DetectLibc(ctx context.Context) entities.LibcKind {
	img, err := d.inspector.Inspect(d.probe)
	if err != nil {
		d.logger.Debug("libc probe binary unreadable", interfaces.F("path", d.probe), interfaces.F("error", err))
		return entities.UnknownLibc()
	}
	if img.Interpreter == "" {
		d.logger.Debug("libc probe binary has no interpreter", interfaces.F("path", d.probe))
		return entities.UnknownLibc()
	}

	base := filepath.Base(img.Interpreter)
	if strings.HasPrefix(base, "ld-linux") || strings.HasPrefix(base, "ld64.so") {
		return entities.Glibc()
	}

	// The musl loader prints its banner and exits 1 when given no program.
	result := d.runner.Run(ctx, RunConfig{
		Name:          img.Interpreter,
		DiscardStdout: true,
		Timeout:       10 * time.Second,
	})
	if !result.Started() {
		d.logger.Debug("failed to run interpreter", interfaces.F("interpreter", img.Interpreter), interfaces.F("error", result.Error))
		return entities.UnknownLibc()
	}

	major, minor, ok := ParseMuslVersion(result.Stderr)
	if !ok {
		d.logger.Debug("interpreter printed no musl version", interfaces.F("interpreter", img.Interpreter))
		return entities.UnknownLibc()
	}
	return entities.Musl(major, minor)
}
