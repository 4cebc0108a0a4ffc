package main

import (
	"context"
	"io"
	"time"

	"github.com/ochairo/sorepair/internal/domain-adapters/gateways"
	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	ports "github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
	"github.com/ochairo/sorepair/internal/domain/services"
	"github.com/ochairo/sorepair/internal/external-adapters/gpg"
	logadapter "github.com/ochairo/sorepair/internal/external-adapters/logrus"
	"github.com/ochairo/sorepair/internal/external-adapters/yaml"
	"github.com/spf13/afero"
)

// probeTimeout bounds the musl loader probe
const probeTimeout = 10 * time.Second

// app holds the components every command is built from
type app struct {
	settings  entities.Settings
	logger    *logadapter.Logger
	fs        afero.Fs
	inspector *gateways.ELFInspector
	registry  *services.PolicyRegistry
}

// newApp resolves settings (defaults, config file, environment, flags),
// then builds the logger and the policy registry.
func newApp(ctx context.Context, opts *globalOptions, logOut io.Writer) (*app, error) {
	settings, err := yaml.NewConfigLoader().Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.patchelf != "" {
		settings.Patchelf = opts.patchelf
	}
	if len(opts.libraryPaths) > 0 {
		settings.LibraryPaths = append(settings.LibraryPaths, opts.libraryPaths...)
	}
	if opts.sysroot != "" {
		settings.Sysroot = opts.sysroot
	}
	if opts.verbose {
		settings.LogLevel = "debug"
	}

	logger, err := logadapter.NewLogger(logOut, settings.LogLevel)
	if err != nil {
		return nil, err
	}

	// Policy table: embedded, or a signed overlay
	repo := yaml.NewPolicyRepository()
	var verifier *gpg.Verifier
	if settings.PolicyOverlay != "" {
		verifier = gpg.NewVerifier()
		repo = yaml.NewOverlayPolicyRepository(yaml.OverlayConfig{
			TablePath:     settings.PolicyOverlay,
			SignaturePath: settings.PolicySig,
			KeyPath:       settings.PolicyKey,
			Verifier:      verifier,
		})
	}
	registry, err := services.LoadPolicyRegistry(ctx, repo)
	if err != nil {
		return nil, err
	}
	if verifier != nil {
		logger.Info("Using policy overlay",
			interfaces.F("path", settings.PolicyOverlay),
			interfaces.F("keys", verifier.KeyringSize()))
	}

	fs := afero.NewOsFs()
	return &app{
		settings:  settings,
		logger:    logger,
		fs:        fs,
		inspector: gateways.NewELFInspector(fs),
		registry:  registry,
	}, nil
}

// detectLibc probes the host C library
func (a *app) detectLibc(ctx context.Context) entities.LibcKind {
	detector := gateways.NewMuslDetector(a.inspector, gateways.NewCommandRunner(probeTimeout), a.settings.ProbeBinary,
		a.logger.With(interfaces.F("component", "libc")))
	kind := detector.DetectLibc(ctx)
	a.logger.Debug("Detected host C library", interfaces.F("libc", kind.String()))
	return kind
}

// targets expands directory arguments into the shared objects under them
func (a *app) targets(args []string) ([]string, error) {
	return gateways.NewTargetFinder(a.fs).Expand(args)
}

func (a *app) classifier(ctx context.Context) *services.HostClassifier {
	return services.NewHostClassifier(a.registry, a.detectLibc(ctx))
}

func (a *app) resolver(inspector ports.BinaryInspector) *gateways.LibraryResolver {
	return gateways.NewLibraryResolver(a.fs, inspector, gateways.SearchPathConfig{
		Sysroot:    a.settings.Sysroot,
		ExtraPaths: a.settings.LibraryPaths,
		LdSoConf:   a.settings.LdSoConf,
	}, a.logger.With(interfaces.F("component", "resolver")))
}

func (a *app) patchelf() *gateways.PatchelfPatcher {
	return gateways.NewPatchelfPatcher(a.settings.Patchelf, gateways.NewCommandRunner(a.settings.ToolTimeout), a.inspector,
		a.logger.With(interfaces.F("component", "patchelf")))
}
