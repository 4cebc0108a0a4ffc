package yaml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read from the working directory when no file is given
const DefaultConfigFile = "sorepair.yaml"

// Environment variables, applied over the config file
const (
	EnvPatchelf    = "SOREPAIR_PATCHELF"
	EnvLibraryPath = "SOREPAIR_LIBRARY_PATH"
	EnvSysroot     = "TARGET_SYSROOT"
	EnvJobs        = "SOREPAIR_JOBS"
	EnvLogLevel    = "SOREPAIR_LOG_LEVEL"
)

// yamlConfig represents the raw config file; unset fields keep their defaults
type yamlConfig struct {
	Patchelf     string        `yaml:"patchelf"`
	ToolTimeout  string        `yaml:"tool_timeout"`
	LibraryPaths []string      `yaml:"library_paths"`
	Sysroot      string        `yaml:"sysroot"`
	ProbeBinary  string        `yaml:"probe_binary"`
	LdSoConf     string        `yaml:"ld_so_conf"`
	Jobs         int           `yaml:"jobs"`
	LogLevel     string        `yaml:"log_level"`
	Policy       yamlPolicyRef `yaml:"policy"`
	Archive      yamlArchive   `yaml:"archive"`
}

type yamlPolicyRef struct {
	Overlay   string `yaml:"overlay"`
	Signature string `yaml:"signature"`
	Key       string `yaml:"key"`
}

type yamlArchive struct {
	Subdir  string `yaml:"subdir"`
	Package string `yaml:"package"`
}

// ConfigLoader resolves Settings from defaults, a YAML file and the environment
type ConfigLoader struct{}

// NewConfigLoader creates a new config loader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// Load returns defaults overlaid with the config file and the environment.
// An empty path reads DefaultConfigFile if it exists.
func (l *ConfigLoader) Load(path string) (entities.Settings, error) {
	settings := entities.DefaultSettings()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	//nolint:gosec // G304: path is the user-provided config file
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if settings, err = l.Parse(data, settings); err != nil {
			return settings, fmt.Errorf("failed to load %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return settings, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return ApplyEnv(settings), nil
}

// Parse overlays a YAML config document on base
func (l *ConfigLoader) Parse(data []byte, base entities.Settings) (entities.Settings, error) {
	var cfg yamlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse YAML: %w", err)
	}

	s := base
	if cfg.Patchelf != "" {
		s.Patchelf = cfg.Patchelf
	}
	if cfg.ToolTimeout != "" {
		d, err := time.ParseDuration(cfg.ToolTimeout)
		if err != nil {
			return base, fmt.Errorf("invalid tool_timeout %q: %w", cfg.ToolTimeout, err)
		}
		s.ToolTimeout = d
	}
	if len(cfg.LibraryPaths) > 0 {
		s.LibraryPaths = cfg.LibraryPaths
	}
	if cfg.Sysroot != "" {
		s.Sysroot = cfg.Sysroot
	}
	if cfg.ProbeBinary != "" {
		s.ProbeBinary = cfg.ProbeBinary
	}
	if cfg.LdSoConf != "" {
		s.LdSoConf = cfg.LdSoConf
	}
	if cfg.Jobs < 0 {
		return base, fmt.Errorf("jobs must not be negative, got %d", cfg.Jobs)
	}
	if cfg.Jobs > 0 {
		s.Jobs = cfg.Jobs
	}
	if cfg.LogLevel != "" {
		s.LogLevel = cfg.LogLevel
	}
	if cfg.Policy.Overlay != "" {
		s.PolicyOverlay = cfg.Policy.Overlay
		s.PolicySig = cfg.Policy.Signature
		s.PolicyKey = cfg.Policy.Key
	}
	if cfg.Archive.Subdir != "" {
		s.ArchiveSubdir = cfg.Archive.Subdir
	}
	if cfg.Archive.Package != "" {
		s.ArchivePackage = cfg.Archive.Package
	}
	return s, nil
}

// ApplyEnv overlays the SOREPAIR_* and TARGET_SYSROOT variables on s
func ApplyEnv(s entities.Settings) entities.Settings {
	s.Patchelf = env.Str(EnvPatchelf, s.Patchelf)
	s.Sysroot = env.Str(EnvSysroot, s.Sysroot)
	s.LogLevel = strings.ToLower(env.Str(EnvLogLevel, s.LogLevel))
	if env.Has(EnvLibraryPath) {
		var paths []string
		for _, p := range filepath.SplitList(env.Str(EnvLibraryPath)) {
			if p != "" {
				paths = append(paths, p)
			}
		}
		s.LibraryPaths = paths
	}
	if jobs := env.Int(EnvJobs, s.Jobs); jobs > 0 {
		s.Jobs = jobs
	}
	return s
}
