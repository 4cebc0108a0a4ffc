package entities

import "time"

// Settings is the runtime configuration of the repair engine.
type Settings struct {
	Patchelf       string
	ToolTimeout    time.Duration
	LibraryPaths   []string
	Sysroot        string
	ProbeBinary    string
	LdSoConf       string
	Jobs           int
	LogLevel       string
	PolicyOverlay  string
	PolicySig      string
	PolicyKey      string
	ArchiveSubdir  string
	ArchivePackage string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Patchelf:       "patchelf",
		ToolTimeout:    2 * time.Minute,
		ProbeBinary:    "/bin/ls",
		LdSoConf:       "/etc/ld.so.conf",
		Jobs:           4,
		LogLevel:       "info",
		ArchiveSubdir:  "libs",
		ArchivePackage: "bundle",
	}
}
