package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// globalOptions are the flags shared by every command
type globalOptions struct {
	configPath   string
	verbose      bool
	patchelf     string
	libraryPaths []string
	sysroot      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "sorepair",
		Short: "Bundle external shared libraries into portable Linux binaries",
		Long: `sorepair audits ELF shared objects and executables against the
manylinux/musllinux compatibility tiers, and repairs them by copying their
non-system dependencies next to them and rewriting the dynamic linking
information to load those copies.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ./sorepair.yaml when present)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log every step")
	flags.StringVar(&opts.patchelf, "patchelf", "", "patchelf executable to use")
	flags.StringArrayVarP(&opts.libraryPaths, "library-path", "L", nil, "Extra directory searched for dependencies (repeatable)")
	flags.StringVar(&opts.sysroot, "sysroot", "", "Root prepended to every system search path")

	root.AddCommand(
		newAuditCmd(opts),
		newRepairCmd(opts),
		newPoliciesCmd(opts),
		newLibcCmd(opts),
	)
	return root
}
