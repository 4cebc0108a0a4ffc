package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newLibcCmd(opts *globalOptions) *cobra.Command {
	var arch string

	cmd := &cobra.Command{
		Use:   "libc",
		Short: "Print the C library of the build host",
		Long: `Detect the host C library from the interpreter of the probe executable
(probe_binary in the config file, /bin/ls by default) and list the tiers
repairs on this host can target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeLibc(cmd.Context(), opts, cmd.OutOrStdout(), arch)
		},
	}
	cmd.Flags().StringVar(&arch, "arch", "x86_64", "Architecture whose tiers are listed")
	return cmd
}

func executeLibc(ctx context.Context, opts *globalOptions, out io.Writer, arch string) error {
	a, err := newApp(ctx, opts, os.Stderr)
	if err != nil {
		return err
	}

	kind := a.detectLibc(ctx)
	fmt.Fprintf(out, "C library: %s\n", kind)
	fmt.Fprintf(out, "Tiers for %s:\n", arch)
	for _, p := range a.registry.ForLibc(kind, arch).Policies() {
		fmt.Fprintf(out, "  %s\n", p.Name)
	}
	return nil
}
