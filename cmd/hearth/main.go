package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/internal/output"
	"github.com/jbweber/hearth/internal/repository"
	"github.com/jbweber/hearth/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags.
var (
	configPath   string
	accountID    string
	outputFormat string
	noHeaders    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth - single-host VM control plane",
	Long: `Hearth builds and runs virtual machines on a libvirt host.

VMs are launched from catalog images onto account network profiles, get
their identity and SSH keys through a NoCloud boot disk, and are tracked in
a local record store so every operation can be rolled back or retried.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return output.ValidateFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./hearth.yaml or /etc/hearth/hearth.yaml)")
	rootCmd.PersistentFlags().StringVar(&accountID, "account", envOr("HEARTH_ACCOUNT", "default"), "account that owns the resources")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(output.FormatTable), "output format: table, yaml or json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(configCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Exit codes for scripting.
const (
	exitFailure     = 1
	exitInvalid     = 2
	exitConflict    = 3
	exitNotFound    = 4
	exitPartialFail = 5
)

func exitCode(err error) int {
	var batch *batchError
	if errors.As(err, &batch) {
		return exitPartialFail
	}
	switch {
	case vm.IsKind(err, vm.KindInvalidLaunchConfiguration):
		return exitInvalid
	case vm.IsKind(err, vm.KindConflictingOperation):
		return exitConflict
	case vm.IsKind(err, vm.KindNotFound), errors.Is(err, repository.ErrNotFound):
		return exitNotFound
	}
	return exitFailure
}
