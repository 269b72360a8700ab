// Package cmd provides the command-line interface of nachosvm.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/nachosvm/config"
)

var envFiles []string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nachosvm",
	Short: "nachosvm loads NOFF user programs into simulated address spaces.",
	Long: `nachosvm loads NOFF user programs into the address spaces of a ` +
		`simulated machine, with either all pages mapped up front or pages ` +
		`brought in on demand through a TLB. It also builds and inspects ` +
		`NOFF executables and reports recorded paging events.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"Files with NACHOS_* settings. Defaults to .env when it exists.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func loadConfig() (config.Config, error) {
	c, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, fmt.Errorf("configuration: %w", err)
	}

	return c, nil
}

func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
