package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refactorswarm/internal/config"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// ErrRunFailed is returned by the run command when a run completes without
// reaching its success criterion.
var ErrRunFailed = errors.New("run did not succeed")

var configFile string

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "swarm — automated Python refactoring with test-driven validation",
	Long: `swarm audits a Python source tree, generates a pytest suite for it and
repairs the code in bounded fix/validate iterations. Every candidate edit must
parse, keep the public function signatures and look complete before it is
written; the iteration loop stops when the suite passes.

Run state, backups and the run log live in ~/.swarm/ (override with state_dir).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the configuration from --config or the default
// search path.
func loadConfig() (*config.SwarmConfig, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to swarm config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(templatesCmd)
}
