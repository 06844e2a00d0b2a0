package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/classify-api/internal/config"
	"github.com/Brownie44l1/classify-api/internal/logger"
)

var (
	cfgFile          string
	modelDirOverride string
	logLevelOverride string

	rootCmd = &cobra.Command{
		Use:           "classify-api",
		Short:         "Serve an exported image-classification model over HTTP",
		Long:          `Loads a model described by signature.json and ranks uploaded images by class confidence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./classify-api.yaml)")
	rootCmd.PersistentFlags().StringVar(&modelDirOverride, "model-dir", "", "directory containing signature.json")
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "debug, info, warn or error")
}

// loadConfig loads the config file, applies global flag overrides and
// configures the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if modelDirOverride != "" {
		cfg.Model.Dir = modelDirOverride
	}
	if logLevelOverride != "" {
		cfg.Log.Level = logLevelOverride
	}
	logger.SetLogger(logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))
	return cfg, nil
}
