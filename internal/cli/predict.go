package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/classify-api/internal/app"
)

var topK int

var predictCmd = &cobra.Command{
	Use:   "predict <image>...",
	Short: "Classify local image files without starting the server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := app.NewApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Load(); err != nil {
			return err
		}

		results := make(map[string]any, len(args))
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			result, err := a.Classifier().ClassifyReader(cmd.Context(), f, filepath.Base(path))
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if topK > 0 && topK < len(result.Predictions) {
				result.Predictions = result.Predictions[:topK]
			}
			results[path] = result
		}

		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().IntVarP(&topK, "top", "k", 0, "only print the k most confident classes (0 prints all)")
}
