package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/classify-api/internal/model"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Validate and print the model signature",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sig, err := model.LoadSignature(cfg.Model.Dir, cfg.Model.ExpectedVersion)
		if err != nil {
			return err
		}
		sig = sig.WithImageKey(cfg.Model.ImageInput)
		height, width, err := sig.TargetSize()
		if err != nil {
			return err
		}

		summary := map[string]any{
			"model":                sig.ModelPath,
			"export_model_version": sig.Version(),
			"tags":                 sig.Tags,
			"inputs":               sig.Inputs,
			"outputs":              sig.Outputs,
			"image_size":           []int{height, width},
			"classes":              sig.Classes.Label,
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
