package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/classify-api/internal/app"
	"github.com/Brownie44l1/classify-api/internal/logger"
)

var (
	portOverride int
	lazyLoad     bool
	poolOverride int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP prediction server",
	Long: `Loads the model, then serves:
  GET  /hi               liveness probe
  POST /predict          multipart field "image"
  POST /predict/tensor   JSON {"image": [...]} already normalized
  GET  /health, /signature, /predictions/recent
  POST /admin/reload`,
	Example: `  classify-api serve --model-dir ./export --port 5000
  curl -X POST -F "image=@cat.jpg" http://localhost:5000/predict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if portOverride != 0 {
			cfg.Server.Port = portOverride
		}
		if poolOverride != 0 {
			cfg.Model.PoolSize = poolOverride
		}
		if cmd.Flags().Changed("lazy") {
			cfg.Model.LazyLoad = lazyLoad
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := app.NewApp(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Logger.Warn("cleanup failed", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portOverride, "port", "p", 0, "listen port (overrides config and PORT)")
	serveCmd.Flags().IntVar(&poolOverride, "pool-size", 0, "number of independent model sessions")
	serveCmd.Flags().BoolVar(&lazyLoad, "lazy", false, "load the model on the first request instead of at startup")
}
