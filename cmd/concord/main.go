// Command concord runs the policy-analysis swarm: a long-lived API server,
// a one-shot document run, or an evaluation pass over a labeled corpus.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/praxislabs/concord/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "concord",
		Short:         "Multi-agent policy document analysis swarm",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to concord.yaml (default $CONCORD_CONFIG_PATH or ./config/concord.yaml)")

	root.AddCommand(newServeCmd(), newRunCmd(), newEvalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path from the flag or the environment.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONCORD_CONFIG_PATH")
	}
	if path == "" {
		path = "./config/concord.yaml"
	}
	cfg, err := config.LoadFile(path)
	return cfg, path, err
}

// buildLogger constructs the process logger per the observability config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Observability.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Observability.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
