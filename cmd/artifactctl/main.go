// Command artifactctl runs the artifact chat pipeline from the terminal:
// segment a file locally, ingest it, chat with the agent or run the queue
// worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentoven/artifactchat/internal/config"
	"github.com/agentoven/artifactchat/pkg/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "artifactctl",
	Short:         "Operate the artifact chat pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file (overrides ARTIFACTCHAT_CONFIG)")
	rootCmd.AddCommand(chunkCmd, ingestCmd, chatCmd, workerCmd)
}

// loadConfig reads configuration the same way the server does and sets up
// logging from it.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		os.Setenv("ARTIFACTCHAT_CONFIG", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	server.SetupLogging(cfg.Logging)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
