package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/pmatree/pkg/config"
	"github.com/ssargent/pmatree/pkg/engine"
)

// upCmd bootstraps a configuration file (generating API keys) on first run
// and starts the REST API server, adapted from cmd/freyja/cmd/up.go's same
// bootstrap-then-serve shape but against pkg/engine.Store instead of
// pkg/store.KVStore.
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bootstrap configuration if needed, then start the REST API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		printKeys, _ := cmd.Flags().GetBool("print-keys")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}

		var cfg *config.Config
		var err error
		if config.ConfigExists(configPath) {
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading existing config: %w", err)
			}
			fmt.Printf("loaded existing configuration from %s\n", configPath)
		} else {
			fmt.Printf("first run detected, bootstrapping pmatree\n")
			cfg, err = config.BootstrapConfig(configPath, "")
			if err != nil {
				return fmt.Errorf("bootstrapping config: %w", err)
			}
			fmt.Printf("configuration created at %s\n", configPath)
			if printKeys {
				fmt.Printf("client API key: %s\n", cfg.Security.ClientAPIKey)
			}
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		if container == nil {
			return fmt.Errorf("dependency container not initialized")
		}

		store, err := engine.Open(cfg.Engine)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer store.Close()

		fmt.Printf("starting pmatree server on %s:%d\n", cfg.Bind, cfg.Port)
		starter := container.GetServerFactory().CreateServerStarter()
		return starter.StartServer(store, cfg.Port, cfg.Security.ClientAPIKey)
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
	upCmd.Flags().String("config", "", "Path to config file (default: OS-specific location)")
	upCmd.Flags().Bool("print-keys", false, "Print the generated client API key to console")
}
