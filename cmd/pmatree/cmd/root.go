/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/pmatree/pkg/config"
	"github.com/ssargent/pmatree/pkg/di"
	"github.com/ssargent/pmatree/pkg/engine"
)

type storeCtxKey struct{}

var container *di.Container

// SetContainer injects the dependency container built by main(); mirrors
// the teacher's cmd.SetContainer(container) wiring in cmd/freyja/main.go.
func SetContainer(c *di.Container) { container = c }

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pmatree",
	Short: "pmatree - a stackable, persistent B+tree engine",
	Long: `pmatree operates a container -> object -> dkey -> akey -> singv
object store, every level an instance of the same generic, persistent
B+tree engine.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "up" {
			// up bootstraps its own config (and thus its own engine.Engine
			// settings) before opening a store; it manages its own
			// open/close rather than using the one this hook would open
			// against the --pma-file/--backend flags.
			return nil
		}
		pmaFile, _ := cmd.Flags().GetString("pma-file")
		backend, _ := cmd.Flags().GetString("backend")

		cfg := config.DefaultConfig().Engine
		if pmaFile != "" {
			cfg.PMAFile = pmaFile
		}
		if backend != "" {
			cfg.Backend = backend
		}
		if err := os.MkdirAll(filepath.Dir(cfg.PMAFile), 0755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		store, err := engine.Open(cfg)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		cmd.SetContext(context.WithValue(cmd.Context(), storeCtxKey{}, store))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store, ok := storeFromContext(cmd); ok {
			return store.Close()
		}
		return nil
	},
}

func storeFromContext(cmd *cobra.Command) (*engine.Store, bool) {
	store, ok := cmd.Context().Value(storeCtxKey{}).(*engine.Store)
	return store, ok
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("pma-file", "./data/pmatree.db", "Path to the PMA-backed data file")
	rootCmd.PersistentFlags().String("backend", "mmap", "PMA backend: mmap or pebble")
}
