package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the store and report the container table's shape",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}
		stats := store.Stats()
		fmt.Printf("depth=%d order=%d\n", stats.ContainerTableDepth, stats.ContainerTableOrder)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
