package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <akey>",
	Short: "Resolve the value visible at or before --epoch for an akey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		container, object, dkeyName, dkeyEpoch, akeyEpoch, queryEpoch := coordinateFlags(cmd)
		value, err := store.Get(container, object, dkeyName, dkeyEpoch, []byte(args[0]), akeyEpoch, queryEpoch)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		fmt.Printf("%s\n", value)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	addCoordinateFlags(getCmd)
}
