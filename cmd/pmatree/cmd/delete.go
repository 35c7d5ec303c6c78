package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <akey>",
	Short: "Punch the value recorded at --epoch for an akey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		container, object, dkeyName, dkeyEpoch, akeyEpoch, valueEpoch := coordinateFlags(cmd)
		if err := store.Delete(container, object, dkeyName, dkeyEpoch, []byte(args[0]), akeyEpoch, valueEpoch); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		fmt.Printf("deleted %q/%q/%q@%d/%q@%d @epoch %d\n",
			container, object, dkeyName, dkeyEpoch, args[0], akeyEpoch, valueEpoch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	addCoordinateFlags(deleteCmd)
}
