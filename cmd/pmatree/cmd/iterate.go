package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var iterateCmd = &cobra.Command{
	Use:   "iterate <akey>",
	Short: "Walk every revision recorded under an akey, epoch-ascending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		container, object, dkeyName, dkeyEpoch, akeyEpoch, _ := coordinateFlags(cmd)
		n, err := store.IterateValues(container, object, dkeyName, dkeyEpoch, []byte(args[0]), akeyEpoch,
			func(epoch uint64, value []byte) (bool, error) {
				fmt.Printf("epoch=%d value=%q\n", epoch, value)
				return false, nil
			})
		if err != nil {
			return fmt.Errorf("iterate: %w", err)
		}
		fmt.Printf("visited %d revision(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(iterateCmd)
	addCoordinateFlags(iterateCmd)
}
