package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/pmatree/pkg/engine"
)

var putCmd = &cobra.Command{
	Use:   "put <akey> <value>",
	Short: "Write a value into a dkey/akey/epoch coordinate",
	Long: `Put writes value at the given akey, creating the container, object,
dkey, akey and singv levels as needed.

Example:
  pmatree put myakey myvalue --container c1 --object o1 --dkey d1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		akeyName := []byte(args[0])
		value := []byte(args[1])

		container, object, dkeyName, dkeyEpoch, akeyEpoch, valueEpoch := coordinateFlags(cmd)

		newObject, _ := cmd.Flags().GetBool("new-object")
		if newObject {
			object = engine.NewObjectID()
			fmt.Printf("generated object id %s\n", object)
		}

		if err := store.Put(container, object, dkeyName, dkeyEpoch, akeyName, akeyEpoch, valueEpoch, value); err != nil {
			return fmt.Errorf("put: %w", err)
		}
		fmt.Printf("put %q/%q/%q@%d/%q@%d = %q @epoch %d\n",
			container, object, dkeyName, dkeyEpoch, akeyName, akeyEpoch, value, valueEpoch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
	addCoordinateFlags(putCmd)
	putCmd.Flags().Bool("new-object", false, "Generate a fresh ksuid object id instead of using --object")
}
