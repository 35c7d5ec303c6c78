package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Punch an entire object, freeing every dkey/akey/singv record beneath it",
	Long: `Destroy punches --object out of --container's object table. Every
dkey/akey/singv record the object holds is freed in the same transaction.
The "force" semantics §9 leaves undefined for a non-forced destroy are not
exposed here; destroy is always the unconditional punch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		container, _ := cmd.Flags().GetString("container")
		object, _ := cmd.Flags().GetString("object")

		if err := store.DestroyObject(container, object); err != nil {
			return fmt.Errorf("destroy: %w", err)
		}
		fmt.Printf("destroyed object %q/%q\n", container, object)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)
	destroyCmd.Flags().String("container", "default", "Container id")
	destroyCmd.Flags().String("object", "default", "Object id")
}
