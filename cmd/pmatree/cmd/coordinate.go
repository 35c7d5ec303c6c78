package cmd

import "github.com/spf13/cobra"

// addCoordinateFlags attaches the container/object/dkey/epoch flags every
// value-level subcommand (put, get, delete, iterate) shares, since
// every value in the demo object store is addressed by the same five-part
// coordinate: container, object, dkey (+epoch), akey (+epoch), value epoch.
func addCoordinateFlags(cmd *cobra.Command) {
	cmd.Flags().String("container", "default", "Container id")
	cmd.Flags().String("object", "default", "Object id")
	cmd.Flags().String("dkey", "default", "Distribution key")
	cmd.Flags().Uint64("dkey-epoch", 0, "Epoch the dkey was punched/created at")
	cmd.Flags().Uint64("akey-epoch", 0, "Epoch the akey was punched/created at")
	cmd.Flags().Uint64("epoch", 0, "Value epoch")
}

func coordinateFlags(cmd *cobra.Command) (container, object string, dkeyName []byte, dkeyEpoch, akeyEpoch, valueEpoch uint64) {
	container, _ = cmd.Flags().GetString("container")
	object, _ = cmd.Flags().GetString("object")
	dkey, _ := cmd.Flags().GetString("dkey")
	dkeyEpoch, _ = cmd.Flags().GetUint64("dkey-epoch")
	akeyEpoch, _ = cmd.Flags().GetUint64("akey-epoch")
	valueEpoch, _ = cmd.Flags().GetUint64("epoch")
	return container, object, []byte(dkey), dkeyEpoch, akeyEpoch, valueEpoch
}
