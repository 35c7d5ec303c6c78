package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inspection/metrics REST API over the open store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}
		if container == nil {
			return fmt.Errorf("dependency container not initialized")
		}

		port, _ := cmd.Flags().GetInt("port")
		apiKey, _ := cmd.Flags().GetString("api-key")

		starter := container.GetServerFactory().CreateServerStarter()
		return starter.StartServer(store, port, apiKey)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("api-key", "", "Value every request's X-API-Key header must match")
}
