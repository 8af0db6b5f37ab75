// Package cli implements the accesslog command tree for posting records to and
// reading records from a running server.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/V4T54L/accesslog/internal/client"
)

// NewRootCommand returns the accesslog command with all subcommands wired in.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accesslog",
		Short:         "Submit and fetch access-log records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("server", "s", client.DefaultServer, "server address (scheme optional)")

	cmd.AddCommand(
		newPostCmd(),
		newUploadCmd(),
		newGetCmd(),
	)
	return cmd
}

// clientFromCmd builds an API client from the persistent flags on cmd.
func clientFromCmd(cmd *cobra.Command) *client.APIClient {
	server, _ := cmd.Flags().GetString("server")
	return client.New(server, nil)
}
