package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var PingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, _, _, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		start := time.Now()
		if err := c.Ping(ctx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "PONG in %s\n", time.Since(start))
		return nil
	},
}
