package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/resplink/protocol"
)

var asJSON bool

func init() {
	DoCmd.Flags().BoolVar(&asJSON, "json", false, "Print the reply as JSON")
}

var DoCmd = &cobra.Command{
	Use:   "do COMMAND [ARG...]",
	Short: "Send one command and print its reply",
	Long: `Send one command and print its reply

Usage
	resplink do SET greeting hello
	resplink do --json HGETALL user:1
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, _, _, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		cmdArgs := make([]interface{}, len(args)-1)
		for i, a := range args[1:] {
			cmdArgs[i] = a
		}

		// Error replies are printed like any other reply
		v, err := c.Do(ctx, args[0], cmdArgs...)
		if err != nil && v.ErrorOrNil() == nil {
			return err
		}

		if asJSON {
			out, err := protocol.MarshalJSON(v)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), v.String())
		return nil
	},
}
