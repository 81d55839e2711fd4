package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/resplink/client"
	"github.com/luma/resplink/cmd/gen"
	"github.com/luma/resplink/internal/env"
)

var (
	// Overrides RESPLINK_ADDR when set
	addr string

	// Overrides RESPLINK_PROTOCOL when set
	protocolVersion int
)

var RootCmd = &cobra.Command{
	Use:   "resplink",
	Short: "A RESP client",
	Long: `resplink talks to Redis compatible servers over RESP2 or RESP3.

Configuration is read from RESPLINK_* environment variables and
from .env.local in the working directory.`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&addr, "addr", "a", "", "The server to connect to (host:port)")
	flags.IntVarP(&protocolVersion, "protocol", "P", 0, "The RESP version to speak (2 or 3)")

	RootCmd.AddCommand(PingCmd)
	RootCmd.AddCommand(DoCmd)
	RootCmd.AddCommand(BenchCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect loads the config and connects a client with it.
func connect(ctx context.Context) (*client.Conn, *env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	if addr != "" {
		conf.Addr = addr
	}

	if protocolVersion != 0 {
		conf.Protocol = protocolVersion
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	options, err := conf.ClientOptions(log.Named("client"))
	if err != nil {
		return nil, nil, nil, err
	}

	c := client.New(options)
	if err := c.Connect(ctx); err != nil {
		return nil, nil, nil, err
	}

	return c, conf, log, nil
}
