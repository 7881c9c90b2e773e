package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polaris-dashboard/polaris/pubsub/gochannel"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run the bot and the dashboard in one process",
	Long: `Run the bot and the dashboard in one process, connected with an in-memory broker.

No Redis is needed. Sessions are kept in memory, and so are the welcome settings unless a database is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)

		i, err := newInfra(ctx, "dev", pubSub)
		if err != nil {
			return err
		}
		i.closers = append([]func() error{pubSub.Close}, i.closers...)

		return run(ctx, i, runBot, runWeb)
	},
}

func init() {
	devCmd.Flags().AddFlagSet(botFlags)
	devCmd.Flags().AddFlagSet(webFlags)
}
