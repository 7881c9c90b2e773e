package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/polaris-dashboard/polaris/dashboard/bot"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Discord bot",
	Long: `Connect to the Discord gateway, post welcome messages and answer the dashboard requests.

The bot keeps the guilds, roles, channels and members of the gateway in memory.
The dashboard asks it which guilds a user may manage and which channels a guild has.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		i, err := newInfra(ctx, "bot", nil)
		if err != nil {
			return err
		}

		return run(ctx, i, runBot)
	},
}

// botFlags are shared by the bot and dev commands.
var botFlags = func() *pflag.FlagSet {
	flags := pflag.NewFlagSet("bot", pflag.ExitOnError)

	flags.String("discord-token", "", "Discord bot token")
	ensure(viper.BindPFlag("discord.token", flags.Lookup("discord-token")))

	flags.Int64("max-requests-per-second", 0, "Limit of dashboard requests handled per second, 0 for no limit")
	ensure(viper.BindPFlag("bot.maxRequestsPerSecond", flags.Lookup("max-requests-per-second")))

	return flags
}()

func init() {
	botCmd.Flags().AddFlagSet(botFlags)
}

func runBot(ctx context.Context, i *infra) error {
	session, err := bot.NewGatewaySession(viper.GetString("discord.token"))
	if err != nil {
		return err
	}

	service, err := bot.NewService(
		bot.ServiceConfig{
			Consumer:             rpcConsumerConfig(),
			MaxRequestsPerSecond: viper.GetInt64("bot.maxRequestsPerSecond"),
			Metrics:              i.metrics,
		},
		bot.NewStateCache(session.State),
		i.store,
		session,
		i.pubSub,
		logger,
	)
	if err != nil {
		return err
	}

	detach := bot.AttachService(session, service)
	defer detach()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(ctx)
	})
	g.Go(func() error {
		return runGateway(ctx, session, service.Running())
	})

	err = g.Wait()
	if closeErr := service.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}

	return err
}

// runGateway opens the gateway connection once the consumer is running, and closes it when ctx is done.
func runGateway(ctx context.Context, session *discordgo.Session, running <-chan struct{}) error {
	select {
	case <-running:
	case <-ctx.Done():
		return nil
	}

	if err := session.Open(); err != nil {
		return errors.Wrap(err, "cannot connect to discord gateway")
	}

	<-ctx.Done()

	return errors.Wrap(session.Close(), "cannot close discord gateway connection")
}
