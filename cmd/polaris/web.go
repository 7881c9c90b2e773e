package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/polaris-dashboard/polaris/dashboard/web"
	"github.com/polaris-dashboard/polaris/rpc"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Run the web dashboard",
	Long: `Serve the dashboard where server managers log in with Discord and edit the welcome message.

Every permission check is asked to the bot process over the broker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		i, err := newInfra(ctx, "web", nil)
		if err != nil {
			return err
		}

		return run(ctx, i, runWeb)
	},
}

func init() {
	webCmd.Flags().AddFlagSet(webFlags)
}

// webFlags are shared by the web and dev commands.
var webFlags = func() *pflag.FlagSet {
	flags := pflag.NewFlagSet("web", pflag.ExitOnError)

	flags.String("http-addr", ":8080", "Address of the dashboard")
	ensure(viper.BindPFlag("http.addr", flags.Lookup("http-addr")))

	flags.Bool("secure-cookies", false, "Send the session cookie over https only")
	ensure(viper.BindPFlag("http.secureCookies", flags.Lookup("secure-cookies")))

	flags.Bool("trust-proxy-headers", false, "Use X-Forwarded-For and X-Real-IP for the client address")
	ensure(viper.BindPFlag("http.trustProxyHeaders", flags.Lookup("trust-proxy-headers")))

	flags.Duration("session-ttl", web.DefaultSessionTTL, "How long an idle session is kept")
	ensure(viper.BindPFlag("sessions.ttl", flags.Lookup("session-ttl")))

	flags.String("client-id", "", "Discord OAuth2 client id")
	ensure(viper.BindPFlag("oauth.clientId", flags.Lookup("client-id")))

	flags.String("client-secret", "", "Discord OAuth2 client secret")
	ensure(viper.BindPFlag("oauth.clientSecret", flags.Lookup("client-secret")))

	flags.String("redirect-url", "http://localhost:8080/guilds", "Discord OAuth2 redirect URL, the /guilds page of the dashboard")
	ensure(viper.BindPFlag("oauth.redirectUrl", flags.Lookup("redirect-url")))

	return flags
}()

func runWeb(ctx context.Context, i *infra) error {
	provider, err := web.NewDiscordProvider(web.DiscordProviderConfig{
		ClientID:     viper.GetString("oauth.clientId"),
		ClientSecret: viper.GetString("oauth.clientSecret"),
		RedirectURL:  viper.GetString("oauth.redirectUrl"),
	}, logger)
	if err != nil {
		return err
	}

	producerConfig := rpcProducerConfig()
	if i.metrics != nil {
		observer, err := i.metrics.NewRoundTripObserver()
		if err != nil {
			return err
		}
		producerConfig.Observer = observer
	}

	producer, err := rpc.NewProducer(producerConfig, i.pubSub, i.pubSub, logger)
	if err != nil {
		return err
	}

	ttl := viper.GetDuration("sessions.ttl")
	var sessions web.SessionStore = web.NewMemorySessionStore(ttl)
	if i.redis != nil {
		sessions = web.NewRedisSessionStore(i.redis, ttl)
	}

	server, err := web.NewServer(
		web.ServerConfig{
			SecureCookies:     viper.GetBool("http.secureCookies"),
			TrustProxyHeaders: viper.GetBool("http.trustProxyHeaders"),
			SessionTTL:        ttl,
		},
		web.NewSessionManager(provider, sessions, logger),
		provider,
		web.NewRPCBridge(producer),
		i.store,
		logger,
	)
	if err != nil {
		return err
	}

	if err := producer.Start(ctx); err != nil {
		return err
	}

	err = serveHTTP(ctx, "dashboard", viper.GetString("http.addr"), server.Handler())
	if closeErr := producer.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}

	return err
}
