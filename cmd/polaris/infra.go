package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
	"github.com/polaris-dashboard/polaris/message"
	"github.com/polaris-dashboard/polaris/metrics"
	"github.com/polaris-dashboard/polaris/pubsub/redis"
	"github.com/polaris-dashboard/polaris/rpc"
)

const (
	brokerRedis     = "redis"
	brokerGoChannel = "gochannel"
)

func brokerFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("broker", pflag.ExitOnError)

	flags.String("broker", brokerRedis, "Message broker, redis or gochannel (gochannel only works with the dev command)")
	ensure(viper.BindPFlag("broker", flags.Lookup("broker")))

	flags.String("redis-url", "redis://localhost:6379/0", "Redis URL, used for the broker and the web sessions")
	ensure(viper.BindPFlag("redis.url", flags.Lookup("redis-url")))

	flags.String("requests-topic", rpc.DefaultRequestsTopic, "Channel of the dashboard requests")
	ensure(viper.BindPFlag("rpc.requestsTopic", flags.Lookup("requests-topic")))

	flags.String("responses-topic", rpc.DefaultResponsesTopic, "Channel of the bot replies")
	ensure(viper.BindPFlag("rpc.responsesTopic", flags.Lookup("responses-topic")))

	flags.Duration("rpc-timeout", rpc.DefaultTimeout, "How long the dashboard waits for a reply of the bot")
	ensure(viper.BindPFlag("rpc.timeout", flags.Lookup("rpc-timeout")))

	flags.String("metrics-addr", "", "Address of the Prometheus /metrics endpoint, disabled when empty")
	ensure(viper.BindPFlag("metrics.addr", flags.Lookup("metrics-addr")))

	return flags
}

func storeFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("store", pflag.ExitOnError)

	flags.String("database-url", "", "Postgres URL of the settings database, settings are kept in memory when empty")
	ensure(viper.BindPFlag("database.url", flags.Lookup("database-url")))

	flags.Int("database-max-open-conns", 10, "Maximum open connections to the settings database")
	ensure(viper.BindPFlag("database.maxOpenConns", flags.Lookup("database-max-open-conns")))

	return flags
}

// infra is what both processes share: broker, settings store and metrics.
type infra struct {
	pubSub   message.PubSub
	redis    goredis.UniversalClient
	store    settings.Store
	registry *prometheus.Registry
	metrics  *metrics.PrometheusMetricsBuilder

	closers []func() error
}

func newInfra(ctx context.Context, subsystem string, pubSub message.PubSub) (i *infra, err error) {
	i = &infra{}
	defer func() {
		if err != nil {
			_ = i.Close()
		}
	}()

	if err := i.setupMetrics(subsystem); err != nil {
		return nil, err
	}
	if err := i.setupBroker(ctx, pubSub); err != nil {
		return nil, err
	}
	if err := i.setupStore(ctx); err != nil {
		return nil, err
	}

	return i, nil
}

func (i *infra) setupMetrics(subsystem string) error {
	if viper.GetString("metrics.addr") == "" {
		return nil
	}

	i.registry = prometheus.NewRegistry()
	if err := i.registry.Register(collectors.NewGoCollector()); err != nil {
		return errors.Wrap(err, "cannot register go collector")
	}
	if err := i.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return errors.Wrap(err, "cannot register process collector")
	}

	builder := metrics.NewPrometheusMetricsBuilder(i.registry, "polaris", subsystem)
	i.metrics = &builder

	return nil
}

// setupBroker uses pubSub when given, it is shared by the bot and the web in the dev command.
func (i *infra) setupBroker(ctx context.Context, pubSub message.PubSub) error {
	if pubSub == nil {
		switch broker := viper.GetString("broker"); broker {
		case brokerRedis:
			client, err := redis.NewClient(ctx, viper.GetString("redis.url"))
			if err != nil {
				return err
			}
			i.redis = client
			i.closers = append(i.closers, client.Close)

			pubSub, err = redis.NewPubSub(client, logger)
			if err != nil {
				return err
			}
			i.closers = append(i.closers, pubSub.Close)
			logger.Info("Using redis broker", polaris.LogFields{"addr": client.Options().Addr})
		case brokerGoChannel:
			return errors.New("the gochannel broker works only inside one process, use the dev command")
		default:
			return errors.Errorf("unknown broker %q", broker)
		}
	}

	if i.metrics != nil {
		decorated, err := i.metrics.DecoratePubSub(pubSub)
		if err != nil {
			return err
		}
		pubSub = decorated
	}

	i.pubSub = pubSub
	return nil
}

func (i *infra) setupStore(ctx context.Context) error {
	databaseURL := viper.GetString("database.url")
	if databaseURL == "" {
		logger.Info("No database configured, welcome settings are kept in memory", nil)
		i.store = settings.NewMemoryStore()
		return nil
	}

	store, err := settings.NewPostgresStore(ctx, settings.PostgresConfig{
		DatabaseURL:  databaseURL,
		MaxOpenConns: viper.GetInt("database.maxOpenConns"),
		MaxIdleConns: 2,
		MaxLifetime:  30 * time.Minute,
	}, logger)
	if err != nil {
		return err
	}

	i.store = store
	i.closers = append(i.closers, store.Close)
	return nil
}

// run runs the processes and the metrics endpoint until ctx is done or one of them fails,
// then closes the infra.
func run(ctx context.Context, i *infra, processes ...func(ctx context.Context, i *infra) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, process := range processes {
		process := process
		g.Go(func() error {
			return process(ctx, i)
		})
	}
	g.Go(func() error {
		return i.serveMetrics(ctx)
	})

	err := g.Wait()
	if closeErr := i.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}

	return err
}

// serveMetrics serves /metrics until ctx is done. It returns at once when metrics are disabled.
func (i *infra) serveMetrics(ctx context.Context) error {
	if i.registry == nil {
		return nil
	}

	return serveHTTP(ctx, "metrics", viper.GetString("metrics.addr"), metrics.NewHandler(i.registry))
}

// Close closes what was opened, in reverse order.
func (i *infra) Close() error {
	var result error
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	i.closers = nil

	return result
}

func rpcConsumerConfig() rpc.ConsumerConfig {
	return rpc.ConsumerConfig{
		RequestsTopic:  viper.GetString("rpc.requestsTopic"),
		ResponsesTopic: viper.GetString("rpc.responsesTopic"),
	}
}

func rpcProducerConfig() rpc.ProducerConfig {
	return rpc.ProducerConfig{
		RequestsTopic:  viper.GetString("rpc.requestsTopic"),
		ResponsesTopic: viper.GetString("rpc.responsesTopic"),
		DefaultTimeout: viper.GetDuration("rpc.timeout"),
	}
}

// serveHTTP serves handler on addr until ctx is done, then shuts the server down gracefully.
func serveHTTP(ctx context.Context, name string, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", polaris.LogFields{"server": name, "addr": addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "%s server failed", name)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrapf(err, "cannot shut down %s server", name)
	}

	return nil
}
