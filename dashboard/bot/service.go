package bot

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/polaris-dashboard/polaris"
	"github.com/polaris-dashboard/polaris/dashboard/protocol"
	"github.com/polaris-dashboard/polaris/dashboard/settings"
	"github.com/polaris-dashboard/polaris/message"
	"github.com/polaris-dashboard/polaris/metrics"
	"github.com/polaris-dashboard/polaris/rpc"
	"github.com/polaris-dashboard/polaris/rpc/middleware"
)

type ServiceConfig struct {
	Consumer rpc.ConsumerConfig

	// HandlerTimeout bounds a single get_guilds or get_channels handler.
	HandlerTimeout time.Duration
	// WelcomeTimeout bounds loading the settings and posting one welcome message.
	WelcomeTimeout time.Duration
	// MaxRequestsPerSecond limits the handled requests. Zero means no limit.
	MaxRequestsPerSecond int64

	// Metrics is optional.
	Metrics *metrics.PrometheusMetricsBuilder
}

func (c *ServiceConfig) setDefaults() {
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = 3 * time.Second
	}
	if c.WelcomeTimeout == 0 {
		c.WelcomeTimeout = 10 * time.Second
	}
}

// Service runs the bot side of the bridge: the rpc consumer with the dashboard handlers
// and the gateway event handlers.
type Service struct {
	config   ServiceConfig
	consumer *rpc.Consumer
	welcome  *WelcomeSender
	throttle *middleware.Throttle
	logger   polaris.LoggerAdapter

	welcomeWg sync.WaitGroup
}

func NewService(
	config ServiceConfig,
	cache Cache,
	store settings.Store,
	sender MessageSender,
	pubSub message.PubSub,
	logger polaris.LoggerAdapter,
) (*Service, error) {
	config.setDefaults()
	if logger == nil {
		logger = polaris.NopLogger{}
	}

	consumer, err := rpc.NewConsumer(config.Consumer, pubSub, pubSub, logger)
	if err != nil {
		return nil, err
	}

	if config.Metrics != nil {
		if err := config.Metrics.AddPrometheusConsumerMetrics(consumer); err != nil {
			return nil, err
		}
	}

	breaker := middleware.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dashboard_handlers",
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed", polaris.LogFields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	consumer.AddMiddleware(
		middleware.Logging(logger),
		breaker.Middleware,
		middleware.Recoverer,
	)

	var throttle *middleware.Throttle
	if config.MaxRequestsPerSecond > 0 {
		throttle = middleware.NewThrottle(config.MaxRequestsPerSecond, time.Second)
		consumer.AddMiddleware(throttle.Middleware)
	}

	consumer.AddMiddleware(middleware.Timeout(config.HandlerTimeout))

	resolver := NewPermissionResolver(cache, logger)
	if err := rpc.Handle(consumer, protocol.GetGuilds, resolver.ManageableGuilds); err != nil {
		return nil, err
	}

	categorizer := NewChannelCategorizer(cache, logger)
	if err := rpc.Handle(consumer, protocol.GetChannels, categorizer.Channels); err != nil {
		return nil, err
	}

	return &Service{
		config:   config,
		consumer: consumer,
		welcome:  NewWelcomeSender(cache, store, sender, logger),
		throttle: throttle,
		logger:   logger,
	}, nil
}

// Run consumes dashboard requests until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.consumer.Run(ctx)
}

// Running is closed when the service consumes requests.
func (s *Service) Running() chan struct{} {
	return s.consumer.Running()
}

// HandleMemberAdd is a discordgo event handler for GuildMemberAdd.
func (s *Service) HandleMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.Member.User == nil {
		return
	}

	s.MemberJoined(parseSnowflake(e.GuildID), parseSnowflake(e.User.ID))
}

// MemberJoined sends the welcome message in the background.
func (s *Service) MemberJoined(guildID, userID int64) {
	s.welcomeWg.Add(1)
	go func() {
		defer s.welcomeWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WelcomeTimeout)
		defer cancel()

		if err := s.welcome.MemberJoined(ctx, guildID, userID); err != nil {
			s.logger.Error("Cannot send welcome message", err, polaris.LogFields{"guild_id": guildID, "user_id": userID})
		}
	}()
}

// HandleReady is a discordgo event handler for Ready.
func (s *Service) HandleReady(session *discordgo.Session, r *discordgo.Ready) {
	s.logger.Info("Connected to Discord gateway", polaris.LogFields{
		"user":              r.User.Username,
		"guilds":            len(r.Guilds),
		"heartbeat_latency": session.HeartbeatLatency().String(),
	})
}

// Close stops the consumer and waits for welcome messages being sent.
func (s *Service) Close() error {
	err := s.consumer.Close()
	s.welcomeWg.Wait()

	if s.throttle != nil {
		s.throttle.Stop()
	}

	return errors.Wrap(err, "cannot close consumer")
}
