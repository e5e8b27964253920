package events

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSettings selects the Redis Streams transport.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
	// Scope is appended to every consumer group name. Widgets sharing a
	// stream need distinct scopes or they split each other's events.
	Scope string
}

// Router fans widget events out to handlers. In-memory by default, Redis
// Streams when enabled.
type Router struct {
	router    *message.Router
	publisher message.Publisher
	logger    watermill.LoggerAdapter

	// subscriberFor returns the subscriber a named handler consumes from.
	subscriberFor func(ctx context.Context, handler, topic string) (message.Subscriber, error)
	closers       []func() error
}

type RouterOption func(*routerOptions)

type routerOptions struct {
	redis     RedisSettings
	logger    watermill.LoggerAdapter
	bufferLen int64
}

func WithRedis(s RedisSettings) RouterOption {
	return func(o *routerOptions) { o.redis = s }
}

func WithLogger(l watermill.LoggerAdapter) RouterOption {
	return func(o *routerOptions) { o.logger = l }
}

func WithBufferLen(n int64) RouterOption {
	return func(o *routerOptions) { o.bufferLen = n }
}

func NewRouter(opts ...RouterOption) (*Router, error) {
	o := routerOptions{bufferLen: 256}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NewWatermillLogger(log.Logger)
	}

	mr, err := message.NewRouter(message.RouterConfig{}, o.logger)
	if err != nil {
		return nil, errors.Wrap(err, "create watermill router")
	}
	r := &Router{router: mr, logger: o.logger}

	if !o.redis.Enabled {
		// ack-blocking publish keeps per-handler ordering
		goch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            o.bufferLen,
			BlockPublishUntilSubscriberAck: true,
		}, o.logger)
		r.publisher = goch
		r.subscriberFor = func(context.Context, string, string) (message.Subscriber, error) {
			return goch, nil
		}
		r.closers = append(r.closers, goch.Close)
		return r, nil
	}

	client := redis.NewClient(&redis.Options{Addr: o.redis.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, o.logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	r.publisher = pub
	r.closers = append(r.closers, pub.Close, client.Close)

	r.subscriberFor = func(ctx context.Context, handler, topic string) (message.Subscriber, error) {
		group := consumerGroup(o.redis.Group, handler, o.redis.Scope)
		if err := ensureGroupAtTail(ctx, client, topic, group); err != nil {
			return nil, err
		}
		sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaler,
			ConsumerGroup: group,
			Consumer:      o.redis.Consumer,
		}, o.logger)
		if err != nil {
			return nil, errors.Wrapf(err, "create redis stream subscriber for %s", handler)
		}
		r.closers = append(r.closers, sub.Close)
		return sub, nil
	}
	log.Info().Str("component", "events").Str("addr", o.redis.Addr).Msg("using redis streams transport")
	return r, nil
}

func (r *Router) Publisher() message.Publisher {
	return r.publisher
}

// AddHandler subscribes f to topic under a unique handler name.
// Handlers must be added before Run.
func (r *Router) AddHandler(ctx context.Context, name, topic string, f func(*message.Message) error) error {
	sub, err := r.subscriberFor(ctx, name, topic)
	if err != nil {
		return err
	}
	r.router.AddNoPublisherHandler(name, topic, sub, f)
	return nil
}

// Run blocks until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	var first error
	if err := r.router.Close(); err != nil {
		first = err
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// consumerGroup names the group of one handler. Each handler gets its own
// group so that every handler sees every event.
func consumerGroup(prefix, handler, scope string) string {
	group := prefix + "-" + handler
	if scope != "" {
		group += "-" + scope
	}
	return group
}

// ensureGroupAtTail creates the consumer group at $ so a new handler does not
// replay the stream history.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
