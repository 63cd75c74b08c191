package eventbus

import (
	"context"

	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// Publisher sends auth events to the outbound channel. It is the
// AccountsNotifier the reaper reports to.
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
	clock   auth.Clock
	logger  auth.Logger
}

var _ auth.AccountsNotifier = (*Publisher)(nil)

type PublisherOption func(*Publisher)

func WithPublisherChannel(channel string) PublisherOption {
	return func(p *Publisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

func WithPublisherClock(clock auth.Clock) PublisherOption {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func WithPublisherLogger(logger auth.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(rdb redis.UniversalClient, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		rdb:     rdb,
		channel: DefaultOutboundChannel,
		clock:   auth.SystemClock(),
		logger:  auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish encodes event under eventType and publishes it
func (p *Publisher) Publish(ctx context.Context, eventType string, event any) error {
	payload, err := Encode(eventType, p.clock.Now(), event)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode event").
			WithMetadata(map[string]any{"event_type": eventType})
	}

	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish event").
			WithMetadata(map[string]any{"event_type": eventType, "channel": p.channel})
	}

	p.logger.Debug("published %s to %s (%d receivers)", eventType, p.channel, receivers)
	return nil
}

func (p *Publisher) NotifyUnverifiedAccountsDeleted(ctx context.Context, evt auth.UnverifiedAccountsDeleted) error {
	return p.Publish(ctx, TypeUnverifiedAccountsDeleted, UnverifiedAccountsDeleted{
		UserIDs:      evt.UserIDs,
		DeletedCount: evt.DeletedCount,
	})
}
