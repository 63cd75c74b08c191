package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// HandlerFunc processes the raw payload of one event type
type HandlerFunc func(ctx context.Context, payload []byte) error

// Router maps event types to handlers. Unknown types are ignored.
type Router map[string]HandlerFunc

// ServiceRouter feeds profile events into the credential commands
func ServiceRouter(svc *auth.Service) Router {
	return Router{
		TypeUserSaved: func(ctx context.Context, payload []byte) error {
			evt := UserSaved{}
			if err := json.Unmarshal(payload, &evt); err != nil {
				return err
			}
			msg := auth.RegisterCredentialMessage{
				UserID:  evt.UserID,
				LoginID: evt.LoginID,
				Email:   evt.Email,
			}
			if evt.PasswordHash != "" {
				msg.PasswordHash = evt.PasswordHash
			} else {
				msg.Password = evt.Password
			}
			return svc.Register.Execute(ctx, msg)
		},
		TypeUserDeleted: func(ctx context.Context, payload []byte) error {
			evt := UserDeleted{}
			if err := json.Unmarshal(payload, &evt); err != nil {
				return err
			}
			return svc.Delete.Execute(ctx, auth.DeleteCredentialMessage{UserID: evt.UserID})
		},
		TypeEmailExistsConfirmed: func(ctx context.Context, payload []byte) error {
			evt := EmailExistsConfirmed{}
			if err := json.Unmarshal(payload, &evt); err != nil {
				return err
			}
			return svc.ResetInit.Execute(ctx, auth.InitializePasswordResetMessage{Email: evt.Email})
		},
	}
}

// Subscriber consumes the inbound channel until its context ends.
// Handler failures are logged; delivery is at most once.
type Subscriber struct {
	rdb     redis.UniversalClient
	channel string
	router  Router
	logger  auth.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

type SubscriberOption func(*Subscriber)

func WithSubscriberChannel(channel string) SubscriberOption {
	return func(s *Subscriber) {
		if channel != "" {
			s.channel = channel
		}
	}
}

func WithSubscriberLogger(logger auth.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSubscriber(rdb redis.UniversalClient, router Router, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		rdb:     rdb,
		channel: DefaultInboundChannel,
		router:  router,
		logger:  auth.DefaultLogger(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Ready is closed once the subscription is confirmed by the server
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to subscribe").
			WithMetadata(map[string]any{"channel": s.channel})
	}
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("subscribed to %s", s.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.Dispatch(ctx, []byte(msg.Payload))
		}
	}
}

// Dispatch routes a single payload to its handler
func (s *Subscriber) Dispatch(ctx context.Context, payload []byte) {
	env, err := PeekType(payload)
	if err != nil {
		s.logger.Warn("dropping unreadable event on %s: %v", s.channel, err)
		return
	}

	handler, ok := s.router[env.EventType]
	if !ok {
		s.logger.Debug("ignoring event %q", env.EventType)
		return
	}

	if err := handler(ctx, payload); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Category != goerrors.CategoryInternal {
			s.logger.Warn("event %s rejected: %s %s", env.EventType, richErr.TextCode, richErr.Message)
			return
		}
		s.logger.Error("event %s failed: %v", env.EventType, err)
		return
	}
	s.logger.Debug("handled event %s", env.EventType)
}
