package eventbus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-authcore/eventbus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func startSubscriber(t *testing.T, sub *eventbus.Subscriber) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("subscriber did not stop")
		}
	})

	select {
	case <-sub.Ready():
	case err := <-done:
		t.Fatalf("subscriber exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber not ready")
	}
}

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	raw, err := eventbus.Encode(eventbus.TypeUserDeleted, at, eventbus.UserDeleted{UserID: 42})
	require.NoError(t, err)

	fields := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "UserDeleted", fields["eventType"])
	assert.EqualValues(t, at.UnixMilli(), fields["timestamp"])
	assert.EqualValues(t, 42, fields["userId"])

	env, err := eventbus.PeekType(raw)
	require.NoError(t, err)
	assert.Equal(t, eventbus.TypeUserDeleted, env.EventType)
}

func TestPublisher_UnverifiedAccountsDeleted(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)

	sub := rdb.Subscribe(ctx, eventbus.DefaultOutboundChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := eventbus.NewPublisher(rdb, eventbus.WithPublisherLogger(nopLogger{}))
	var notifier auth.AccountsNotifier = pub
	require.NoError(t, notifier.NotifyUnverifiedAccountsDeleted(ctx, auth.UnverifiedAccountsDeleted{
		UserIDs:      []int64{3, 5},
		DeletedCount: 2,
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	evt := eventbus.UnverifiedAccountsDeleted{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
	assert.Equal(t, eventbus.TypeUnverifiedAccountsDeleted, evt.EventType)
	assert.Equal(t, []int64{3, 5}, evt.UserIDs)
	assert.Equal(t, 2, evt.DeletedCount)
	assert.NotZero(t, evt.Timestamp)
}

func TestSubscriber_RoutesByType(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)

	var mu sync.Mutex
	seen := []int64{}
	var failures atomic.Int32

	router := eventbus.Router{
		eventbus.TypeUserDeleted: func(_ context.Context, payload []byte) error {
			evt := eventbus.UserDeleted{}
			if err := json.Unmarshal(payload, &evt); err != nil {
				return err
			}
			mu.Lock()
			seen = append(seen, evt.UserID)
			mu.Unlock()
			return nil
		},
		eventbus.TypeEmailExistsConfirmed: func(context.Context, []byte) error {
			failures.Add(1)
			return fmt.Errorf("boom")
		},
	}

	sub := eventbus.NewSubscriber(rdb, router, eventbus.WithSubscriberLogger(nopLogger{}))
	startSubscriber(t, sub)

	pub := eventbus.NewPublisher(rdb,
		eventbus.WithPublisherChannel(eventbus.DefaultInboundChannel),
		eventbus.WithPublisherLogger(nopLogger{}),
	)

	require.NoError(t, rdb.Publish(ctx, eventbus.DefaultInboundChannel, "not json").Err())
	require.NoError(t, pub.Publish(ctx, "SomethingElse", map[string]any{"x": 1}))
	require.NoError(t, pub.Publish(ctx, eventbus.TypeEmailExistsConfirmed, eventbus.EmailExistsConfirmed{Email: "a@b.c"}))
	require.NoError(t, pub.Publish(ctx, eventbus.TypeUserDeleted, eventbus.UserDeleted{UserID: 8}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []int64{8}, seen)
	assert.EqualValues(t, 1, failures.Load())
}

type nopDispatcher struct {
	mu    sync.Mutex
	codes map[string]auth.Purpose
}

func (d *nopDispatcher) SendCode(email, _ string, purpose auth.Purpose) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes[email] = purpose
}

func (d *nopDispatcher) Purpose(email string) (auth.Purpose, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.codes[email]
	return p, ok
}

func TestServiceRouter_ProvisionAndDelete(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)

	db, err := auth.OpenDB(auth.DriverSQLite, "file:eventbus_svc?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, auth.Migrate(ctx, db, nopLogger{}))

	tokens, err := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	repo := auth.NewRepositoryManager(db)
	mailer := &nopDispatcher{codes: map[string]auth.Purpose{}}
	svc := auth.NewService(repo, tokens, mailer,
		auth.WithServiceLogger(nopLogger{}),
		auth.WithServiceHasher(auth.NewBcryptHasher(bcrypt.MinCost)),
	)

	sub := eventbus.NewSubscriber(rdb, eventbus.ServiceRouter(svc), eventbus.WithSubscriberLogger(nopLogger{}))
	startSubscriber(t, sub)

	pub := eventbus.NewPublisher(rdb,
		eventbus.WithPublisherChannel(eventbus.DefaultInboundChannel),
		eventbus.WithPublisherLogger(nopLogger{}),
	)

	require.NoError(t, pub.Publish(ctx, eventbus.TypeUserSaved, eventbus.UserSaved{
		UserID:   77,
		LoginID:  "jane",
		Email:    "jane@example.com",
		Password: "registration-password",
	}))

	require.Eventually(t, func() bool {
		_, err := repo.Credentials().GetByUserID(ctx, 77)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		p, ok := mailer.Purpose("jane@example.com")
		return ok && p == auth.PurposeSignUp
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, pub.Publish(ctx, eventbus.TypeUserDeleted, eventbus.UserDeleted{UserID: 77}))

	require.Eventually(t, func() bool {
		_, err := repo.Credentials().GetByUserID(ctx, 77)
		return auth.IsRichError(err, auth.TextCodeCredentialNotFound)
	}, 5*time.Second, 20*time.Millisecond)
}
