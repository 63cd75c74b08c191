package auth_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef-test")

// testClock is an advanceable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTokenService(clock auth.Clock) *auth.TokenServiceImpl {
	ts, err := auth.NewTokenService(testSecret, auth.WithTokenClock(clock), auth.WithTokenLogger(nopLogger{}))
	if err != nil {
		panic(err)
	}
	return ts
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

var dbSeq atomic.Int64

// newTestDB opens a private in-memory sqlite database with the
// migrations applied.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:authcore_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := auth.OpenDB(auth.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.Migrate(context.Background(), db, nopLogger{}))
	return db
}

// seedCredential stores a record for userID with the given password.
func seedCredential(t *testing.T, repo auth.RepositoryManager, userID int64, email, password string, verified bool) *auth.CredentialRecord {
	t.Helper()

	hash, err := auth.NewBcryptHasher(bcrypt.MinCost).HashPassword(password)
	require.NoError(t, err)

	record := &auth.CredentialRecord{
		UserID:       userID,
		LoginID:      fmt.Sprintf("user%d", userID),
		Email:        email,
		PasswordHash: hash,
		IsVerified:   verified,
	}

	var out *auth.CredentialRecord
	err = repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		out, err = repo.Credentials().ProvisionTx(ctx, tx, record)
		return err
	})
	require.NoError(t, err)
	return out
}
