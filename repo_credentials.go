package auth

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeleteUnverifiedCredentialsSQL removes stale sign-ups. The
// is_verified check lives in the same statement so a record verified
// while the reaper runs is never deleted. Any code on an unverified
// record counts, whatever its purpose; with no code the age comes from
// created_at.
var DeleteUnverifiedCredentialsSQL = `DELETE FROM "credentials"
WHERE
	"is_verified" = FALSE
AND COALESCE("code_generated_at", "created_at") < ?
RETURNING "user_id";`

type Credentials interface {
	repository.Repository[*CredentialRecord]

	GetByUserID(ctx context.Context, userID int64) (*CredentialRecord, error)
	GetByUserIDTx(ctx context.Context, tx bun.IDB, userID int64) (*CredentialRecord, error)
	GetByEmail(ctx context.Context, email string) (*CredentialRecord, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*CredentialRecord, error)
	GetByLoginID(ctx context.Context, loginID string) (*CredentialRecord, error)
	GetByLoginIDTx(ctx context.Context, tx bun.IDB, loginID string) (*CredentialRecord, error)

	ProvisionTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) (*CredentialRecord, error)
	SaveCodeTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) error
	ConsumeCodeTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, expected string) (bool, error)
	SaveTokensTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) error
	RotateTokensTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, previous string) (bool, error)
	ClearTokensTx(ctx context.Context, tx bun.IDB, userID int64) error
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) error
	DeleteByUserIDTx(ctx context.Context, tx bun.IDB, userID int64) (bool, error)
	DeleteUnverifiedBeforeTx(ctx context.Context, tx bun.IDB, cutoff time.Time) ([]int64, error)
}

type credentials struct {
	repository.Repository[*CredentialRecord]
	db    *bun.DB
	clock Clock
}

var (
	_ Credentials                              = (*credentials)(nil)
	_ repository.Repository[*CredentialRecord] = (*credentials)(nil)
)

type CredentialsOption func(*credentials)

func WithCredentialsClock(clock Clock) CredentialsOption {
	return func(c *credentials) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewCredentialsRepository(db *bun.DB, opts ...CredentialsOption) Credentials {
	repo := repository.NewRepository[*CredentialRecord](db, repository.ModelHandlers[*CredentialRecord]{
		NewRecord: func() *CredentialRecord { return &CredentialRecord{} },
		GetID: func(r *CredentialRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *CredentialRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	c := &credentials{
		Repository: repo,
		db:         db,
		clock:      SystemClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *credentials) GetByUserID(ctx context.Context, userID int64) (*CredentialRecord, error) {
	return c.GetByUserIDTx(ctx, c.db, userID)
}

func (c *credentials) GetByUserIDTx(ctx context.Context, tx bun.IDB, userID int64) (*CredentialRecord, error) {
	return c.getBy(ctx, tx, "user_id", userID)
}

func (c *credentials) GetByEmail(ctx context.Context, email string) (*CredentialRecord, error) {
	return c.GetByEmailTx(ctx, c.db, email)
}

func (c *credentials) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*CredentialRecord, error) {
	return c.getBy(ctx, tx, "email", normalizeEmail(email))
}

func (c *credentials) GetByLoginID(ctx context.Context, loginID string) (*CredentialRecord, error) {
	return c.GetByLoginIDTx(ctx, c.db, loginID)
}

func (c *credentials) GetByLoginIDTx(ctx context.Context, tx bun.IDB, loginID string) (*CredentialRecord, error) {
	return c.getBy(ctx, tx, "login_id", strings.TrimSpace(loginID))
}

func (c *credentials) getBy(ctx context.Context, tx bun.IDB, column string, value any) (*CredentialRecord, error) {
	record := &CredentialRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load credential").
			WithMetadata(map[string]any{"column": column})
	}
	return record, nil
}

// ProvisionTx creates the record for a new identity. Identity, login id
// and email must all be unused.
func (c *credentials) ProvisionTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) (*CredentialRecord, error) {
	record.Email = normalizeEmail(record.Email)
	record.LoginID = strings.TrimSpace(record.LoginID)

	exists, err := tx.NewSelect().
		Model((*CredentialRecord)(nil)).
		WhereOr("user_id = ?", record.UserID).
		WhereOr("email = ?", record.Email).
		WhereOr("login_id = ?", record.LoginID).
		Exists(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check credential uniqueness")
	}
	if exists {
		return nil, ErrCredentialExists
	}

	now := c.clock.Now()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	return c.Repository.CreateTx(ctx, tx, record)
}

func (c *credentials) SaveCodeTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) error {
	record.UpdatedAt = c.clock.Now()
	_, err := tx.NewUpdate().
		Model(record).
		Column("verification_code", "code_generated_at", "purpose", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save verification code")
	}
	return nil
}

// ConsumeCodeTx writes the consumed state only if the stored code is
// still expected. A resend that landed first makes it return false.
func (c *credentials) ConsumeCodeTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, expected string) (bool, error) {
	record.UpdatedAt = c.clock.Now()
	res, err := tx.NewUpdate().
		Model(record).
		Column("is_verified", "verification_code", "code_generated_at", "purpose", "updated_at").
		WherePK().
		Where("verification_code = ?", expected).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume verification code")
	}
	return affected(res), nil
}

func (c *credentials) SaveTokensTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) error {
	record.UpdatedAt = c.clock.Now()
	_, err := tx.NewUpdate().
		Model(record).
		Column("access_token", "refresh_token", "token_issued_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save tokens")
	}
	return nil
}

// RotateTokensTx replaces the pair only while previous is still the
// refresh token on file.
func (c *credentials) RotateTokensTx(ctx context.Context, tx bun.IDB, record *CredentialRecord, previous string) (bool, error) {
	record.UpdatedAt = c.clock.Now()
	res, err := tx.NewUpdate().
		Model(record).
		Column("access_token", "refresh_token", "token_issued_at", "updated_at").
		WherePK().
		Where("refresh_token = ?", previous).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate tokens")
	}
	return affected(res), nil
}

func (c *credentials) ClearTokensTx(ctx context.Context, tx bun.IDB, userID int64) error {
	_, err := tx.NewUpdate().
		Model((*CredentialRecord)(nil)).
		Set("access_token = NULL").
		Set("refresh_token = NULL").
		Set("token_issued_at = NULL").
		Set("updated_at = ?", c.clock.Now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear tokens")
	}
	return nil
}

// UpdatePasswordTx persists the hash and the token columns, so a reset
// that cleared the pair on the record clears it in the store too.
func (c *credentials) UpdatePasswordTx(ctx context.Context, tx bun.IDB, record *CredentialRecord) error {
	record.UpdatedAt = c.clock.Now()
	_, err := tx.NewUpdate().
		Model(record).
		Column("password_hash", "access_token", "refresh_token", "token_issued_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}
	return nil
}

func (c *credentials) DeleteByUserIDTx(ctx context.Context, tx bun.IDB, userID int64) (bool, error) {
	res, err := tx.NewDelete().
		Model((*CredentialRecord)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete credential")
	}
	return affected(res), nil
}

func (c *credentials) DeleteUnverifiedBeforeTx(ctx context.Context, tx bun.IDB, cutoff time.Time) ([]int64, error) {
	ids := []int64{}
	err := tx.NewRaw(DeleteUnverifiedCredentialsSQL, cutoff).Scan(ctx, &ids)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete unverified credentials")
	}
	slices.Sort(ids)
	return ids, nil
}

func affected(res sql.Result) bool {
	if res == nil {
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
