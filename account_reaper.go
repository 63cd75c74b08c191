package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"
)

const (
	// DefaultReaperGrace is how long a sign-up may stay unverified
	DefaultReaperGrace = 24 * time.Hour
	// DefaultReaperSchedule runs the sweep every minute
	DefaultReaperSchedule = "@every 1m"
)

// AccountReaper deletes credentials whose sign-up verification never
// completed and tells the profile store about them in one batch.
type AccountReaper struct {
	repo     RepositoryManager
	notifier AccountsNotifier
	grace    time.Duration
	clock    Clock
	logger   Logger
	activity ActivitySink

	mu sync.Mutex
	// undelivered holds batches whose notification failed. They are
	// retried, oldest first, at the start of the next run.
	undelivered []UnverifiedAccountsDeleted
}

type ReaperOption func(*AccountReaper)

func WithReaperGrace(grace time.Duration) ReaperOption {
	return func(r *AccountReaper) {
		if grace > 0 {
			r.grace = grace
		}
	}
}

func WithReaperClock(clock Clock) ReaperOption {
	return func(r *AccountReaper) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func WithReaperLogger(logger Logger) ReaperOption {
	return func(r *AccountReaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithReaperActivity(sink ActivitySink) ReaperOption {
	return func(r *AccountReaper) {
		r.activity = sink
	}
}

func NewAccountReaper(repo RepositoryManager, notifier AccountsNotifier, opts ...ReaperOption) *AccountReaper {
	r := &AccountReaper{
		repo:     repo,
		notifier: notifier,
		grace:    DefaultReaperGrace,
		clock:    SystemClock(),
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run performs one sweep. The delete statement itself re-checks that a
// record is still unverified, so an account verified while the sweep is
// running survives it. The notification is sent after commit and only
// when something was deleted. A batch that could not be published is
// kept and retried on later runs.
func (r *AccountReaper) Run(ctx context.Context) (UnverifiedAccountsDeleted, error) {
	evt := UnverifiedAccountsDeleted{}
	if err := ctx.Err(); err != nil {
		return evt, goerrors.Wrap(err, goerrors.CategoryOperation, "reaper run cancelled")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.redeliver(ctx)

	now := r.clock.Now()
	cutoff := now.Add(-r.grace)

	var ids []int64
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		ids, err = r.repo.Credentials().DeleteUnverifiedBeforeTx(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		r.logger.Error("reaper: delete failed: %v", err)
		return evt, richOrWrap(err, "failed to delete unverified accounts")
	}

	if len(ids) == 0 {
		r.logger.Debug("reaper: nothing to delete before %s", cutoff.Format(time.RFC3339))
		return evt, nil
	}

	evt = UnverifiedAccountsDeleted{
		UserIDs:      ids,
		DeletedCount: len(ids),
		OccurredAt:   now,
	}
	r.logger.Info("reaper: deleted %d unverified accounts", len(ids))

	if err := normalizeActivitySink(r.activity).Record(ctx, ActivityEvent{
		EventType:  ActivityEventAccountsReaped,
		Metadata:   map[string]any{"user_ids": ids, "deleted_count": len(ids)},
		OccurredAt: now,
	}); err != nil {
		r.logger.Warn("activity sink error for %s: %v", ActivityEventAccountsReaped, err)
	}

	if r.notifier == nil {
		return evt, nil
	}

	if err := r.notifier.NotifyUnverifiedAccountsDeleted(ctx, evt); err != nil {
		r.keep(evt, err)
		return evt, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish unverified accounts deletion").
			WithMetadata(map[string]any{"user_ids": ids})
	}
	return evt, nil
}

// Undelivered returns the batches still waiting to be published
func (r *AccountReaper) Undelivered() []UnverifiedAccountsDeleted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UnverifiedAccountsDeleted(nil), r.undelivered...)
}

func (r *AccountReaper) keep(evt UnverifiedAccountsDeleted, err error) {
	// full id list so the batch can be replayed by hand if the process dies
	r.logger.Error("reaper: notification failed, user_ids=%v deleted_count=%d: %v", evt.UserIDs, evt.DeletedCount, err)
	r.undelivered = append(r.undelivered, evt)
}

func (r *AccountReaper) redeliver(ctx context.Context) {
	if r.notifier == nil || len(r.undelivered) == 0 {
		return
	}

	pending := r.undelivered
	r.undelivered = nil
	for i, evt := range pending {
		if err := r.notifier.NotifyUnverifiedAccountsDeleted(ctx, evt); err != nil {
			r.logger.Warn("reaper: redelivery of %d accounts failed: %v", evt.DeletedCount, err)
			r.undelivered = append(r.undelivered, pending[i:]...)
			return
		}
		r.logger.Info("reaper: redelivered batch of %d accounts", evt.DeletedCount)
	}
}

// ReaperScheduler runs an AccountReaper on a cron schedule. Runs never
// overlap and a failed or panicking run does not stop the schedule.
type ReaperScheduler struct {
	reaper  *AccountReaper
	cron    *cron.Cron
	logger  Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
}

type SchedulerOption func(*ReaperScheduler)

func WithSchedulerLogger(logger Logger) SchedulerOption {
	return func(s *ReaperScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunTimeout bounds a single sweep
func WithRunTimeout(timeout time.Duration) SchedulerOption {
	return func(s *ReaperScheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func NewReaperScheduler(reaper *AccountReaper, schedule string, opts ...SchedulerOption) (*ReaperScheduler, error) {
	s := &ReaperScheduler{
		reaper:  reaper,
		logger:  defLogger{},
		timeout: time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if schedule == "" {
		schedule = DefaultReaperSchedule
	}

	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid reaper schedule").
			WithMetadata(map[string]any{"schedule": schedule})
	}
	return s, nil
}

func (s *ReaperScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// errors are logged by the reaper, the next run retries
	_, _ = s.reaper.Run(ctx)
}

func (s *ReaperScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (s *ReaperScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts Logger to the cron logging interface
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
