// Package auth is the credential core shared by the auth service, the
// edge gateway and the account reaper.
//
// Tokens:
//   - TokenServiceImpl signs HS256 access (1h), refresh (7d) and email
//     (10m) tokens with one secret of at least 32 bytes. Validate returns a
//     TokenResult instead of an error so callers can tell a missing token
//     from an expired or forged one.
//   - Refresh tokens rotate: the record keeps the last pair it issued and a
//     refresh is accepted only when it matches the stored value.
//
// Verification:
//   - One six digit code per record, tagged with its purpose (sign-up or
//     password reset). Codes expire after ten minutes and cannot be
//     re-issued within a minute of the previous one.
//   - Mail goes out through EmailDispatcher without blocking the request:
//     HTML first, plain text once if that fails, then dropped with a log
//     line.
//
// HTTP:
//   - AuthController mounts the endpoints on a go-router Router. Commands
//     return go-errors values and ErrorHandler maps their category to the
//     response status in one place.
//
// Background:
//   - AccountReaper deletes unverified sign-ups older than the grace
//     period and reports the removed identities in a single notification.
//     ReaperScheduler runs it on a cron schedule.
package auth
