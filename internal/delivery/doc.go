// Package delivery sends rendered reports to their recipients.
//
// A recipient is either an e-mail address, delivered over SMTP, or
// "telegram:<chat_id>[/<thread_id>]", delivered through a Telegram bot.
// With dry_run set every message goes to the log instead.
//
// # Pipeline
//
// Each recipient is sent on its own: rate limit, per-call timeout, and up
// to retry_max retries with exponential backoff and jitter. Permanent
// failures (malformed address, 5xx SMTP replies) are not retried. A
// recipient that still fails yields a *DeliveryError; failures for several
// recipients are joined with errors.Join.
package delivery
