// Package dispatcher fires scheduled reports when they fall due.
//
// A robfig/cron job runs every check_interval in the configured timezone.
// Each tick lists enabled schedules whose next run is unset or not after
// now. An unset next run is only armed: the next occurrence is computed and
// stored, nothing is sent. A due schedule is fired:
//
//  1. compute the following occurrence (an invalid rule never sends)
//  2. summarize the ledger for the period ending now and render the mail
//  3. send to every recipient
//  4. on success store LastSent=now and NextRun=the following occurrence
//
// A failed delivery leaves NextRun and LastSent untouched, so the schedule
// stays due and is retried on the next tick.
package dispatcher
