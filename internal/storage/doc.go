// Package storage persists scheduled reports, ledger entries and the
// delivery log.
//
// Schedules are stored as documents keyed by report id. Two drivers exist:
//   - "file": JSON snapshot for schedules + JSON Lines for entries and deliveries
//   - "sqlite": a single SQLite database file (pure Go driver)
//
// Backend failures are returned as *PersistenceError.
package storage
