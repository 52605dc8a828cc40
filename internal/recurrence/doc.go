// Package recurrence computes next-run instants for recurring report schedules.
//
// A schedule fires daily, weekly (on one weekday) or monthly (on one day of
// the month) at a fixed wall-clock time. All calculations happen in the
// location of the reference instant passed by the caller; the package never
// reads the clock.
//
// Days of month that do not exist in a given month (e.g. 31 in April) clamp
// to the last day of that month.
package recurrence
