// Package schedule runs recurring tasks on cron schedules.
//
// This package includes:
//   - Kernel: binds registered TaskDefinitions to live timers, starts and stops
//     them together, and contains every tick's failure
//   - CronTicker: a core.Ticker backed by github.com/robfig/cron/v3
//   - Every(), Daily(), Weekly() helpers that build cron expressions
//   - Validate() and Next() for checking expressions up front
//
// Expressions accept an optional leading seconds field ("*/30 * * * * *"),
// the standard five fields, and descriptors such as "@hourly" or "@every 5m".
package schedule
