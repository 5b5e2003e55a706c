// Package sqlbroker is a durable job broker stored in a SQL table via GORM.
//
// This package includes:
//   - Broker: implements core.Client (Enqueue, Close) and core.Subscriber
//     (Subscribe) for one named queue
//   - A single polling worker per Broker that claims due jobs under a lock,
//     extends the lock with heartbeats while a delivery runs, and applies the
//     attempts and backoff recorded with each job when a delivery fails
//   - A maintenance loop that reclaims jobs abandoned by crashed workers and
//     removes finished jobs according to a Retention policy
//   - Open and ConfigurePool for SQLite and PostgreSQL connections
//
// PostgreSQL claims use FOR UPDATE SKIP LOCKED, so several processes may
// consume the same queue. SQLite is limited to one connection.
package sqlbroker
