// Package redisbroker is a durable job broker stored in Redis.
//
// Each job is a hash. Ready job ids sit in a wait list, and the worker moves
// one at a time into an active list with BLMOVE so a claimed id is never
// only in memory. Failed deliveries that have attempts left wait in a sorted
// set scored by their retry time and are promoted back to the wait list by a
// Lua script. Completed and failed jobs are kept in sorted sets for the
// retention window and their hashes expire on their own.
//
// Ids left in the active list by a crashed process are not recovered
// automatically; Requeue moves them back to the wait list.
package redisbroker
