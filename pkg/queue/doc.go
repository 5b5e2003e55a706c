// Package queue runs named jobs submitted through a durable broker.
//
// This package includes:
//   - Kernel: owns one broker client for submission and exactly one worker
//     subscription for execution, dispatches each delivery to its handler by
//     exact name and contains every handler failure
//   - Option: configuration for the kernel, including the enqueue policy
//   - TypedJob: builds a JobDefinition from a func(ctx, T) error
//
// Handler failures complete the delivery. Broker-level retries (attempts and
// backoff set on submission) only cover failures the broker itself observes.
package queue
