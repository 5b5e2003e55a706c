// Package core provides the fundamental types and interfaces for the kernel packages.
//
// This package contains:
//   - TaskDefinition and JobDefinition, the registered units of work
//   - Delivery, the ephemeral record of one job execution
//   - Ticker/Timer and Client/Subscriber/Subscription, the collaborator contracts
//   - Outcome, the result value produced by every tick and delivery
//   - EnqueueOptions and Backoff, the submission retry policy
//   - Error types for the kernel's failure taxonomy
//
// Most users should import the root package github.com/jdziat/durable-kernel
// instead of this package directly.
package core
