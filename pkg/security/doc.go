// Package security provides validation, sanitization, and limits for the kernel packages.
//
// This package includes:
//   - Input validation for task, job, and queue names
//   - Payload size limits for submitted jobs
//   - Error message sanitization before brokers store failure details
//   - Clamping of delivery attempts to a safe range
package security
