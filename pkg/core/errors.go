package core

import (
	"errors"
	"fmt"
)

// Kernel errors
var (
	ErrDefinitionInvalid = errors.New("kernel: invalid definition")
	ErrUnknownJob        = errors.New("kernel: unknown job")
	ErrNotRegistered     = errors.New("kernel: boot attempted before registration")
	ErrAlreadyRegistered = errors.New("kernel: already registered")
	ErrDrainTimeout      = errors.New("kernel: in-flight work did not finish before shutdown deadline")
	ErrShutdown          = errors.New("kernel: shut down")
)

// Submission errors
var (
	ErrInvalidName    = errors.New("kernel: invalid job name")
	ErrNameTooLong    = errors.New("kernel: job name too long")
	ErrInvalidPayload = errors.New("kernel: invalid job payload")
)

// BrokerError is a failure reported by the broker while connecting,
// enqueueing, or closing. It is the only error class the queue kernel
// returns to its callers.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("kernel: broker %s: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError wraps err as a BrokerError for op. A nil err returns nil.
func NewBrokerError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BrokerError{Op: op, Err: err}
}

// IsBrokerError reports whether err is or wraps a BrokerError.
func IsBrokerError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be)
}

// PanicError is a recovered panic from a task or job handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
