package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/internal/handler"
)

// TypedJob builds a JobDefinition whose payload is decoded into the
// argument type of fn. fn must have one of these signatures:
//
//	func(ctx context.Context, args T) error
//	func(args T) error
//	func(ctx context.Context) error
func TypedJob(name string, fn any) (core.JobDefinition, error) {
	h, err := handler.NewHandler(fn)
	if err != nil {
		return core.JobDefinition{}, fmt.Errorf("%w: %s: %v", core.ErrDefinitionInvalid, name, err)
	}

	return core.JobDefinition{
		Name: name,
		Handle: func(ctx context.Context, payload json.RawMessage) error {
			return h.Execute(ctx, payload)
		},
	}, nil
}

// MustTypedJob is like TypedJob but panics on an invalid handler.
func MustTypedJob(name string, fn any) core.JobDefinition {
	def, err := TypedJob(name, fn)
	if err != nil {
		panic(fmt.Sprintf("queue: handler for %q: %v", name, err))
	}
	return def
}
