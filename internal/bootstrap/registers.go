// Package bootstrap assembles the shipped definitions into one kernel per
// subsystem and exposes start, dispatch and shutdown to the entry point.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/queue"
	"github.com/jdziat/durable-kernel/pkg/schedule"
)

// ScheduleRegister feeds task definitions into one schedule kernel.
type ScheduleRegister struct {
	kernel *schedule.Kernel
}

// NewScheduleRegister adds defs to kernel in order.
func NewScheduleRegister(kernel *schedule.Kernel, defs []core.TaskDefinition) *ScheduleRegister {
	for _, def := range defs {
		kernel.AddScheduler(def)
	}
	return &ScheduleRegister{kernel: kernel}
}

// Start registers and boots the kernel. A disabled kernel logs and stays idle.
func (r *ScheduleRegister) Start() {
	r.kernel.Register()
	r.kernel.Boot()
}

// Shutdown stops every timer and waits for running ticks.
func (r *ScheduleRegister) Shutdown(ctx context.Context) error {
	return r.kernel.Shutdown(ctx)
}

// Kernel returns the underlying kernel.
func (r *ScheduleRegister) Kernel() *schedule.Kernel {
	return r.kernel
}

// QueueRegister feeds job definitions into one queue kernel.
type QueueRegister struct {
	kernel *queue.Kernel
	logger *slog.Logger
}

// NewQueueRegister adds defs to kernel in order.
func NewQueueRegister(kernel *queue.Kernel, defs []core.JobDefinition, logger *slog.Logger) *QueueRegister {
	if logger == nil {
		logger = slog.Default()
	}
	for _, def := range defs {
		kernel.AddJob(def)
	}
	return &QueueRegister{kernel: kernel, logger: logger}
}

// Start subscribes the worker and boots the kernel. When the queue is
// disabled activation is skipped and nil is returned.
func (r *QueueRegister) Start(ctx context.Context) error {
	if !r.kernel.Enabled() {
		r.logger.Info("queue disabled by configuration, worker not started")
		return nil
	}
	if err := r.kernel.Register(ctx); err != nil {
		return err
	}
	r.kernel.Boot()
	return nil
}

// Dispatch submits a job. It is a no-op when the queue is disabled.
func (r *QueueRegister) Dispatch(ctx context.Context, name string, payload any) error {
	return r.kernel.Dispatch(ctx, name, payload)
}

// Shutdown closes the worker, then the client.
func (r *QueueRegister) Shutdown(ctx context.Context) error {
	return r.kernel.Shutdown(ctx)
}

// Kernel returns the underlying kernel.
func (r *QueueRegister) Kernel() *queue.Kernel {
	return r.kernel
}
