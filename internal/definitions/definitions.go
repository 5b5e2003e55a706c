// Package definitions is the catalogue of tasks and jobs shipped with the
// kernel binary.
package definitions

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/queue"
)

// TaskKind names a shipped recurring task.
type TaskKind string

const (
	CoffeeBreakReminder TaskKind = "CoffeeBreakReminder"
)

// TaskKinds lists every shipped task in registration order.
func TaskKinds() []TaskKind {
	return []TaskKind{CoffeeBreakReminder}
}

// JobKind names a shipped queued job.
type JobKind string

const (
	MotivationalQuoteJob JobKind = "MotivationalQuoteJob"
)

// JobKinds lists every shipped job in registration order.
func JobKinds() []JobKind {
	return []JobKind{MotivationalQuoteJob}
}

// Deps are the side effects the shipped handlers use.
type Deps struct {
	Out io.Writer
	// Pick returns a number in [0, n).
	Pick func(n int) int
	Now  func() time.Time
	// QuoteDelay is the pause between the greeting and the quote.
	QuoteDelay time.Duration
}

// DefaultDeps writes to stdout and picks quotes at random.
func DefaultDeps() Deps {
	return Deps{
		Out:        os.Stdout,
		Pick:       rand.IntN,
		Now:        time.Now,
		QuoteDelay: 1200 * time.Millisecond,
	}
}

// Task returns the definition of kind.
func Task(kind TaskKind, deps Deps) (core.TaskDefinition, error) {
	switch kind {
	case CoffeeBreakReminder:
		return coffeeBreakReminder(deps), nil
	default:
		return core.TaskDefinition{}, fmt.Errorf("definitions: unknown task kind %q", kind)
	}
}

// Job returns the definition of kind.
func Job(kind JobKind, deps Deps) (core.JobDefinition, error) {
	switch kind {
	case MotivationalQuoteJob:
		return motivationalQuoteJob(deps), nil
	default:
		return core.JobDefinition{}, fmt.Errorf("definitions: unknown job kind %q", kind)
	}
}

// Tasks returns every shipped task.
func Tasks(deps Deps) []core.TaskDefinition {
	out := make([]core.TaskDefinition, 0, len(TaskKinds()))
	for _, k := range TaskKinds() {
		def, err := Task(k, deps)
		if err != nil {
			panic(err)
		}
		out = append(out, def)
	}
	return out
}

// Jobs returns every shipped job.
func Jobs(deps Deps) []core.JobDefinition {
	out := make([]core.JobDefinition, 0, len(JobKinds()))
	for _, k := range JobKinds() {
		def, err := Job(k, deps)
		if err != nil {
			panic(err)
		}
		out = append(out, def)
	}
	return out
}

var coffeeQuotes = []string{
	"☕ Coffee time! Backend be like: compiling happiness...",
	"💻 Reminder: write code, drink coffee, repeat.",
	"🔥 Coffee break detected, commit messages are now 2x more poetic.",
	"🚀 Taking a coffee break increases productivity by 42%. Science (me) says so.",
	"😎 No coffee, no deploy. Simple math.",
}

func coffeeBreakReminder(deps Deps) core.TaskDefinition {
	return core.TaskDefinition{
		Name: string(CoffeeBreakReminder),
		Cron: "*/30 * * * * *",
		Handle: func(context.Context) error {
			quote := coffeeQuotes[deps.Pick(len(coffeeQuotes))]
			_, err := fmt.Fprintf(deps.Out, "[%s] %s\n", deps.Now().Format(time.TimeOnly), quote)
			return err
		},
	}
}

// GreetingPayload is the payload of MotivationalQuoteJob.
type GreetingPayload struct {
	User string `json:"user"`
}

var motivationalQuotes = []string{
	"🚀 Keep pushing code like it's production-ready (but test it first pls).",
	"☕ Coffee first, deploy later.",
	"🔥 If it works on your machine, it's still your machine's fault.",
	"🐛 Fix one bug, get two free!",
	"💡 Remember: logs are love, logs are life.",
	"😎 Ship fast, break nothing (hopefully).",
}

func motivationalQuoteJob(deps Deps) core.JobDefinition {
	return queue.MustTypedJob(string(MotivationalQuoteJob), func(ctx context.Context, p GreetingPayload) error {
		user := p.User
		if user == "" {
			user = "there"
		}
		quote := motivationalQuotes[deps.Pick(len(motivationalQuotes))]

		if _, err := fmt.Fprintf(deps.Out, "💬 Hey %s, your motivational quote of the moment:\n", user); err != nil {
			return err
		}

		t := time.NewTimer(deps.QuoteDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		_, err := fmt.Fprintf(deps.Out, "✨ %s\n", quote)
		return err
	})
}
