package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-kernel/pkg/core"
	"github.com/jdziat/durable-kernel/pkg/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ────────────────────────────────────────────────────────────────────────────
// Mocks
// ────────────────────────────────────────────────────────────────────────────

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Enqueue(ctx context.Context, name string, payload json.RawMessage, opts core.EnqueueOptions) (string, error) {
	args := m.Called(ctx, name, payload, opts)
	return args.String(0), args.Error(1)
}

func (m *mockClient) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockSubscriber struct {
	mock.Mock

	mu sync.Mutex
	fn core.DeliveryFunc
}

func (m *mockSubscriber) Subscribe(ctx context.Context, fn core.DeliveryFunc) (core.Subscription, error) {
	m.mu.Lock()
	m.fn = fn
	m.mu.Unlock()

	args := m.Called(ctx, fn)
	sub, _ := args.Get(0).(core.Subscription)
	return sub, args.Error(1)
}

// deliver plays the broker's worker for one delivery.
func (m *mockSubscriber) deliver(ctx context.Context, name string, payload string) error {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	return fn(ctx, &core.Delivery{
		ID:          "d-" + name,
		Name:        name,
		Payload:     json.RawMessage(payload),
		Attempt:     1,
		MaxAttempts: 3,
		DeliveredAt: time.Now(),
	})
}

type mockSubscription struct {
	mock.Mock
}

func (m *mockSubscription) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type fixture struct {
	client       *mockClient
	subscriber   *mockSubscriber
	subscription *mockSubscription
	kernel       *Kernel
	outcomes     *outcomeRecorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		client:       &mockClient{},
		subscriber:   &mockSubscriber{},
		subscription: &mockSubscription{},
		outcomes:     &outcomeRecorder{},
	}
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	f.kernel = NewKernel(f.client, f.subscriber, opts...)
	f.kernel.OnOutcome(f.outcomes.hook)
	return f
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	f.subscriber.On("Subscribe", mock.Anything, mock.Anything).Return(f.subscription, nil).Once()
	require.NoError(t, f.kernel.Register(context.Background()))
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []core.Outcome
}

func (r *outcomeRecorder) hook(_ context.Context, o core.Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *outcomeRecorder) all() []core.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// ────────────────────────────────────────────────────────────────────────────
// Dispatch
// ────────────────────────────────────────────────────────────────────────────

func TestDispatch_EnqueuesOnceWithDefaultPolicy(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	f.client.On("Enqueue", mock.Anything, "MotivationalQuoteJob",
		json.RawMessage(`{"user":"Ada"}`), core.DefaultEnqueueOptions()).
		Return("job-1", nil).Once()

	err := f.kernel.Dispatch(context.Background(), "MotivationalQuoteJob", map[string]string{"user": "Ada"})
	require.NoError(t, err)

	f.client.AssertNumberOfCalls(t, "Enqueue", 1)
	f.client.AssertExpectations(t)
}

func TestDispatch_DefaultPolicyValues(t *testing.T) {
	f := newFixture(t)

	var got core.EnqueueOptions
	f.client.On("Enqueue", mock.Anything, "Job1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(3).(core.EnqueueOptions) }).
		Return("id", nil).Once()

	require.NoError(t, f.kernel.Dispatch(context.Background(), "Job1", nil))

	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, core.BackoffExponential, got.Backoff.Type)
	assert.Equal(t, 2*time.Second, got.Backoff.Delay)
	assert.True(t, got.RemoveOnComplete)
}

func TestDispatch_CustomEnqueueOptionsAreClamped(t *testing.T) {
	f := newFixture(t, WithEnqueueOptions(core.EnqueueOptions{Attempts: 1000}))

	f.client.On("Enqueue", mock.Anything, "Job1", mock.Anything,
		core.EnqueueOptions{Attempts: security.MaxAttempts, Backoff: core.Backoff{Type: core.BackoffExponential}}).
		Return("id", nil).Once()

	require.NoError(t, f.kernel.Dispatch(context.Background(), "Job1", nil))
	f.client.AssertExpectations(t)
}

func TestDispatch_RawPayloadPassesThrough(t *testing.T) {
	f := newFixture(t)

	raw := json.RawMessage(`{"already":"encoded"}`)
	f.client.On("Enqueue", mock.Anything, "Job1", raw, mock.Anything).Return("id", nil).Once()

	require.NoError(t, f.kernel.Dispatch(context.Background(), "Job1", raw))
	f.client.AssertExpectations(t)
}

func TestDispatch_DoesNotRequireLocalHandler(t *testing.T) {
	f := newFixture(t)

	f.client.On("Enqueue", mock.Anything, "HandledElsewhere", mock.Anything, mock.Anything).Return("id", nil).Once()

	require.NoError(t, f.kernel.Dispatch(context.Background(), "HandledElsewhere", struct{}{}))
	assert.False(t, f.kernel.HasJob("HandledElsewhere"))
}

func TestDispatch_RejectsBeforeContactingBroker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.kernel.Dispatch(ctx, "", nil), core.ErrInvalidName)
	assert.ErrorIs(t, f.kernel.Dispatch(ctx, "bad name", nil), core.ErrInvalidName)
	assert.ErrorIs(t, f.kernel.Dispatch(ctx, strings.Repeat("a", 300), nil), core.ErrNameTooLong)
	assert.ErrorIs(t, f.kernel.Dispatch(ctx, "Job1", make(chan int)), core.ErrInvalidPayload)
	assert.ErrorIs(t, f.kernel.Dispatch(ctx, "Job1", []byte("{not json")), core.ErrInvalidPayload)

	big := `"` + strings.Repeat("x", security.MaxPayloadSize) + `"`
	assert.ErrorIs(t, f.kernel.Dispatch(ctx, "Job1", json.RawMessage(big)), core.ErrInvalidPayload)

	f.client.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_WrapsBrokerError(t *testing.T) {
	f := newFixture(t)
	refused := errors.New("connection refused")

	f.client.On("Enqueue", mock.Anything, "Job1", mock.Anything, mock.Anything).Return("", refused).Once()

	err := f.kernel.Dispatch(context.Background(), "Job1", nil)
	require.Error(t, err)

	var be *core.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "enqueue", be.Op)
	assert.ErrorIs(t, err, refused)
}

func TestDispatch_Concurrent(t *testing.T) {
	f := newFixture(t)

	var ids atomic.Int32
	f.client.On("Enqueue", mock.Anything, "Job1", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { ids.Add(1) }).
		Return("id", nil)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- f.kernel.Dispatch(context.Background(), "Job1", map[string]int{"n": i})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, n, ids.Load())
	f.client.AssertNumberOfCalls(t, "Enqueue", n)
}

func TestDispatch_Hooks(t *testing.T) {
	f := newFixture(t)

	f.client.On("Enqueue", mock.Anything, "Job1", mock.Anything, mock.Anything).Return("id", nil).Once()

	var seen []string
	f.kernel.OnDispatch(func(_ context.Context, name string, err error) {
		if err != nil {
			seen = append(seen, name+":error")
			return
		}
		seen = append(seen, name+":ok")
	})

	require.NoError(t, f.kernel.Dispatch(context.Background(), "Job1", nil))
	require.Error(t, f.kernel.Dispatch(context.Background(), "bad name", nil))

	assert.Equal(t, []string{"Job1:ok", "bad name:error"}, seen)
}

func TestDispatch_AfterShutdown(t *testing.T) {
	f := newFixture(t)
	f.client.On("Close", mock.Anything).Return(nil).Once()

	require.NoError(t, f.kernel.Shutdown(context.Background()))

	err := f.kernel.Dispatch(context.Background(), "Job1", nil)
	assert.ErrorIs(t, err, core.ErrShutdown)
	assert.True(t, core.IsBrokerError(err))
	f.client.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ────────────────────────────────────────────────────────────────────────────
// Deliveries
// ────────────────────────────────────────────────────────────────────────────

func TestDeliver_RunsHandlerWithPayload(t *testing.T) {
	f := newFixture(t)

	var got string
	f.kernel.AddJob(core.JobDefinition{
		Name: "Job1",
		Handle: func(_ context.Context, payload json.RawMessage) error {
			got = string(payload)
			return nil
		},
	})
	f.register(t)

	require.NoError(t, f.subscriber.deliver(context.Background(), "Job1", `{"user":"Ada"}`))

	assert.Equal(t, `{"user":"Ada"}`, got)
	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, core.KindJob, outcomes[0].Kind)
	assert.True(t, outcomes[0].OK())
}

func TestDeliver_HandlerFailureCompletesDelivery(t *testing.T) {
	buf := &syncBuffer{}
	f := newFixture(t, WithLogger(slog.New(slog.NewTextHandler(buf, nil))))

	var calls atomic.Int32
	f.kernel.AddJob(core.JobDefinition{
		Name: "Job1",
		Handle: func(context.Context, json.RawMessage) error {
			calls.Add(1)
			return errors.New("boom")
		},
	})
	f.register(t)

	assert.NoError(t, f.subscriber.deliver(context.Background(), "Job1", `{}`))
	assert.NoError(t, f.subscriber.deliver(context.Background(), "Job1", `{}`), "the worker keeps accepting deliveries")

	assert.EqualValues(t, 2, calls.Load())
	assert.Contains(t, buf.String(), "job failed")
	assert.Contains(t, buf.String(), "boom")

	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 2)
	assert.EqualError(t, outcomes[0].Err, "boom")
}

func TestDeliver_RecoversPanic(t *testing.T) {
	f := newFixture(t)

	f.kernel.AddJob(core.JobDefinition{
		Name:   "Job1",
		Handle: func(context.Context, json.RawMessage) error { panic("kaboom") },
	})
	f.register(t)

	assert.NotPanics(t, func() {
		assert.NoError(t, f.subscriber.deliver(context.Background(), "Job1", `{}`))
	})

	var pe *core.PanicError
	assert.ErrorAs(t, f.outcomes.all()[0].Err, &pe)
}

func TestDeliver_UnknownJobCompletesDelivery(t *testing.T) {
	buf := &syncBuffer{}
	f := newFixture(t, WithLogger(slog.New(slog.NewTextHandler(buf, nil))))

	var calls atomic.Int32
	f.kernel.AddJob(core.JobDefinition{
		Name:   "Job1",
		Handle: func(context.Context, json.RawMessage) error { calls.Add(1); return nil },
	})
	f.register(t)

	assert.NoError(t, f.subscriber.deliver(context.Background(), "Job2", `{}`))
	assert.NoError(t, f.subscriber.deliver(context.Background(), "job1", `{}`), "names match exactly")

	assert.Zero(t, calls.Load())
	assert.Contains(t, buf.String(), "unknown job")
	outcomes := f.outcomes.all()
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Unknown)
	assert.Equal(t, "unknown", outcomes[1].Result())
}

func TestDeliver_TypedJob(t *testing.T) {
	f := newFixture(t)

	type greeting struct {
		User string `json:"user"`
	}
	var got greeting
	f.kernel.AddJob(MustTypedJob("Greet", func(_ context.Context, g greeting) error {
		got = g
		return nil
	}))
	f.register(t)

	require.NoError(t, f.subscriber.deliver(context.Background(), "Greet", `{"user":"Uğur"}`))
	assert.Equal(t, "Uğur", got.User)
}

func TestAddJob_SkipsInvalidAndDuplicates(t *testing.T) {
	f := newFixture(t)
	noop := func(context.Context, json.RawMessage) error { return nil }

	f.kernel.AddJob(core.JobDefinition{Name: "Job1", Handle: noop})
	f.kernel.AddJob(core.JobDefinition{Name: "Job1", Handle: func(context.Context, json.RawMessage) error {
		return errors.New("second definition must not win")
	}})
	f.kernel.AddJob(core.JobDefinition{Name: "NoHandler"})
	f.kernel.AddJob(core.JobDefinition{Name: "Job2", Handle: noop})

	assert.Equal(t, []string{"Job1", "Job2"}, f.kernel.Jobs())

	f.register(t)
	require.NoError(t, f.subscriber.deliver(context.Background(), "Job1", `{}`))
	assert.True(t, f.outcomes.all()[0].OK())
}

// ────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ────────────────────────────────────────────────────────────────────────────

func TestLifecycle_StateTransitions(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, core.WorkerAbsent, f.kernel.State())

	f.register(t)
	assert.Equal(t, core.WorkerActive, f.kernel.State())

	f.kernel.Boot()

	f.subscription.On("Close", mock.Anything).Return(nil).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()
	require.NoError(t, f.kernel.Shutdown(context.Background()))
	assert.Equal(t, core.WorkerClosed, f.kernel.State())
}

func TestRegister_OnlyOneWorker(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	require.NoError(t, f.kernel.Register(context.Background()))
	f.subscriber.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestRegister_WrapsSubscribeError(t *testing.T) {
	f := newFixture(t)
	f.subscriber.On("Subscribe", mock.Anything, mock.Anything).Return(nil, errors.New("no route to host")).Once()

	err := f.kernel.Register(context.Background())

	var be *core.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "subscribe", be.Op)
	assert.Equal(t, core.WorkerAbsent, f.kernel.State())
}

func TestBoot_BeforeRegisterLogsError(t *testing.T) {
	buf := &syncBuffer{}
	f := newFixture(t, WithLogger(slog.New(slog.NewTextHandler(buf, nil))))

	assert.NotPanics(t, f.kernel.Boot)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Equal(t, core.WorkerAbsent, f.kernel.State())
}

func TestShutdown_ClosesWorkerBeforeClient(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	var order []string
	f.subscription.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "worker") }).Return(nil).Once()
	f.client.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "client") }).Return(nil).Once()

	require.NoError(t, f.kernel.Shutdown(context.Background()))
	assert.Equal(t, []string{"worker", "client"}, order)
}

func TestShutdown_Twice(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	f.subscription.On("Close", mock.Anything).Return(nil).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()

	require.NoError(t, f.kernel.Shutdown(context.Background()))
	require.NoError(t, f.kernel.Shutdown(context.Background()))

	f.subscription.AssertNumberOfCalls(t, "Close", 1)
	f.client.AssertNumberOfCalls(t, "Close", 1)
}

func TestShutdown_BeforeRegisterClosesClientOnly(t *testing.T) {
	f := newFixture(t)
	f.client.On("Close", mock.Anything).Return(nil).Once()

	require.NoError(t, f.kernel.Shutdown(context.Background()))

	f.subscription.AssertNotCalled(t, "Close", mock.Anything)
	assert.Equal(t, core.WorkerAbsent, f.kernel.State())
}

func TestShutdown_ReportsBrokerErrorsButClosesClient(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	f.subscription.On("Close", mock.Anything).Return(errors.New("worker stuck")).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()

	err := f.kernel.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsBrokerError(err))
	f.client.AssertExpectations(t)
}

func TestShutdown_DrainTimeoutCancelsHandler(t *testing.T) {
	f := newFixture(t, WithDrainTimeout(20*time.Millisecond))

	started := make(chan struct{})
	f.kernel.AddJob(core.JobDefinition{
		Name: "Stuck",
		Handle: func(ctx context.Context, _ json.RawMessage) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	f.register(t)

	done := make(chan error, 1)
	go func() { done <- f.subscriber.deliver(context.Background(), "Stuck", `{}`) }()
	<-started

	// This subscription does not wait for its in-flight delivery on Close.
	f.subscription.On("Close", mock.Anything).Return(nil).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()

	err := f.kernel.Shutdown(context.Background())
	assert.ErrorIs(t, err, core.ErrDrainTimeout)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler was not cancelled after the drain timeout")
	}
	assert.ErrorIs(t, f.outcomes.all()[0].Err, context.Canceled)
}

func TestShutdown_ZeroDrainTimeoutDoesNotWait(t *testing.T) {
	f := newFixture(t, WithDrainTimeout(0))

	started := make(chan struct{})
	f.kernel.AddJob(core.JobDefinition{
		Name: "Stuck",
		Handle: func(ctx context.Context, _ json.RawMessage) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	f.register(t)

	done := make(chan error, 1)
	go func() { done <- f.subscriber.deliver(context.Background(), "Stuck", `{}`) }()
	<-started

	f.subscription.On("Close", mock.Anything).Return(nil).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()

	shutdown := make(chan error, 1)
	go func() { shutdown <- f.kernel.Shutdown(context.Background()) }()

	select {
	case err := <-shutdown:
		assert.ErrorIs(t, err, core.ErrDrainTimeout)
	case <-time.After(time.Second):
		t.Fatal("Shutdown waited for a running delivery with a zero drain timeout")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler was not cancelled")
	}
}

func TestShutdown_DuringRegisterClosesNewWorker(t *testing.T) {
	f := newFixture(t)

	entered := make(chan struct{})
	gate := make(chan struct{})
	f.subscriber.On("Subscribe", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-gate
		}).
		Return(f.subscription, nil).Once()
	f.subscription.On("Close", mock.Anything).Return(nil).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()

	registered := make(chan error, 1)
	go func() { registered <- f.kernel.Register(context.Background()) }()
	<-entered

	require.NoError(t, f.kernel.Shutdown(context.Background()))
	close(gate)

	select {
	case err := <-registered:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Register did not return")
	}

	f.client.AssertNumberOfCalls(t, "Close", 1)
	f.subscription.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, core.WorkerClosed, f.kernel.State())

	// The kernel stays closed: a later Register does not subscribe again.
	require.NoError(t, f.kernel.Register(context.Background()))
	f.subscriber.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestDeliver_AfterShutdownIsReturnedToBroker(t *testing.T) {
	f := newFixture(t)
	f.kernel.AddJob(core.JobDefinition{Name: "Job1", Handle: func(context.Context, json.RawMessage) error { return nil }})
	f.register(t)

	f.subscription.On("Close", mock.Anything).Return(nil).Once()
	f.client.On("Close", mock.Anything).Return(nil).Once()
	require.NoError(t, f.kernel.Shutdown(context.Background()))

	assert.ErrorIs(t, f.subscriber.deliver(context.Background(), "Job1", `{}`), core.ErrShutdown)
}

// ────────────────────────────────────────────────────────────────────────────
// Disabled
// ────────────────────────────────────────────────────────────────────────────

func TestDisabled_NoBrokerCalls(t *testing.T) {
	f := newFixture(t, WithEnabled(false))
	f.kernel.AddJob(core.JobDefinition{Name: "Job1", Handle: func(context.Context, json.RawMessage) error { return nil }})

	ctx := context.Background()
	require.NoError(t, f.kernel.Register(ctx))
	f.kernel.Boot()
	require.NoError(t, f.kernel.Dispatch(ctx, "Job1", map[string]string{"user": "Ada"}))
	require.NoError(t, f.kernel.Shutdown(ctx))

	assert.False(t, f.kernel.Enabled())
	assert.Equal(t, core.WorkerAbsent, f.kernel.State())
	assert.Empty(t, f.client.Calls)
	assert.Empty(t, f.subscriber.Calls)
	assert.Empty(t, f.subscription.Calls)
}

func TestDisabled_NilBroker(t *testing.T) {
	k := NewKernel(nil, nil, WithEnabled(false), WithLogger(testLogger()))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		_ = k.Register(ctx)
		k.Boot()
		_ = k.Dispatch(ctx, "Job1", nil)
		_ = k.Shutdown(ctx)
	})
}
