package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	expr := Every(5 * time.Minute)
	assert.Equal(t, "@every 5m0s", expr)

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	next, err := Next(expr, start)
	require.NoError(t, err)
	assert.Equal(t, start.Add(5*time.Minute), next)
}

func TestEvery_MultipleNext(t *testing.T) {
	s, err := Parse(Every(time.Hour))
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next1 := s.Next(start)
	next2 := s.Next(next1)
	next3 := s.Next(next2)

	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), next1)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next2)
	assert.Equal(t, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC), next3)
}

func TestDaily(t *testing.T) {
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	next, err := Next(Daily(9, 30), from)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), next)
}

func TestDaily_NextDay(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) // after 9:30
	next, err := Next(Daily(9, 30), from)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), next)
}

func TestWeekly(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	next, err := Next(Weekly(time.Monday, 10, 0), from)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), next)
}

func TestWeekly_NextWeek(t *testing.T) {
	from := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC) // Monday, after 10:00
	next, err := Next(Weekly(time.Monday, 10, 0), from)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), next)
}

func TestNext_SecondsField(t *testing.T) {
	from := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	next, err := Next("*/30 * * * * *", from)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC), next)
}

func TestValidate(t *testing.T) {
	valid := []string{
		"*/30 * * * * *",
		"0 * * * *",
		"@hourly",
		"@every 90s",
		"0 9 * * MON-FRI",
	}
	for _, expr := range valid {
		assert.NoError(t, Validate(expr), "expected %q to be valid", expr)
	}

	invalid := []string{
		"",
		"not a cron",
		"61 * * * *",
		"* * * * * * *",
		"@every nope",
	}
	for _, expr := range invalid {
		err := Validate(expr)
		assert.Error(t, err, "expected %q to be invalid", expr)
	}
}

func TestParseOverlapPolicy(t *testing.T) {
	p, err := ParseOverlapPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, SkipIfRunning, p)
	assert.Equal(t, "skip", p.String())

	p, err = ParseOverlapPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AllowOverlap, p)

	p, err = ParseOverlapPolicy("ALLOW")
	require.NoError(t, err)
	assert.Equal(t, "allow", p.String())

	_, err = ParseOverlapPolicy("queue")
	assert.Error(t, err)
}

// ────────────────────────────────────────────────────────────────────────────
// CronTicker
// ────────────────────────────────────────────────────────────────────────────

func TestCronTicker_RejectsInvalidExpression(t *testing.T) {
	ticker := NewCronTicker(WithTickerLogger(testLogger()))

	timer, err := ticker.Schedule("definitely not cron", func() {})
	assert.Nil(t, timer)
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestCronTicker_FiresAfterStart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall-clock test in short mode")
	}

	ticker := NewCronTicker(WithLocation(time.UTC), WithTickerLogger(testLogger()))

	var fired atomic.Int32
	timer, err := ticker.Schedule("* * * * * *", func() { fired.Add(1) })
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)
	assert.Zero(t, fired.Load(), "a new timer must not fire before Start")

	timer.Start()
	defer timer.Stop()

	assert.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestCronTicker_StopHaltsActivations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall-clock test in short mode")
	}

	ticker := NewCronTicker(WithTickerLogger(testLogger()))

	var fired atomic.Int32
	timer, err := ticker.Schedule("@every 1s", func() { fired.Add(1) })
	require.NoError(t, err)

	timer.Start()
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	timer.Stop()

	// Allow an activation that was already dispatched to land.
	time.Sleep(100 * time.Millisecond)
	after := fired.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, fired.Load())
}
