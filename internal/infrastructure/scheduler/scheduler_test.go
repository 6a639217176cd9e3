package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int64
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

type recordingObserver struct {
	mu   sync.Mutex
	runs map[string][]bool
}

func (o *recordingObserver) RecordJobRun(job string, _ time.Duration, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = map[string][]bool{}
	}
	o.runs[job] = append(o.runs[job], success)
}

func newTestScheduler(t *testing.T, obs JobObserver) *Scheduler {
	t.Helper()
	cfg := DefaultSchedulerConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.StopTimeout = time.Second
	cfg.Observer = obs
	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler(t, nil)

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&countingJob{name: "a"}, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)

	_, err := s.GetJobInfo("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, s.Unregister("a"))
	assert.ErrorIs(t, s.Unregister("a"), ErrJobNotFound)
}

func TestNewCronSchedule(t *testing.T) {
	_, err := NewCronSchedule("* * *")
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	cs, err := NewCronSchedule(" */15 * * * * ")
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", cs.String())
	assert.Equal(t, "@every 1m0s", NewIntervalSchedule(time.Minute).String())
}

func TestScheduler_RunNowRecordsResults(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScheduler(t, obs)

	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("nope")}
	panicking := &countingJob{name: "panicking", panic: true}
	cron, err := NewCronSchedule("0 3 * * *")
	require.NoError(t, err)
	require.NoError(t, s.Register(ok, cron))
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(panicking, NewIntervalSchedule(time.Hour)))

	var completed []string
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r.JobName) })

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "nope")

	_, err = s.RunNow(context.Background(), "panicking")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	info, err := s.GetJobInfo("failing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RunCount)
	assert.Equal(t, int64(1), info.FailCount)

	assert.Equal(t, []string{"ok", "failing", "panicking"}, completed)
	assert.Len(t, s.GetHistory(0), 3)
	assert.Len(t, s.GetHistory(1), 1)
	assert.Equal(t, []bool{true}, obs.runs["ok"])
	assert.Equal(t, []bool{false}, obs.runs["failing"])
}

func TestScheduler_RunsIntervalJobs(t *testing.T) {
	s := newTestScheduler(t, nil)
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(20*time.Millisecond)))

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.ErrorIs(t, s.Start(), ErrSchedulerStopped)
}
