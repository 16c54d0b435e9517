package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return New(nil, log.New(io.Discard, "", 0))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	s := newTestScheduler()
	job := Job{Name: "tick", Spec: "* * * * *", Run: func(ctx context.Context) error { return nil }}

	require.NoError(t, s.Register(job))
	err := s.Register(job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	s := newTestScheduler()
	err := s.Register(Job{Name: "bad", Spec: "not a cron spec", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)

	// A failed registration leaves no ghost entry behind
	assert.Empty(t, s.ListJobs())
}

func TestRunNowUnknownJob(t *testing.T) {
	s := newTestScheduler()
	err := s.RunNow("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestRunNowRecordsSuccess(t *testing.T) {
	s := newTestScheduler()
	var mu sync.Mutex
	ran := 0
	require.NoError(t, s.Register(Job{
		Name: "count",
		Spec: "0 0 1 1 *",
		Run: func(ctx context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		},
	}))

	require.NoError(t, s.RunNow("count"))
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 1
	})

	waitFor(t, 2*time.Second, func() bool {
		jobs := s.ListJobs()
		return len(jobs) == 1 && jobs[0].LastStatus == "ok"
	})
	jobs := s.ListJobs()
	assert.NotNil(t, jobs[0].LastRunAt)
	assert.Empty(t, jobs[0].LastError)
}

func TestRunNowRecordsFailure(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(Job{
		Name: "flaky",
		Spec: "0 0 1 1 *",
		Run: func(ctx context.Context) error {
			return fmt.Errorf("backend unavailable")
		},
	}))

	require.NoError(t, s.RunNow("flaky"))
	waitFor(t, 2*time.Second, func() bool {
		jobs := s.ListJobs()
		return len(jobs) == 1 && jobs[0].LastStatus == "error"
	})
	assert.Equal(t, "backend unavailable", s.ListJobs()[0].LastError)
}

func TestPanicInJobIsContained(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(Job{
		Name: "panicky",
		Spec: "0 0 1 1 *",
		Run: func(ctx context.Context) error {
			panic("boom")
		},
	}))

	require.NoError(t, s.RunNow("panicky"))
	waitFor(t, 4*time.Second, func() bool {
		jobs := s.ListJobs()
		return len(jobs) == 1 && jobs[0].LastStatus == "error"
	})
	assert.Contains(t, s.ListJobs()[0].LastError, "panic in job panicky")
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := newTestScheduler()
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "slow",
		Spec: "0 0 1 1 *",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	require.NoError(t, s.RunNow("slow"))
	<-started

	// Second trigger while the first is still running must be skipped
	require.NoError(t, s.RunNow("slow"))
	waitFor(t, 2*time.Second, func() bool {
		return s.ListJobs()[0].LastStatus == "skipped"
	})

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		jobs := s.ListJobs()
		return jobs[0].LastStatus == "ok" && !jobs[0].Running
	})
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(Job{
		Name:    "deadline",
		Spec:    "0 0 1 1 *",
		Timeout: 50 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	require.NoError(t, s.RunNow("deadline"))
	waitFor(t, 2*time.Second, func() bool {
		return s.ListJobs()[0].LastStatus == "error"
	})
	assert.Contains(t, s.ListJobs()[0].LastError, "context deadline exceeded")
}

func TestStopCancelsInFlightJobs(t *testing.T) {
	s := newTestScheduler()
	stopped := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "longrunner",
		Spec: "0 0 1 1 *",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(stopped)
			return ctx.Err()
		},
	}))
	s.Start()

	require.NoError(t, s.RunNow("longrunner"))
	<-started
	s.Stop()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled on Stop")
	}
}
