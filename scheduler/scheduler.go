package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work. Run must honor ctx cancellation at
// every I/O boundary; Timeout is the hard deadline per invocation.
type Job struct {
	Name    string
	Spec    string // cron expression, UTC
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobStatus is the externally visible state of one registered job
type JobStatus struct {
	Name       string     `json:"name"`
	Spec       string     `json:"spec"`
	Running    bool       `json:"running"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"` // ok, error, skipped
	LastError  string     `json:"last_error,omitempty"`
}

type jobState struct {
	job        Job
	running    bool
	lastRunAt  *time.Time
	lastStatus string
	lastError  string
}

// Scheduler drives all periodic jobs on one cron instance in UTC.
// One job failing or overrunning never affects the others.
type Scheduler struct {
	cron   *cron.Cron
	redis  *redis.Client
	logger *log.Logger

	mu   sync.Mutex
	jobs map[string]*jobState

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. redisClient may be nil; the advisory lock
// then degrades to the in-process running flag, which is sufficient for
// a single instance.
func New(redisClient *redis.Client, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		redis:   redisClient,
		logger:  logger,
		jobs:    make(map[string]*jobState),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register adds a job to the cron table
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = 30 * time.Minute
	}

	state := &jobState{job: job}
	s.jobs[job.Name] = state

	_, err := s.cron.AddFunc(job.Spec, func() {
		s.invoke(state)
	})
	if err != nil {
		delete(s.jobs, job.Name)
		return fmt.Errorf("invalid cron spec for %q: %w", job.Name, err)
	}
	return nil
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Println("✅ Scheduler started with", len(s.jobs), "jobs")
}

// Stop cancels in-flight jobs and waits for the cron loop to drain
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Println("Scheduler stopped")
}

// RunNow triggers one job outside its schedule, for the admin endpoint
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	state, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	go s.invoke(state)
	return nil
}

// ListJobs returns the status of every registered job
func (s *Scheduler) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, state := range s.jobs {
		out = append(out, JobStatus{
			Name:       state.job.Name,
			Spec:       state.job.Spec,
			Running:    state.running,
			LastRunAt:  state.lastRunAt,
			LastStatus: state.lastStatus,
			LastError:  state.lastError,
		})
	}
	return out
}

func (s *Scheduler) invoke(state *jobState) {
	// Overlap guard: a still-running previous invocation skips this tick
	s.mu.Lock()
	if state.running {
		s.mu.Unlock()
		logrus.WithField("job", state.job.Name).Warn("previous run still in progress, skipping tick")
		s.recordSkip(state)
		return
	}
	state.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		state.running = false
		s.mu.Unlock()
	}()

	// Cross-instance advisory lock, held for the job's deadline
	unlock, acquired := s.acquireLock(state.job.Name, state.job.Timeout)
	if !acquired {
		logrus.WithField("job", state.job.Name).Warn("advisory lock held elsewhere, skipping tick")
		s.recordSkip(state)
		return
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(s.baseCtx, state.job.Timeout)
	defer cancel()

	started := time.Now()
	err := s.runGuarded(ctx, state.job)
	elapsed := time.Since(started)

	s.mu.Lock()
	state.lastRunAt = &started
	if err != nil {
		state.lastStatus = "error"
		state.lastError = err.Error()
	} else {
		state.lastStatus = "ok"
		state.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"job":     state.job.Name,
			"elapsed": elapsed.String(),
			"error":   err.Error(),
		}).Error("job failed")
		return
	}
	s.logger.Printf("🔄 Job %s completed in %s", state.job.Name, elapsed.Round(time.Millisecond))
}

// runGuarded converts a panic into an error so one bad job cannot take
// down the scheduler process
func (s *Scheduler) runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.Name, r)
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) acquireLock(name string, ttl time.Duration) (func(), bool) {
	if s.redis == nil {
		return func() {}, true
	}

	key := "coldreach:joblock:" + name
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		// Redis being down must not stop the jobs on a single instance
		logrus.WithFields(logrus.Fields{"job": name, "error": err.Error()}).
			Warn("advisory lock unavailable, proceeding without it")
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			logrus.WithFields(logrus.Fields{"job": name, "error": err.Error()}).
				Warn("failed to release advisory lock")
		}
	}, true
}

func (s *Scheduler) recordSkip(state *jobState) {
	s.mu.Lock()
	state.lastStatus = "skipped"
	s.mu.Unlock()
}
