package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/metrics"
	"github.com/cuemby/gridbalance/pkg/stealing"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/rs/zerolog"
)

// CollisionResolver decides which waiting jobs start, stay or move
type CollisionResolver interface {
	OnCollisionCheck(ctx context.Context, active, waiting []types.JobContext) stealing.Result
}

// RejectFunc is called for every job handed to a thief node
type RejectFunc func(job *types.Job, thief string)

// ActivateFunc is called for every job started locally
type ActivateFunc func(job *types.Job)

// statsWindow is the number of samples behind every average in Metrics
const statsWindow = 100

// Agent is the local job queue of a node. It runs collision checks on a
// fixed interval and moves jobs between waiting, active and rejected.
type Agent struct {
	resolver   CollisionResolver
	interval   time.Duration
	onRejected RejectFunc
	onActivate ActivateFunc
	now        func() time.Time
	logger     zerolog.Logger

	checkMu sync.Mutex

	mu      sync.Mutex
	waiting []*jobContext
	active  map[string]*jobContext

	// seconds per finished job and per started job, and queue lengths
	// sampled by Metrics
	executeTimes *metrics.Window
	waitTimes    *metrics.Window
	activeJobs   *metrics.Window
	waitingJobs  *metrics.Window

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures an Agent
type Option func(*Agent)

// WithOnRejected sets the hook receiving stolen jobs
func WithOnRejected(fn RejectFunc) Option {
	return func(a *Agent) {
		a.onRejected = fn
	}
}

// WithOnActivated sets the hook receiving started jobs
func WithOnActivated(fn ActivateFunc) Option {
	return func(a *Agent) {
		a.onActivate = fn
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// New creates an agent checking for collisions every interval
func New(resolver CollisionResolver, interval time.Duration, opts ...Option) *Agent {
	a := &Agent{
		resolver: resolver,
		interval: interval,
		now:      time.Now,
		logger:   log.WithComponent("agent"),
		active:   make(map[string]*jobContext),
		stopCh:   make(chan struct{}),

		executeTimes: metrics.NewWindow(statsWindow),
		waitTimes:    metrics.NewWindow(statsWindow),
		activeJobs:   metrics.NewWindow(statsWindow),
		waitingJobs:  metrics.NewWindow(statsWindow),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit queues a job mapped to this node
func (a *Agent) Submit(job *types.Job, session types.TaskSession) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job must have an ID")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[job.ID]; ok {
		return fmt.Errorf("job %s is already active", job.ID)
	}
	for _, w := range a.waiting {
		if w.job.ID == job.ID {
			return fmt.Errorf("job %s is already queued", job.ID)
		}
	}

	a.waiting = append(a.waiting, newJobContext(job, session, a.now()))
	return nil
}

// Complete removes a finished job and records its execute time. It returns
// false for unknown jobs.
func (a *Agent) Complete(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	j, ok := a.active[jobID]
	if !ok {
		return false
	}
	delete(a.active, jobID)
	a.executeTimes.Add(a.now().Sub(j.activatedAt).Seconds())
	return true
}

// Start begins the collision check loop
func (a *Agent) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop ends the collision check loop and waits for it to exit
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *Agent) run() {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.CheckNow(ctx)
		case <-a.stopCh:
			return
		}
	}
}

// CheckNow runs one collision check synchronously
func (a *Agent) CheckNow(ctx context.Context) stealing.Result {
	a.checkMu.Lock()
	defer a.checkMu.Unlock()

	a.mu.Lock()
	active := make([]types.JobContext, 0, len(a.active))
	for _, j := range a.active {
		active = append(active, j)
	}
	waiting := make([]types.JobContext, len(a.waiting))
	for i, j := range a.waiting {
		waiting[i] = j
	}
	a.mu.Unlock()

	res := a.resolver.OnCollisionCheck(ctx, active, waiting)

	var started, stolen []*jobContext
	a.mu.Lock()
	now := a.now()
	kept := a.waiting[:0]
	for _, j := range a.waiting {
		switch j.State() {
		case JobActive:
			j.activatedAt = now
			a.waitTimes.Add(now.Sub(j.queuedAt).Seconds())
			a.active[j.job.ID] = j
			started = append(started, j)
		case JobRejected:
			stolen = append(stolen, j)
		default:
			kept = append(kept, j)
		}
	}
	// clear the tail so dropped contexts can be collected
	for i := len(kept); i < len(a.waiting); i++ {
		a.waiting[i] = nil
	}
	a.waiting = kept
	a.mu.Unlock()

	for _, j := range started {
		if a.onActivate != nil {
			a.onActivate(j.job)
		}
	}
	for _, j := range stolen {
		thief, _ := types.ThiefNode(j)
		a.logger.Info().
			Str("job_id", j.job.ID).
			Str("thief", thief).
			Int("attempts", types.StealingAttempts(j)).
			Msg("job stolen")
		if a.onRejected != nil {
			a.onRejected(j.job, thief)
		}
	}

	return res
}

// Active returns the IDs of active jobs, sorted
func (a *Agent) Active() []string {
	a.mu.Lock()
	ids := make([]string, 0, len(a.active))
	for id := range a.active {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Waiting returns the IDs of waiting jobs, oldest first
func (a *Agent) Waiting() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, len(a.waiting))
	for i, j := range a.waiting {
		ids[i] = j.job.ID
	}
	return ids
}

// Metrics returns the job part of the metrics snapshot this node publishes.
// Current execute time is the longest running active job and current wait
// time the oldest waiting one. Averages cover the last finished and started
// jobs; every call also samples the queue lengths into their averages. CPU
// load is left to the caller.
func (a *Agent) Metrics() types.NodeMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.activeJobs.Add(float64(len(a.active)))
	a.waitingJobs.Add(float64(len(a.waiting)))

	m := types.NodeMetrics{
		CurrentActiveJobs:     float64(len(a.active)),
		AverageActiveJobs:     a.activeJobs.Mean(),
		CurrentWaitingJobs:    float64(len(a.waiting)),
		AverageWaitingJobs:    a.waitingJobs.Mean(),
		AverageJobExecuteTime: seconds(a.executeTimes.Mean()),
		AverageJobWaitTime:    seconds(a.waitTimes.Mean()),
	}
	for _, j := range a.active {
		if d := now.Sub(j.activatedAt); d > m.CurrentJobExecuteTime {
			m.CurrentJobExecuteTime = d
		}
	}
	if len(a.waiting) > 0 {
		m.CurrentJobWaitTime = now.Sub(a.waiting[0].queuedAt)
	}
	return m
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
