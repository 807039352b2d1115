package agent

import (
	"sync"
	"time"

	"github.com/cuemby/gridbalance/pkg/types"
)

// JobState is the lifecycle state of a queued job
type JobState string

const (
	JobWaiting  JobState = "waiting"
	JobActive   JobState = "active"
	JobRejected JobState = "rejected"
)

// jobContext is the agent's types.JobContext
type jobContext struct {
	job      *types.Job
	session  types.TaskSession
	queuedAt time.Time
	// set by the agent when it moves the job to the active set
	activatedAt time.Time

	mu    sync.Mutex
	state JobState
	attrs map[string]any
}

func newJobContext(job *types.Job, session types.TaskSession, now time.Time) *jobContext {
	return &jobContext{
		job:      job,
		session:  session,
		queuedAt: now,
		state:    JobWaiting,
		attrs:    make(map[string]any),
	}
}

func (j *jobContext) JobID() string {
	return j.job.ID
}

func (j *jobContext) Session() types.TaskSession {
	return j.session
}

func (j *jobContext) Attribute(key string) (any, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.attrs[key]
	return v, ok
}

func (j *jobContext) SetAttribute(key string, value any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attrs[key] = value
}

func (j *jobContext) Activate() bool {
	return j.transition(JobActive)
}

func (j *jobContext) Cancel() bool {
	return j.transition(JobRejected)
}

func (j *jobContext) transition(to JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobWaiting {
		return false
	}
	j.state = to
	return true
}

func (j *jobContext) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}
