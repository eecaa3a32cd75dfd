// Package model defines domain entities for the application.
package model

import "time"

// RunStatus represents the lifecycle state of a deployment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Step names a single stage of the deployment sequence.
type Step string

const (
	StepPing        Step = "ping"
	StepLock        Step = "lock"
	StepPull        Step = "pull"
	StepDown        Step = "down"
	StepUp          Step = "up"
	StepWait        Step = "wait"
	StepStatus      Step = "status"
	StepLogs        Step = "logs"
	StepHealth      Step = "health"
	StepFailureLogs Step = "failure_logs"
	StepPrune       Step = "prune"
)

// StepResult records how one step went.
type StepResult struct {
	Name     Step          `json:"name"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Failed returns true if the step reported an error.
func (s StepResult) Failed() bool {
	return s.Err != ""
}

// Run represents a single deployment attempt on a host.
type Run struct {
	ID         string       `json:"id"`
	Image      string       `json:"image"`
	Host       string       `json:"host,omitempty"`
	Status     RunStatus    `json:"status"`
	FailedStep Step         `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Succeeded returns true if the run completed and passed the health check.
func (r *Run) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

// Duration returns wall time of the run. Unfinished runs report zero.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record appends a step result. A non-nil err marks the step as failed.
func (r *Run) Record(step Step, duration time.Duration, err error) {
	res := StepResult{Name: step, Duration: duration}
	if err != nil {
		res.Err = err.Error()
	}
	r.Steps = append(r.Steps, res)
}

// Ran reports whether the given step was executed.
func (r *Run) Ran(step Step) bool {
	for _, s := range r.Steps {
		if s.Name == step {
			return true
		}
	}
	return false
}

// Finish stamps the run as done with the given outcome.
func (r *Run) Finish(at time.Time, failedStep Step, err error) {
	r.FinishedAt = &at
	if err == nil {
		r.Status = RunStatusSucceeded
		return
	}
	r.Status = RunStatusFailed
	r.FailedStep = failedStep
	r.Error = err.Error()
}
