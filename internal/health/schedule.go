package health

import "time"

const (
	// DefaultInitialDelay is the wait before the first probe.
	DefaultInitialDelay = 5 * time.Second
	// DefaultInterval is the wait between probes.
	DefaultInterval = 5 * time.Second
	// DefaultAttempts is a single probe, matching the original rollout script.
	DefaultAttempts = 1
)

// Schedule controls when health probes are sent.
// Delays are fixed.
type Schedule struct {
	Initial  time.Duration
	Interval time.Duration
	Attempts int
}

// DefaultSchedule returns the schedule used when none is configured.
func DefaultSchedule() Schedule {
	return Schedule{
		Initial:  DefaultInitialDelay,
		Interval: DefaultInterval,
		Attempts: DefaultAttempts,
	}
}

// Delay returns the wait before the given 0-indexed attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return s.Initial
	}
	return s.Interval
}

// IsExhausted returns true if attemptCount probes have used up the schedule.
func (s Schedule) IsExhausted(attemptCount int) bool {
	return attemptCount >= s.attempts()
}

// Window returns the longest time the schedule can spend waiting,
// excluding request time.
func (s Schedule) Window() time.Duration {
	total := s.Initial
	if n := s.attempts(); n > 1 {
		total += time.Duration(n-1) * s.Interval
	}
	return total
}

func (s Schedule) attempts() int {
	if s.Attempts < 1 {
		return 1
	}
	return s.Attempts
}
