package task

// Outcome is the terminal state of one invocation on a worker.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeVetoed means the execution gate prevented the run.
	OutcomeVetoed Outcome = "vetoed"
	// OutcomeUnknown means no handler was registered under the task name.
	OutcomeUnknown Outcome = "unknown_task"
)

// Outcomes lists every outcome in reporting order.
func Outcomes() []Outcome {
	return []Outcome{OutcomeSuccess, OutcomeFailed, OutcomeTimedOut, OutcomeVetoed, OutcomeUnknown}
}
