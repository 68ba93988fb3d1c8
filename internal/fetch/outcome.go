package fetch

// IndeterminateProgress is reported when the server did not declare a
// content length. It is distinct from 0%: the transfer is moving, we just
// cannot say how far along it is.
const IndeterminateProgress = -1

// Outcome is the terminal result of one fetch attempt. Exactly one outcome
// is delivered per attempt, after all progress callbacks.
type Outcome string

const (
	// OutcomeAlreadyPresent means the asset was on disk and no network
	// request was made.
	OutcomeAlreadyPresent Outcome = "already_present"

	// OutcomeCompleted means the full stream was written and the
	// destination file is closed.
	OutcomeCompleted Outcome = "completed"

	// OutcomeCancelled means the caller cancelled mid-flight; the partial
	// file has been removed. Not a failure.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeFailed means the attempt hit a configuration, network or
	// storage error; the partial file, if any, has been removed.
	OutcomeFailed Outcome = "failed"
)

// Result pairs an outcome with its failure reason. Err is non-nil only when
// Outcome is OutcomeFailed.
type Result struct {
	Outcome Outcome
	Err     error
}
