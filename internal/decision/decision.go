// Package decision maps a job's current observations to a skip/rebuild
// verdict. Decide is a pure function over an ordered rule table; it does
// no I/O, so every input (signature, artifact hash, prior state) is
// observed by the caller first.
package decision

// Outcome is the verdict on whether a job may skip its expensive work.
type Outcome string

const (
	// NoPriorState means no state record exists; build.
	NoPriorState Outcome = "NO_PRIOR_STATE"

	// StateUnreadable means a state record exists but could not be read;
	// build, as the safe default.
	StateUnreadable Outcome = "STATE_UNREADABLE"

	// InputChanged means the input tree's signature differs from the
	// prior record; build.
	InputChanged Outcome = "INPUT_CHANGED"

	// OutputMissingOrTampered means the input is unchanged but the
	// artifact is gone or its content hash no longer matches the prior
	// record; build.
	OutputMissingOrTampered Outcome = "OUTPUT_MISSING_OR_TAMPERED"

	// UpToDate means both signatures match and the artifact is intact;
	// skip.
	UpToDate Outcome = "UP_TO_DATE"
)

// Rebuild reports whether the outcome requires the job to redo its work.
// Only UpToDate skips.
func (o Outcome) Rebuild() bool {
	return o != UpToDate
}

// Prior is the decision-relevant view of a loaded state record, plus
// whether loading it faulted. A faulted prior forces a rebuild rather
// than an error: unreadable state is a legitimate rebuild trigger.
type Prior struct {
	InputSigHash  string
	OutputSigHash string
}

// Decide evaluates the rule table in fixed order; the first matching rule
// wins.
//
//  1. No prior record            -> NoPriorState
//  2. Prior record unreadable    -> StateUnreadable
//  3. Input signature differs    -> InputChanged
//  4. Artifact missing or hash
//     differs from prior output  -> OutputMissingOrTampered
//  5. Otherwise                  -> UpToDate
//
// Comparing the cheap input signature and then re-verifying the output
// artifact's own hash catches artifacts deleted or modified externally
// while the input stayed the same.
func Decide(currentInputSig string, artifactExists bool, currentOutputHash string, prior *Prior, priorErr error) Outcome {
	switch {
	case prior == nil && priorErr == nil:
		return NoPriorState
	case priorErr != nil:
		return StateUnreadable
	case prior.InputSigHash != currentInputSig:
		return InputChanged
	case !artifactExists || prior.OutputSigHash != currentOutputHash:
		return OutputMissingOrTampered
	default:
		return UpToDate
	}
}
