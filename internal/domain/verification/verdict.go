// Package verification evaluates submissions against per-task rules.
// It is pure: no storage, no clock, no network.
package verification

// Outcome is the kind of verdict.
type Outcome int

const (
	// OutcomeVerified means every rule passed.
	OutcomeVerified Outcome = iota
	// OutcomeRuleFailed means the submission broke a rule.
	OutcomeRuleFailed
	// OutcomeEngineError means the rules could not be evaluated at all.
	OutcomeEngineError
)

// String returns the string representation.
func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeRuleFailed:
		return "rule_failed"
	case OutcomeEngineError:
		return "engine_error"
	default:
		return "unknown"
	}
}

// Verdict is the result of evaluating a submission.
type Verdict struct {
	Outcome Outcome
	// Reason is a human-readable message, empty when verified.
	Reason string
	// Details carries machine-readable context such as the failed check or
	// the offending keywords.
	Details map[string]any
}

// Verified returns a passing verdict.
func Verified() Verdict {
	return Verdict{Outcome: OutcomeVerified}
}

// RuleFailed returns a failing verdict.
func RuleFailed(reason string, details map[string]any) Verdict {
	return Verdict{Outcome: OutcomeRuleFailed, Reason: reason, Details: details}
}

// EngineError returns a verdict for rules that could not be evaluated.
func EngineError(message string) Verdict {
	return Verdict{Outcome: OutcomeEngineError, Reason: message}
}

// Valid reports whether the submission passed.
func (v Verdict) Valid() bool {
	return v.Outcome == OutcomeVerified
}

// Check returns the name of the failed check, if recorded.
func (v Verdict) Check() string {
	if v.Details == nil {
		return ""
	}
	check, _ := v.Details["check"].(string)
	return check
}
