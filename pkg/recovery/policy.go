// Package recovery decides what to do after a failed generation: retry with
// an automatic fix or escalate to the user.
package recovery

import (
	"errors"
	"strings"

	"conductor/pkg/agent/llmerrors"
	"conductor/pkg/agent/middleware/resilience/circuit"
	"conductor/pkg/proto"
)

// MaxRetryAttempts bounds automatic fixes per failure key.
const MaxRetryAttempts = 3

// Key is the retry budget key for failures of plan planID.
func Key(planID string) string {
	return planID + "_error"
}

// Policy maps a failure message to a kind and severity.
type Policy func(message string) (proto.FailureKind, proto.Severity)

type rule struct {
	kind     proto.FailureKind
	severity proto.Severity
	keywords []string
}

// rules are matched in order; the first hit wins.
//
//nolint:gochecknoglobals // lookup table
var rules = []rule{
	{proto.FailureSyntax, proto.SeverityLow, []string{"syntax", "unexpected token"}},
	{proto.FailureCompile, proto.SeverityMedium, []string{"undefined", "type mismatch", "cannot find"}},
	{proto.FailureRuntime, proto.SeverityMedium, []string{"null", "exception", "runtime"}},
	{proto.FailureValidation, proto.SeverityMedium, []string{"constraint", "overflow", "invalid"}},
}

// Categorize is the default Policy.
func Categorize(message string) (proto.FailureKind, proto.Severity) {
	lower := strings.ToLower(message)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.kind, r.severity
			}
		}
	}
	return proto.FailureUnknown, proto.SeverityMedium
}

// ShouldEscalate reports whether a failure must go to the user instead of
// being fixed automatically.
func ShouldEscalate(f proto.FailureDetails, attempt int) bool {
	return ShouldEscalateWithin(f, attempt, MaxRetryAttempts)
}

// ShouldEscalateWithin is ShouldEscalate with a custom attempt ceiling.
// A non-positive limit uses MaxRetryAttempts.
func ShouldEscalateWithin(f proto.FailureDetails, attempt, limit int) bool {
	if limit <= 0 {
		limit = MaxRetryAttempts
	}
	if attempt >= limit {
		return true
	}
	if f.Severity == proto.SeverityHigh {
		return true
	}
	return f.Kind == proto.FailureValidation || f.Kind == proto.FailureConfiguration
}

// Describe builds failure details for a pipeline failure. Oracle errors
// are classified by their type; everything else goes through policy.
func Describe(message, artifactPath string, err error, policy Policy) proto.FailureDetails {
	if policy == nil {
		policy = Categorize
	}
	f := proto.FailureDetails{Message: message, ArtifactPath: artifactPath}
	if err != nil {
		f.Trace = err.Error()
	}

	var llmErr *llmerrors.Error
	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		f.Kind, f.Severity = proto.FailureRuntime, proto.SeverityHigh
	case errors.As(err, &llmErr):
		switch llmErr.Type {
		case llmerrors.ErrorTypeAuth:
			f.Kind, f.Severity = proto.FailureConfiguration, proto.SeverityHigh
		case llmerrors.ErrorTypeBadPrompt:
			f.Kind, f.Severity = proto.FailureValidation, proto.SeverityMedium
		case llmerrors.ErrorTypeServiceUnavailable, llmerrors.ErrorTypeRateLimit:
			f.Kind, f.Severity = proto.FailureRuntime, proto.SeverityHigh
		default:
			f.Kind, f.Severity = policy(message)
		}
	default:
		f.Kind, f.Severity = policy(message)
	}
	return f
}
