package proto

// FailureKind is the coarse category of a generation failure.
type FailureKind string

const (
	FailureSyntax        FailureKind = "syntax"
	FailureCompile       FailureKind = "compile"
	FailureRuntime       FailureKind = "runtime"
	FailureValidation    FailureKind = "validation"
	FailureConfiguration FailureKind = "configuration"
	FailureUnknown       FailureKind = "unknown"
)

// Severity ranks how likely a failure is to be fixed without a human.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FailureDetails describes a failed pipeline run.
type FailureDetails struct {
	Kind         FailureKind `json:"kind"`
	Severity     Severity    `json:"severity"`
	Message      string      `json:"message"`
	ArtifactPath string      `json:"artifact_path,omitempty"`
	Trace        string      `json:"trace,omitempty"`
	Context      string      `json:"context,omitempty"`
	Line         int         `json:"line,omitempty"`
}

// RecoveryVerdict is the analyzer's decision about a failure.
type RecoveryVerdict struct {
	ProposedContent string   `json:"proposed_content,omitempty"`
	Explanation     string   `json:"explanation,omitempty"`
	UserQuestions   []string `json:"user_questions,omitempty"`
	AttemptNumber   int      `json:"attempt_number"`
	AutoFixable     bool     `json:"auto_fixable"`
	AttemptedFix    bool     `json:"attempted_fix"`
	FixSucceeded    bool     `json:"fix_succeeded"`
}
