package proto

import "strings"

// ActionKind is the kind of work a plan step performs.
type ActionKind string

const (
	ActionCreateArtifact ActionKind = "create_artifact"
	ActionModifyArtifact ActionKind = "modify_artifact"
	ActionAddDependency  ActionKind = "add_dependency"
	ActionDeleteArtifact ActionKind = "delete_artifact"
)

// actionAliases maps the file-oriented verbs models tend to emit onto the
// artifact vocabulary.
//
//nolint:gochecknoglobals // lookup table
var actionAliases = map[string]ActionKind{
	"create_artifact": ActionCreateArtifact,
	"create_file":     ActionCreateArtifact,
	"create":          ActionCreateArtifact,
	"modify_artifact": ActionModifyArtifact,
	"modify_file":     ActionModifyArtifact,
	"update_widget":   ActionModifyArtifact,
	"update":          ActionModifyArtifact,
	"modify":          ActionModifyArtifact,
	"add_dependency":  ActionAddDependency,
	"add_import":      ActionAddDependency,
	"delete_artifact": ActionDeleteArtifact,
	"delete_file":     ActionDeleteArtifact,
	"delete":          ActionDeleteArtifact,
}

// ParseActionKind normalizes a model-supplied action name. Unknown names are
// returned verbatim so validation can report them.
func ParseActionKind(s string) ActionKind {
	key := strings.ToLower(strings.TrimSpace(s))
	if kind, ok := actionAliases[key]; ok {
		return kind
	}
	return ActionKind(key)
}

// RequiresArtifact reports whether a step of this kind must name a target.
func (k ActionKind) RequiresArtifact() bool {
	switch k {
	case ActionCreateArtifact, ActionModifyArtifact, ActionDeleteArtifact:
		return true
	}
	return false
}

// Operation maps the action onto the change it produces.
func (k ActionKind) Operation() Operation {
	switch k {
	case ActionCreateArtifact:
		return OpCreate
	case ActionDeleteArtifact:
		return OpDelete
	default:
		return OpUpdate
	}
}

// ActionStep is one atomic unit of an execution plan.
type ActionStep struct {
	Action         ActionKind `json:"action"`
	Description    string     `json:"description"`
	TargetArtifact string     `json:"target_artifact,omitempty"`
	// Answer, when set, is used as the step's content instead of asking the
	// oracle. Recovery seeds it with a proposed fix.
	Answer     string `json:"answer,omitempty"`
	StepNumber int    `json:"step_number"`
}

// ExecutionPlan is immutable once built; refinements produce new values.
type ExecutionPlan struct {
	PlanID             string       `json:"plan_id"`
	Notes              string       `json:"notes,omitempty"`
	Steps              []ActionStep `json:"steps"`
	EstimatedArtifacts []string     `json:"estimated_artifacts"`
	Dependencies       []string     `json:"dependencies,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = append([]ActionStep(nil), p.Steps...)
	out.EstimatedArtifacts = append([]string(nil), p.EstimatedArtifacts...)
	out.Dependencies = append([]string(nil), p.Dependencies...)
	return &out
}

// Operation is what an artifact change does to the snapshot.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ArtifactChange is a single produced change.
type ArtifactChange struct {
	Path      string    `json:"path"`
	Operation Operation `json:"operation"`
	Content   string    `json:"content"`
}

// GenerationResult is the outcome of executing a plan.
type GenerationResult struct {
	Message  string           `json:"message"`
	Changes  []ArtifactChange `json:"changes"`
	Warnings []string         `json:"warnings,omitempty"`
	Success  bool             `json:"success"`
}

// Paths lists the artifact paths touched by the result, in order.
func (r *GenerationResult) Paths() []string {
	paths := make([]string, 0, len(r.Changes))
	for i := range r.Changes {
		paths = append(paths, r.Changes[i].Path)
	}
	return paths
}
