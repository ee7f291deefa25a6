// Package templates renders the oracle prompts used by every pipeline stage.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"conductor/pkg/proto"
	"conductor/pkg/utils"
)

//go:embed *.tpl.md
var templateFS embed.FS

// HistoryEntryChars bounds each history line included in a prompt.
const HistoryEntryChars = 100

// TemplateData holds the data for template rendering.
type TemplateData struct {
	Extra map[string]any `json:"extra,omitempty"`

	Message string `json:"message,omitempty"`
	Mode    string `json:"mode,omitempty"`
	History string `json:"history,omitempty"`
	Request string `json:"request,omitempty"`

	// Artifact paths already present in the conversation.
	Artifacts []string `json:"artifacts,omitempty"`

	// Plan refinement.
	Plan     string `json:"plan,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	Notes    string `json:"notes,omitempty"`

	// Step generation.
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
	Target      string `json:"target,omitempty"`
	Content     string `json:"content,omitempty"`
	StepNumber  int    `json:"step_number,omitempty"`

	// Failure analysis.
	Kind           string `json:"kind,omitempty"`
	Severity       string `json:"severity,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	Trace          string `json:"trace,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
}

// StateTemplate names an embedded prompt template.
type StateTemplate string

const (
	// ClassifySystemTemplate is the system prompt of the intent classifier.
	ClassifySystemTemplate StateTemplate = "classify_system.tpl.md"
	// ClassifyTemplate is the per-message classification prompt.
	ClassifyTemplate StateTemplate = "classify.tpl.md"
	// PlanSystemTemplate is the system prompt of the planner.
	PlanSystemTemplate StateTemplate = "plan_system.tpl.md"
	// PlanTemplate asks for a new execution plan.
	PlanTemplate StateTemplate = "plan.tpl.md"
	// RefineTemplate asks for a revised execution plan.
	RefineTemplate StateTemplate = "refine.tpl.md"
	// GenerateSystemTemplate is the system prompt of the generator.
	GenerateSystemTemplate StateTemplate = "generate_system.tpl.md"
	// GenerateTemplate asks for the content of one plan step.
	GenerateTemplate StateTemplate = "generate.tpl.md"
	// RecoverSystemTemplate is the system prompt of the recovery analyzer.
	RecoverSystemTemplate StateTemplate = "recover_system.tpl.md"
	// RecoverTemplate asks for a verdict about one failure.
	RecoverTemplate StateTemplate = "recover.tpl.md"
	// ChatSystemTemplate is the system prompt of the chat responder.
	ChatSystemTemplate StateTemplate = "chat_system.tpl.md"
	// ChatTemplate is the per-message chat prompt.
	ChatTemplate StateTemplate = "chat.tpl.md"
)

// Renderer handles template rendering for pipeline stages.
type Renderer struct {
	templates map[StateTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[StateTemplate]*template.Template),
	}

	templateNames := []StateTemplate{
		ClassifySystemTemplate,
		ClassifyTemplate,
		PlanSystemTemplate,
		PlanTemplate,
		RefineTemplate,
		GenerateSystemTemplate,
		GenerateTemplate,
		RecoverSystemTemplate,
		RecoverTemplate,
		ChatSystemTemplate,
		ChatTemplate,
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"contains": strings.Contains,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// MustRenderer returns a renderer over the embedded templates and panics if
// they fail to parse, which only happens when the binary was built broken.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName StateTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}
	if data == nil {
		data = &TemplateData{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// RenderWithUserInstructions renders the template and appends the operator
// instructions that apply to audience.
func (r *Renderer) RenderWithUserInstructions(templateName StateTemplate, data *TemplateData, instructions *utils.UserInstructions, audience string) (string, error) {
	basePrompt, err := r.Render(templateName, data)
	if err != nil {
		return "", err
	}
	if extra := utils.FormatUserInstructions(instructions, audience); extra != "" {
		return basePrompt + "\n" + extra, nil
	}
	return basePrompt, nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []StateTemplate {
	templates := make([]StateTemplate, 0, len(r.templates))
	for name := range r.templates {
		templates = append(templates, name)
	}
	return templates
}

// FormatHistory renders the last window entries as "ROLE: content" lines,
// each content cut to HistoryEntryChars characters.
func FormatHistory(history []proto.Message, window int) string {
	if window <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	lines := make([]string, 0, len(history))
	for i := range history {
		content := []rune(strings.TrimSpace(history[i].Content))
		if len(content) > HistoryEntryChars {
			content = content[:HistoryEntryChars]
		}
		content = []rune(strings.ReplaceAll(string(content), "\n", " "))
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(history[i].Role)), string(content)))
	}
	return strings.Join(lines, "\n")
}
