package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// InstructionsDir is the directory, under the data dir, holding
	// operator-supplied prompt instructions.
	InstructionsDir = "instructions"

	// CommonInstructionsFile applies to every oracle stage.
	CommonInstructionsFile = "COMMON.md"
	// PlannerInstructionsFile applies to planning.
	PlannerInstructionsFile = "PLANNER.md"
	// GeneratorInstructionsFile applies to artifact generation.
	GeneratorInstructionsFile = "GENERATOR.md"
	// ChatInstructionsFile applies to chat replies.
	ChatInstructionsFile = "CHAT.md"

	// UserInstructionsTokenLimit is the token limit for one instruction file.
	UserInstructionsTokenLimit = 2000
	// UserInstructionsCharLimit is the character limit for one instruction file.
	UserInstructionsCharLimit = 8000
)

// Instruction audiences accepted by FormatUserInstructions.
const (
	AudiencePlanner   = "PLANNER"
	AudienceGenerator = "GENERATOR"
	AudienceChat      = "CHAT"
)

// UserInstructions holds the content of the instruction files.
type UserInstructions struct {
	Common    string
	Planner   string
	Generator string
	Chat      string
}

// IsEmpty reports whether no instruction file had content.
func (u *UserInstructions) IsEmpty() bool {
	return u == nil || (u.Common == "" && u.Planner == "" && u.Generator == "" && u.Chat == "")
}

// CreateInstructionsDirectory creates dataDir/instructions with commented
// placeholder files. Existing files are left alone.
func CreateInstructionsDirectory(dataDir string) error {
	dir := filepath.Join(dataDir, InstructionsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create instructions directory: %w", err)
	}

	placeholders := map[string]string{
		CommonInstructionsFile:    "<!-- Instructions for every stage. Maximum 2,000 tokens. -->\n",
		PlannerInstructionsFile:   "<!-- Planning conventions: file layout, step granularity. -->\n",
		GeneratorInstructionsFile: "<!-- Coding standards for generated artifacts. -->\n",
		ChatInstructionsFile:      "<!-- Tone and scope of chat replies. -->\n",
	}

	for filename, content := range placeholders {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to create %s: %w", filename, err)
			}
		}
	}
	return nil
}

// LoadUserInstructions loads instruction files from dataDir/instructions.
// Missing files and HTML-comment-only placeholders yield empty strings.
// Unreadable or oversized files are errors.
func LoadUserInstructions(dataDir string) (*UserInstructions, error) {
	dir := filepath.Join(dataDir, InstructionsDir)
	instructions := &UserInstructions{}

	files := map[string]*string{
		CommonInstructionsFile:    &instructions.Common,
		PlannerInstructionsFile:   &instructions.Planner,
		GeneratorInstructionsFile: &instructions.Generator,
		ChatInstructionsFile:      &instructions.Chat,
	}

	for filename, target := range files {
		content, err := os.ReadFile(filepath.Join(dir, filename))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w (please check file permissions)", filename, err)
		}

		text := string(content)
		if len(text) > UserInstructionsCharLimit {
			return nil, fmt.Errorf("%s exceeds character limit of %d (current: %d)",
				filename, UserInstructionsCharLimit, len(text))
		}
		if tokens := CountTokensSimple(text); tokens > UserInstructionsTokenLimit {
			return nil, fmt.Errorf("%s exceeds token limit of %d (current: %d)",
				filename, UserInstructionsTokenLimit, tokens)
		}

		*target = stripPlaceholder(text)
	}

	return instructions, nil
}

// stripPlaceholder returns "" when text holds nothing but HTML comments.
func stripPlaceholder(text string) string {
	rest := strings.TrimSpace(text)
	for strings.HasPrefix(rest, "<!--") {
		end := strings.Index(rest, "-->")
		if end < 0 {
			break
		}
		rest = strings.TrimSpace(rest[end+3:])
	}
	if rest == "" {
		return ""
	}
	return strings.TrimSpace(text)
}

// FormatUserInstructions formats instructions for appending to a system
// prompt. Returns "" when nothing applies to the audience.
func FormatUserInstructions(instructions *UserInstructions, audience string) string {
	if instructions == nil {
		return ""
	}

	var parts []string
	if instructions.Common != "" {
		parts = append(parts, "---\n## Common Instructions\n"+instructions.Common)
	}

	var specific string
	switch audience {
	case AudiencePlanner:
		specific = instructions.Planner
	case AudienceGenerator:
		specific = instructions.Generator
	case AudienceChat:
		specific = instructions.Chat
	}
	if specific != "" {
		parts = append(parts, "---\n## Stage-Specific Instructions\n"+specific)
	}

	if len(parts) == 0 {
		return ""
	}
	return "\n" + strings.Join(parts, "\n")
}
