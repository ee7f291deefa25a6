package chat

import (
	"regexp"
	"strings"
)

// CodeRemovedPlaceholder replaces fenced code that leaks into a chat reply.
const CodeRemovedPlaceholder = "[Code removed - please use Code Mode]"

// CodeModeTip is appended to chat replies whose message looks like a build request.
const CodeModeTip = "\n\n**Tip:** If you'd like me to generate actual code for this, " +
	"just ask and I'll switch to Code Mode and create it for you!"

// ErrorReply is the chat reply used when the oracle fails.
const ErrorReply = "I apologize, but I encountered an issue generating a response. " +
	"Could you please rephrase your question? If you need help with code, try switching to Code Mode."

// CodeIntentPolicy reports whether a chat message asks for something to be built.
type CodeIntentPolicy func(message string) bool

//nolint:gochecknoglobals // keyword table
var codeIntentKeywords = []string{
	"create", "build", "make", "generate", "add", "implement", "write", "code", "widget",
}

var (
	fencedBlock = regexp.MustCompile("(?s)```[\\w+-]*\\n.*?```")
	strayFence  = regexp.MustCompile("```[\\w+-]*")
)

// DetectCodeIntent is the default CodeIntentPolicy: a case-insensitive
// substring match on build verbs.
func DetectCodeIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range codeIntentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Sanitize removes code fences from a chat reply. Complete blocks become
// CodeRemovedPlaceholder and unmatched fences are dropped. The second
// result reports whether anything was removed.
func Sanitize(text string) (string, bool) {
	out := fencedBlock.ReplaceAllString(text, CodeRemovedPlaceholder)
	out = strayFence.ReplaceAllString(out, "")
	return out, out != text
}
