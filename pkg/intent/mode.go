package intent

import "conductor/pkg/proto"

// DefaultSwitchThreshold is the minimum confidence needed to change mode.
const DefaultSwitchThreshold = 0.7

// ShouldSwitchMode reports whether the classification is confident enough
// to move the conversation out of current.
func ShouldSwitchMode(c proto.IntentClassification, current proto.Mode, threshold float64) bool {
	if !c.SuggestedMode.IsValid() {
		return false
	}
	return c.Confidence >= threshold && c.SuggestedMode != current
}
