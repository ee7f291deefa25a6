// Package metrics provides metrics recording for oracle calls.
package metrics

import "time"

// Recorder defines the interface for recording oracle call metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed oracle request.
	ObserveRequest(
		model, conversationID, stage string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_, _, _ string, _, _ int, _ bool, _ string, _ time.Duration) {}

func (n *NoopRecorder) IncThrottle(_, _ string) {}

func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// multiRecorder fans every observation out to several recorders.
type multiRecorder []Recorder

// Tee returns a Recorder that forwards to every non-nil recorder given.
func Tee(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) ObserveRequest(model, conversationID, stage string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	for _, r := range m {
		r.ObserveRequest(model, conversationID, stage, promptTokens, completionTokens, success, errorType, duration)
	}
}

func (m multiRecorder) IncThrottle(model, reason string) {
	for _, r := range m {
		r.IncThrottle(model, reason)
	}
}

func (m multiRecorder) ObserveQueueWait(model string, duration time.Duration) {
	for _, r := range m {
		r.ObserveQueueWait(model, duration)
	}
}
