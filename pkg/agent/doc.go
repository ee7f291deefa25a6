// Package agent builds oracle clients.
//
// A ClientFactory wraps a raw provider client (Anthropic, OpenAI, Gemini or
// Ollama) in the resilience chain, outermost first:
//
//	metrics -> empty-response validation -> circuit breaker -> retry -> rate limit -> timeout -> provider
//
// Provider implementations live under internal/llmimpl; the chain pieces live
// under middleware/.
package agent
