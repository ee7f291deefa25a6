package mocks

import (
	"context"
	"sync"

	"conductor/pkg/agent/llm"
)

// scripted is one queued oracle reply.
type scripted struct {
	err     error
	content string
}

// MockLLMClient implements llm.LLMClient for testing.
//
// Replies are resolved in order: a reply queued for the call's stage
// (see llm.WithStage), then a reply from the shared queue, then CompleteFunc.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when no queued reply applies.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// StreamFunc is called by Stream when no queued reply applies.
	StreamFunc func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	// StreamCalls tracks all calls to Stream for verification.
	StreamCalls []llm.CompletionRequest

	stages      []string
	queue       []scripted
	stageQueues map[string][]scripted
	modelName   string
	mu          sync.Mutex
}

// NewMockLLMClient creates a mock whose default reply is "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{
		modelName:   "mock-model",
		stageQueues: make(map[string][]scripted),
	}

	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:    "Mock response",
			StopReason: "end_turn",
		}, nil
	}

	m.StreamFunc = func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Content: "Mock streamed response", Done: true}
		close(ch)
		return ch, nil
	}

	return m
}

// next pops the queued reply for stage, if any. Caller holds mu.
func (m *MockLLMClient) next(stage string) (scripted, bool) {
	if q := m.stageQueues[stage]; len(q) > 0 {
		m.stageQueues[stage] = q[1:]
		return q[0], true
	}
	if len(m.queue) > 0 {
		item := m.queue[0]
		m.queue = m.queue[1:]
		return item, true
	}
	return scripted{}, false
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	stage := llm.StageFrom(ctx)

	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	m.stages = append(m.stages, stage)
	item, ok := m.next(stage)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if ok {
		if item.err != nil {
			return llm.CompletionResponse{}, item.err
		}
		return llm.CompletionResponse{Content: item.content, StopReason: "end_turn"}, nil
	}
	return fn(ctx, req)
}

// Stream implements llm.LLMClient. Queued replies are delivered as a single chunk.
func (m *MockLLMClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	stage := llm.StageFrom(ctx)

	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	m.stages = append(m.stages, stage)
	item, ok := m.next(stage)
	fn := m.StreamFunc
	m.mu.Unlock()

	if !ok {
		return fn(ctx, req)
	}
	if item.err != nil {
		return nil, item.err
	}
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Content: item.content}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// --- Configuration methods ---

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// QueueResponse queues content for the next call of any stage.
func (m *MockLLMClient) QueueResponse(content ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range content {
		m.queue = append(m.queue, scripted{content: c})
	}
}

// QueueError queues an error for the next call of any stage.
func (m *MockLLMClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{err: err})
}

// QueueStageResponse queues content for the next calls issued under stage.
func (m *MockLLMClient) QueueStageResponse(stage string, content ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range content {
		m.stageQueues[stage] = append(m.stageQueues[stage], scripted{content: c})
	}
}

// QueueStageError queues an error for the next call issued under stage.
func (m *MockLLMClient) QueueStageError(stage string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageQueues[stage] = append(m.stageQueues[stage], scripted{err: err})
}

// RespondWith configures the fallback reply for every unqueued call.
func (m *MockLLMClient) RespondWith(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: content, StopReason: "end_turn"}, nil
	}
}

// FailCompleteWith configures every unqueued Complete to fail with err.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	}
}

// StreamContent configures Stream to return content in chunks of chunkSize.
func (m *MockLLMClient) StreamContent(content string, chunkSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamFunc = func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			for i := 0; i < len(content); i += chunkSize {
				end := min(i+chunkSize, len(content))
				ch <- llm.StreamChunk{Content: content[i:end]}
			}
			ch <- llm.StreamChunk{Done: true}
		}()
		return ch, nil
	}
}

// --- Verification helpers ---

// CallCount returns the number of Complete and Stream calls.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stages)
}

// StageCalls returns how many calls were issued under stage.
func (m *MockLLMClient) StageCalls(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.stages {
		if s == stage {
			n++
		}
	}
	return n
}

// Stages returns the stage of every call in order.
func (m *MockLLMClient) Stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stages...)
}

// LastRequest returns the most recent Complete request.
func (m *MockLLMClient) LastRequest() (llm.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return m.CompleteCalls[len(m.CompleteCalls)-1], true
}

// Reset clears call tracking and queued replies.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = nil
	m.StreamCalls = nil
	m.stages = nil
	m.queue = nil
	m.stageQueues = make(map[string][]scripted)
}
