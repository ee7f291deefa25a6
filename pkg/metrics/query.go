// Package metrics provides orchestrator metrics and queries over the oracle
// usage that Prometheus scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ConversationMetrics is the aggregated oracle usage of a conversation.
type ConversationMetrics struct {
	ConversationID   string `json:"conversation_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetConversationMetrics sums token and request counters for one
// conversation across every stage and model.
func (q *QueryService) GetConversationMetrics(ctx context.Context, conversationID string) (*ConversationMetrics, error) {
	m := &ConversationMetrics{ConversationID: conversationID}

	var err error
	m.PromptTokens, err = q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{conversation_id=%q, type="prompt"})`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	m.CompletionTokens, err = q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{conversation_id=%q, type="completion"})`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	m.Requests, err = q.scalar(ctx, fmt.Sprintf(`sum(llm_requests_total{conversation_id=%q})`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}

	m.TotalTokens = m.PromptTokens + m.CompletionTokens
	return m, nil
}

// GetTokensByStage returns total tokens per pipeline stage, across all
// conversations.
func (q *QueryService) GetTokensByStage(ctx context.Context) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, `sum by (stage) (llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by stage: %w", err)
	}

	out := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric["stage"])] = int64(sample.Value)
		}
	}
	return out, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
