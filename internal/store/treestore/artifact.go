package treestore

import (
	"context"
	"net/http"
	"time"
)

// Artifact is one finished generation. RequestID is the idempotency key: the
// store keeps at most one record per value.
type Artifact struct {
	RequestID string `json:"request_id"`
	NodeID    int64  `json:"node"`
	Kind      string `json:"type"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	ModelName string `json:"model_name"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	CreatedBy uint64 `json:"created_by"`
	// Partial marks output cut short by a caller disconnect.
	Partial bool `json:"partial"`
}

type PersistedArtifact struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Publish persists a. Delivering the same RequestID twice returns the
// existing record.
func (c *Client) Publish(ctx context.Context, a Artifact) (*PersistedArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.PublishTimeout)
	defer cancel()

	var out PersistedArtifact
	if err := c.do(ctx, http.MethodPost, "/api/ai-messages/", nil, a, &out); err != nil {
		return nil, upstream("publish ai message", err)
	}
	return &out, nil
}
