package treestore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/suPer8Hu/studytree-ai/internal/auth"
)

// NodeContext is a read-only snapshot of a node, fetched fresh for every
// request.
type NodeContext struct {
	ID        int64  `json:"id"`
	TreeID    int64  `json:"tree"`
	ParentID  *int64 `json:"parent"`
	Title     string `json:"title"`
	UserNotes string `json:"user_notes"`
	AINotes   string `json:"ai_notes"`
}

// FetchNode loads the node on behalf of id. The store decides whether id may
// see it; any non-2xx answer or a timeout is an upstream error.
func (c *Client) FetchNode(ctx context.Context, nodeID int64, id auth.Identity) (*NodeContext, error) {
	ctx, cancel := context.WithTimeout(ctx, c.FetchTimeout)
	defer cancel()

	var n NodeContext
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/nodes/%d/", nodeID), &id, nil, &n); err != nil {
		return nil, upstream("fetch node context", err)
	}
	return &n, nil
}
