package treestore_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
	"github.com/suPer8Hu/studytree-ai/internal/store/treestore/treestoretest"
)

func TestFetchNode(t *testing.T) {
	srv := treestoretest.NewServer(t)
	srv.AddNode(treestoretest.Node{
		NodeContext: treestore.NodeContext{ID: 3, TreeID: 1, Title: "Linear Regression", UserNotes: "basics"},
		Members:     []uint64{7},
	})
	c := srv.Client()
	ctx := context.Background()

	n, err := c.FetchNode(ctx, 3, auth.Identity{UserID: 7})
	require.NoError(t, err)
	assert.Equal(t, "Linear Regression", n.Title)
	assert.Equal(t, "basics", n.UserNotes)

	// the store enforces membership, we just forward the identity
	_, err = c.FetchNode(ctx, 3, auth.Identity{UserID: 8})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))

	var se *treestore.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestFetchNode_WrongServiceToken(t *testing.T) {
	srv := treestoretest.NewServer(t)
	srv.AddNode(treestoretest.Node{NodeContext: treestore.NodeContext{ID: 1, Title: "x"}})

	c := treestore.NewClient(srv.URL, "nope", time.Second, time.Second)
	_, err := c.FetchNode(context.Background(), 1, auth.Identity{UserID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
}

func TestFetchNode_Timeout(t *testing.T) {
	srv := treestoretest.NewServer(t)
	srv.FetchDelay = time.Second
	srv.AddNode(treestoretest.Node{NodeContext: treestore.NodeContext{ID: 1, Title: "x"}})

	c := srv.Client()
	c.FetchTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.FetchNode(context.Background(), 1, auth.Identity{UserID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestPublish_IdempotentOnRequestID(t *testing.T) {
	srv := treestoretest.NewServer(t)
	c := srv.Client()
	ctx := context.Background()

	a := treestore.Artifact{
		RequestID: "req-1", NodeID: 3, Kind: "explain", Prompt: "p", Response: "r",
		ModelName: "stub", TokensIn: 1, TokensOut: 1, CreatedBy: 7,
	}
	first, err := c.Publish(ctx, a)
	require.NoError(t, err)
	second, err := c.Publish(ctx, a)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, srv.Artifacts(), 1)

	a.RequestID = "req-2"
	_, err = c.Publish(ctx, a)
	require.NoError(t, err)
	assert.Len(t, srv.Artifacts(), 2)
}

func TestPublish_StoreFailure(t *testing.T) {
	srv := treestoretest.NewServer(t)
	srv.PublishStatus.Store(http.StatusServiceUnavailable)

	_, err := srv.Client().Publish(context.Background(), treestore.Artifact{RequestID: "r"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
	assert.Empty(t, srv.Artifacts())
}

func TestServiceCredentialIsRedacted(t *testing.T) {
	cred := treestore.ServiceCredential("super-secret")
	assert.Equal(t, "[redacted]", fmt.Sprint(cred))
	assert.NotContains(t, fmt.Sprintf("%v", treestore.NewClient("http://x", cred, 0, 0)), "super-secret")
}
