// Package treestoretest provides an in-process stand-in for the system of
// record: service-token checks, per-user node visibility and request_id
// idempotency for AI messages.
package treestoretest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
)

const ServiceToken = "test-service-token"

type Node struct {
	treestore.NodeContext
	// Members may read the node. Empty means everyone.
	Members []uint64
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	nodes     map[int64]Node
	artifacts []StoredArtifact
	byRequest map[string]int

	// FetchDelay stalls node reads, to exercise client timeouts.
	FetchDelay time.Duration
	// PublishStatus, when non-zero, makes every publish fail with it.
	PublishStatus atomic.Int32

	Fetches   atomic.Int64
	Publishes atomic.Int64
}

type StoredArtifact struct {
	ID int64
	treestore.Artifact
	CreatedAt time.Time
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		nodes:     map[int64]Node{},
		byRequest: map[string]int{},
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader(treestore.HeaderServiceToken) != ServiceToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid service token"})
			return
		}
		c.Next()
	})
	r.GET("/api/nodes/:id/", s.getNode)
	r.POST("/api/ai-messages/", s.createAIMessage)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Client() *treestore.Client {
	return treestore.NewClient(s.URL, ServiceToken, time.Second, time.Second)
}

func (s *Server) AddNode(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

func (s *Server) Artifacts() []StoredArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredArtifact(nil), s.artifacts...)
}

func (s *Server) getNode(c *gin.Context) {
	s.Fetches.Add(1)
	if s.FetchDelay > 0 {
		select {
		case <-time.After(s.FetchDelay):
		case <-c.Request.Context().Done():
			return
		}
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	}
	s.mu.Lock()
	n, ok := s.nodes[id]
	s.mu.Unlock()
	if !ok || !visible(n, c.GetHeader(treestore.HeaderOnBehalfOf)) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	}
	c.JSON(http.StatusOK, n.NodeContext)
}

func visible(n Node, user string) bool {
	if len(n.Members) == 0 {
		return true
	}
	uid, err := strconv.ParseUint(user, 10, 64)
	if err != nil {
		return false
	}
	for _, m := range n.Members {
		if m == uid {
			return true
		}
	}
	return false
}

func (s *Server) createAIMessage(c *gin.Context) {
	s.Publishes.Add(1)
	if st := s.PublishStatus.Load(); st != 0 {
		c.JSON(int(st), gin.H{"detail": "unavailable"})
		return
	}

	var a treestore.Artifact
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a.RequestID != "" {
		if i, ok := s.byRequest[a.RequestID]; ok {
			c.JSON(http.StatusOK, s.persisted(s.artifacts[i]))
			return
		}
	}
	stored := StoredArtifact{ID: int64(len(s.artifacts) + 1), Artifact: a, CreatedAt: time.Now().UTC()}
	s.artifacts = append(s.artifacts, stored)
	if a.RequestID != "" {
		s.byRequest[a.RequestID] = len(s.artifacts) - 1
	}
	c.JSON(http.StatusCreated, s.persisted(stored))
}

func (s *Server) persisted(a StoredArtifact) treestore.PersistedArtifact {
	return treestore.PersistedArtifact{ID: a.ID, RequestID: a.RequestID, CreatedAt: a.CreatedAt}
}
