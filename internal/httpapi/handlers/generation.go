package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/common"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"github.com/suPer8Hu/studytree-ai/internal/httpapi/middleware"
	"github.com/suPer8Hu/studytree-ai/internal/prompt"
	"go.uber.org/zap"
)

// HeartbeatInterval spaces SSE ping events on idle streams.
var HeartbeatInterval = 15 * time.Second

type generateReq struct {
	AdditionalContext string `json:"additional_context"`
	Stream            bool   `json:"stream"`
}

// Generate serves POST /ai/nodes/:node_id/<kind>.
func (h *Handler) Generate(kind prompt.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			common.FailErr(c, apperr.Auth("unauthorized", nil), nil)
			return
		}

		nodeID, err := strconv.ParseInt(c.Param("node_id"), 10, 64)
		if err != nil || nodeID <= 0 {
			common.FailErr(c, apperr.Invalid(apperr.CodeInvalidNodeID, "invalid node_id"), nil)
			return
		}

		var body generateReq
		// an empty body means defaults
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			common.FailErr(c, apperr.Invalid(apperr.CodeInvalidJSON, "invalid json"), nil)
			return
		}

		req := generation.Request{
			NodeID:            nodeID,
			Kind:              kind,
			AdditionalContext: body.AdditionalContext,
			Stream:            body.Stream,
		}
		if req.Stream {
			h.stream(c, req)
			return
		}

		res, err := h.Gen.Generate(c.Request.Context(), id, req)
		if err != nil {
			common.FailErr(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) stream(c *gin.Context, req generation.Request) {
	id, _ := middleware.IdentityFrom(c)
	ctx := c.Request.Context()

	// Failures up to here are still plain JSON errors.
	ss, err := h.Gen.Stream(ctx, id, req)
	if err != nil {
		common.FailErr(c, err, nil)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Generation-ID", ss.RequestID)
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frag, ok := <-ss.Fragments:
			if ok {
				writeJSON("chunk", gin.H{
					"type":  "chunk",
					"delta": frag,
				})
				continue
			}
			if ctx.Err() != nil {
				// nobody left to tell
				return
			}
			if err := ss.Err(); err != nil {
				e := apperr.From(err)
				writeJSON("error", gin.H{
					"type":       "error",
					"code":       e.Code,
					"message":    e.Message,
					"request_id": ss.RequestID,
				})
				return
			}
			// Publishing continues in the background; its outcome is not
			// part of this response.
			writeJSON("done", gin.H{
				"type":       "done",
				"request_id": ss.RequestID,
				"model_name": ss.ModelName,
			})
			return

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})
		}
	}
}

// GetGeneration serves GET /ai/generations/:request_id.
func (h *Handler) GetGeneration(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		common.FailErr(c, apperr.Auth("unauthorized", nil), nil)
		return
	}

	g, err := h.Gen.Lookup(c.Request.Context(), id, c.Param("request_id"))
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			h.Log.Error("lookup generation", zap.String("request_id", c.Param("request_id")), zap.Error(err))
		}
		common.FailErr(c, err, nil)
		return
	}

	common.OK(c, gin.H{
		"generation": gin.H{
			"request_id":       g.RequestID,
			"node_id":          g.NodeID,
			"kind":             g.Kind,
			"stream":           g.Stream,
			"status":           g.Status,
			"partial":          g.Partial,
			"model_name":       g.ModelName,
			"tokens_in":        g.TokensIn,
			"tokens_out":       g.TokensOut,
			"artifact_id":      g.ArtifactID,
			"publish_attempts": g.PublishAttempts,
			"error":            g.Error,
			"created_at":       g.CreatedAt,
			"updated_at":       g.UpdatedAt,
		},
	})
}
