// Package treestore talks to the system of record that owns trees, nodes and
// persisted AI messages. Every call carries the service credential; the end
// user's bearer token never leaves this process.
package treestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
)

const (
	HeaderServiceToken = "X-Service-Token"
	// HeaderOnBehalfOf names the end user so the store can apply its own
	// tree membership checks.
	HeaderOnBehalfOf = "X-On-Behalf-Of"
)

// ServiceCredential is the static secret that authenticates this service to
// the store. Its String form is redacted so it cannot leak through logs.
type ServiceCredential string

func (c ServiceCredential) String() string { return "[redacted]" }

type Client struct {
	BaseURL        string
	Credential     ServiceCredential
	HTTP           *http.Client
	FetchTimeout   time.Duration
	PublishTimeout time.Duration
}

func NewClient(baseURL string, cred ServiceCredential, fetchTimeout, publishTimeout time.Duration) *Client {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	if publishTimeout <= 0 {
		publishTimeout = 10 * time.Second
	}
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Credential:     cred,
		HTTP:           &http.Client{},
		FetchTimeout:   fetchTimeout,
		PublishTimeout: publishTimeout,
	}
}

func (c *Client) do(ctx context.Context, method, path string, onBehalfOf *auth.Identity, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderServiceToken, string(c.Credential))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if onBehalfOf != nil {
		req.Header.Set(HeaderOnBehalfOf, onBehalfOf.String())
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "store: status " + strconv.Itoa(e.Status)
	}
	return fmt.Sprintf("store: status %d: %s", e.Status, e.Body)
}

// upstream converts a transport or status failure into the pipeline's
// upstream error, naming timeouts explicitly.
func upstream(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Upstream(op+" timed out", err)
	}
	return apperr.Upstream(op+" failed", err)
}
