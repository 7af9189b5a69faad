package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

// maxErrorBody bounds how much of a failed response body is kept in HTTPError.
const maxErrorBody = 4 << 10

// Client talks to the block/task server's REST API.
//
// Concurrent ListBlocks calls are collapsed into one request; every caller gets
// its own copy of the result. A fetch only collapses with fetches that began
// after the last completed write, so a read following a write never sees the
// state from before it.
type Client struct {
	base         string
	http         *http.Client
	log          *zap.Logger
	fetchTimeout time.Duration

	fetch singleflight.Group
	// writes counts completed non-GET requests; it keys the shared fetch.
	writes atomic.Uint64
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client and of
// shared block fetches.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
			c.fetchTimeout = d
		}
	}
}

// New returns a client for the server rooted at server (e.g. http://127.0.0.1:8080).
func New(server string, opts ...Option) *Client {
	c := &Client{
		base:         strings.TrimRight(strings.TrimSpace(server), "/") + "/api",
		http:         &http.Client{Timeout: 30 * time.Second},
		log:          zap.NewNop(),
		fetchTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if method != http.MethodGet {
		defer c.writes.Add(1)
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func escape(s string) string { return url.PathEscape(s) }

// ListBlocks fetches every block with its todo_list. A response that is not a
// valid collection is an error; a partial result is never returned.
//
// The shared request runs detached from any one caller, bounded by the fetch
// timeout; a caller whose ctx ends stops waiting without failing the others.
func (c *Client) ListBlocks(ctx context.Context) ([]model.Block, error) {
	key := "blocks@" + strconv.FormatUint(c.writes.Load(), 10)
	ch := c.fetch.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		var blocks []model.Block
		if err := c.do(fctx, http.MethodGet, "/blocks", nil, &blocks); err != nil {
			return nil, err
		}
		if err := validateBlocks(blocks); err != nil {
			return nil, err
		}
		return blocks, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("GET /blocks: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.log.Debug("shared in-flight block fetch", zap.String("key", key))
	}
	src := res.Val.([]model.Block)
	out := make([]model.Block, len(src))
	for i := range src {
		out[i] = src[i].Clone()
	}
	return out, nil
}

func validateBlocks(blocks []model.Block) error {
	seen := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if err := b.Validate(); err != nil {
			return err
		}
		if _, dup := seen[b.BlockID]; dup {
			return fmt.Errorf("%w: duplicate block_id %q", model.ErrMalformedBlock, b.BlockID)
		}
		seen[b.BlockID] = struct{}{}
	}
	return nil
}

// GetBlock returns one block from a full fetch (the server has no single-block GET).
func (c *Client) GetBlock(ctx context.Context, blockID string) (model.Block, error) {
	blocks, err := c.ListBlocks(ctx)
	if err != nil {
		return model.Block{}, err
	}
	for _, b := range blocks {
		if b.BlockID == blockID {
			return b, nil
		}
	}
	return model.Block{}, &HTTPError{Method: http.MethodGet, Path: "/blocks", Status: http.StatusNotFound, Body: "block not found: " + blockID}
}

func (c *Client) CreateBlock(ctx context.Context, b model.Block) error {
	return c.do(ctx, http.MethodPost, "/blocks", b, nil)
}

func (c *Client) UpdateBlock(ctx context.Context, b model.Block) error {
	return c.do(ctx, http.MethodPut, "/blocks", b, nil)
}

func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	return c.do(ctx, http.MethodDelete, "/blocks/"+escape(blockID), nil, nil)
}

// AddTask creates a task in blockID and returns the id the server stored it under.
// A task without an id gets a generated one, as the server requires the field.
func (c *Client) AddTask(ctx context.Context, blockID string, t model.Task) (string, error) {
	if strings.TrimSpace(t.TaskID) == "" {
		t.TaskID = NewTaskID()
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/blocks/"+escape(blockID)+"/task", t, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return t.TaskID, nil
	}
	return resp.TaskID, nil
}

func (c *Client) DeleteTask(ctx context.Context, blockID, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/blocks/"+escape(blockID)+"/delete/"+escape(taskID), nil, nil)
}

// EnhanceBlock asks the server to rewrite the block description with the LLM.
func (c *Client) EnhanceBlock(ctx context.Context, b model.Block) error {
	return c.do(ctx, http.MethodPut, "/blocks/"+escape(b.BlockID)+"/enhance", b, nil)
}

// GenerateTasks asks the server to derive tasks from the block description.
func (c *Client) GenerateTasks(ctx context.Context, b model.Block) error {
	return c.do(ctx, http.MethodPut, "/blocks/"+escape(b.BlockID)+"/generate-tasks", b, nil)
}

func (c *Client) AutoComplete(ctx context.Context, description string) (string, error) {
	var resp struct {
		Suggestion string `json:"suggestion"`
	}
	if err := c.do(ctx, http.MethodPost, "/blocks/auto-complete", description, &resp); err != nil {
		return "", err
	}
	return resp.Suggestion, nil
}

func (c *Client) ProcessMarkdown(ctx context.Context, blockID, markdown string) (StatusResponse, error) {
	req := struct {
		BlockID         string `json:"block_id"`
		MarkdownContent string `json:"markdown_content"`
	}{BlockID: blockID, MarkdownContent: markdown}
	var resp StatusResponse
	err := c.do(ctx, http.MethodPost, "/blocks/process-markdown", req, &resp)
	return resp, err
}

func (c *Client) ProcessSpec(ctx context.Context, markdown string) (SpecResponse, error) {
	req := struct {
		MarkdownContent string `json:"markdown_content"`
	}{MarkdownContent: markdown}
	var resp SpecResponse
	err := c.do(ctx, http.MethodPost, "/blocks/process-spec", req, &resp)
	return resp, err
}

func (c *Client) BlockDependencies(ctx context.Context, blockID string) ([]model.TaskDependency, error) {
	var resp struct {
		Tasks []model.TaskDependency `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/blocks/"+escape(blockID)+"/dependencies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ExecuteTask queues a task for execution. Completion is observed by polling.
func (c *Client) ExecuteTask(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/blocks/execute-task", req, &resp); err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("execute task %s/%s: %s", req.BlockID, req.TaskID, resp.Message)
	}
	return resp, nil
}

func (c *Client) Branches(ctx context.Context) ([]string, error) {
	var resp struct {
		Success  bool     `json:"success"`
		Message  string   `json:"message"`
		Branches []string `json:"branches"`
	}
	if err := c.do(ctx, http.MethodGet, "/git/branches", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("git branches: %s", resp.Message)
	}
	return resp.Branches, nil
}

func (c *Client) JiraProjects(ctx context.Context) ([]JiraProject, error) {
	var resp struct {
		Projects []JiraProject `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/jira/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

func (c *Client) JiraSync(ctx context.Context, req JiraSyncRequest) (JiraSyncResponse, error) {
	if err := req.Validate(); err != nil {
		return JiraSyncResponse{}, err
	}
	var resp JiraSyncResponse
	err := c.do(ctx, http.MethodPost, "/jira/sync", req, &resp)
	return resp, err
}

// NewTaskID returns a short random task id.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
