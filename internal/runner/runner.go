package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TaskRequest contains the data sent to an LLM backend for one task.
type TaskRequest struct {
	TaskID       string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// TaskResponse contains the raw response from an LLM backend.
type TaskResponse struct {
	Content    string
	TokensUsed int
}

// Client sends a single completion request to an LLM backend.
type Client interface {
	Complete(ctx context.Context, req TaskRequest) (TaskResponse, error)
	Name() string
}

// Runner dispatches tasks to a Client and tracks in-flight tasks by id so
// they can be cancelled by prefix.
type Runner struct {
	client Client

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates a Runner for the named provider.
func New(provider, model string) (*Runner, error) {
	var client Client
	var err error
	switch provider {
	case "anthropic":
		client, err = NewAnthropic(model)
	case "ollama", "lmstudio":
		client, err = NewOllama(model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return NewWithClient(client), nil
}

// NewWithClient creates a Runner over an existing Client.
func NewWithClient(client Client) *Runner {
	return &Runner{
		client:   client,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Run executes one task. The task is registered under its id for the
// duration of the call so Cancel can reach it.
func (r *Runner) Run(ctx context.Context, req TaskRequest) (TaskResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.TaskID != "" {
		r.mu.Lock()
		r.inflight[req.TaskID] = cancel
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, req.TaskID)
			r.mu.Unlock()
		}()
	}

	return r.client.Complete(ctx, req)
}

// Cancel requests cancellation of every in-flight task whose id starts with
// prefix and returns the number of tasks signalled. It does not wait for the
// tasks to stop.
func (r *Runner) Cancel(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for id, cancel := range r.inflight {
		if strings.HasPrefix(id, prefix) {
			cancel()
			n++
		}
	}
	return n
}

// Name returns the backend name.
func (r *Runner) Name() string {
	return r.client.Name()
}
