// Package runner assembles and executes one workflow per incoming request:
// it builds the per-request run context, drives the graph on a background
// goroutine, and tracks in-flight requests for cancellation and shutdown.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmflow/pmflow/pkg/agent"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/graph"
	"github.com/pmflow/pmflow/pkg/models"
)

// ErrShuttingDown rejects new requests during graceful shutdown.
var ErrShuttingDown = errors.New("runner is shutting down")

// ErrThreadBusy rejects a second concurrent request for the same thread.
var ErrThreadBusy = errors.New("thread already has a request in flight")

// Request is one parsed workflow invocation.
type Request struct {
	ThreadID             string
	ProjectID            string
	ModelName            string
	Messages             []models.Message
	FrontendHistoryCount int
}

// Runner owns the shared engine dependencies and the active-request registry.
type Runner struct {
	cfg     *config.Config
	llm     agent.LLMClient
	tools   agent.ToolExecutor
	budget  agent.BudgetCoordinator
	prompts agent.PromptBuilder
	logger  *slog.Logger

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

// New creates a runner over the shared dependencies.
func New(cfg *config.Config, llm agent.LLMClient, tools agent.ToolExecutor,
	budget agent.BudgetCoordinator, prompts agent.PromptBuilder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		llm:     llm,
		tools:   tools,
		budget:  budget,
		prompts: prompts,
		logger:  logger,
		active:  map[string]context.CancelFunc{},
	}
}

// Start launches the workflow for one request and returns its event stream.
// The caller drains the stream until it closes; the runner owns the driver
// goroutine's lifecycle.
func (r *Runner) Start(req *Request) (*events.Stream, error) {
	if req.ThreadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	if _, busy := r.active[req.ThreadID]; busy {
		r.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, req.ThreadID)
	}
	r.active[req.ThreadID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	requestID := uuid.New().String()
	stream := events.NewStream()
	rc := &agent.RunContext{
		RequestID: requestID,
		ThreadID:  req.ThreadID,
		Config:    r.cfg,
		LLM:       r.llm,
		Tools:     r.tools,
		Budget:    r.budget,
		Prompts:   r.prompts,
		Stream:    stream,
		Logger:    r.logger.With("request_id", requestID, "thread_id", req.ThreadID),
	}

	st := models.NewState(req.ThreadID, req.ProjectID, req.ModelName)
	st.MaxReplanIterations = r.cfg.Defaults.MaxReplanIterations
	st.Messages = append(st.Messages, req.Messages...)
	st.FrontendHistoryCount = req.FrontendHistoryCount

	driver := graph.NewDriver(rc, r.nodes()...)

	go func() {
		defer r.wg.Done()
		defer r.release(req.ThreadID)
		defer cancel()

		start := time.Now()
		if err := driver.Run(ctx, st); err != nil {
			rc.Log().Error("Workflow finished with error", "error", err, "duration", time.Since(start))
			return
		}
		rc.Log().Info("Workflow completed", "duration", time.Since(start))
	}()

	return stream, nil
}

// nodes returns a fresh node set. Nodes are stateless, but a set per driver
// keeps the registry map unshared.
func (r *Runner) nodes() []graph.Node {
	return []graph.Node{
		&agent.Coordinator{},
		&agent.Planner{},
		&agent.ReactAgent{},
		&agent.ResearchTeam{},
		agent.NewPMAgent(),
		agent.NewResearcher(),
		agent.NewCoder(),
		&agent.Validator{},
		&agent.Reflector{},
		&agent.Reporter{},
	}
}

// Cancel aborts the in-flight request for a thread. Returns false when no
// request is active.
func (r *Runner) Cancel(threadID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[threadID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// ActiveCount returns the number of in-flight requests.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown stops accepting requests and waits for in-flight workflows. When
// the context expires first, remaining requests are cancelled and the wait
// resumes until they unwind.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		for _, cancel := range r.active {
			cancel()
		}
		r.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) release(threadID string) {
	r.mu.Lock()
	delete(r.active, threadID)
	r.mu.Unlock()
}
