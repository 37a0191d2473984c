// Package graph implements the workflow state machine: an iterative driver
// that resolves goto targets to nodes, merges their state deltas, and emits
// the request's event stream.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pmflow/pmflow/pkg/agent"
	"github.com/pmflow/pmflow/pkg/budget"
	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/events"
	"github.com/pmflow/pmflow/pkg/models"
)

// Node is one vertex of the workflow graph. Run returns a partial state
// update; routing happens through StateDelta.Goto. Nodes must honor ctx
// cancellation at every suspension point.
type Node interface {
	Name() string
	Run(ctx context.Context, rc *agent.RunContext, st *models.State) (*models.StateDelta, error)
}

// Retry schedule for transient node errors.
var transientBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}

// maxDriverIterations is a safety valve against routing bugs. Legitimate
// workflows stay far below it: the react loop, step retries, and the replan
// bound are all enforced inside nodes.
const maxDriverIterations = 64

// executionLoopNodes are the nodes whose permanent failures steer to the
// reflector instead of aborting straight to the reporter.
var executionLoopNodes = map[string]bool{
	config.NodeResearchTeam: true,
	config.NodePMAgent:      true,
	config.NodeResearcher:   true,
	config.NodeCoder:        true,
	config.NodeValidator:    true,
}

// Driver walks the graph for one request. Single-threaded per request: at
// most one node executes at a time, and all state mutation happens on the
// driver's goroutine. The driver owns the request's event stream.
type Driver struct {
	rc    *agent.RunContext
	nodes map[string]Node
}

// NewDriver creates a driver over the given nodes.
func NewDriver(rc *agent.RunContext, nodes ...Node) *Driver {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.Name()] = n
	}
	return &Driver{rc: rc, nodes: m}
}

// Run executes the workflow until goto reaches end, the context is
// cancelled, or a fatal error occurs. The event stream is closed before
// returning. A reporter message is always produced on non-cancelled paths —
// there is no silent failure mode.
func (d *Driver) Run(ctx context.Context, st *models.State) error {
	defer d.rc.Stream.Close()

	log := d.rc.Log()
	start := time.Now()
	reporterDone := false
	enteredPipeline := false

	if st.Goto == "" {
		st.Goto = config.NodeCoordinator
	}

	for iter := 0; iter < maxDriverIterations; iter++ {
		// Cancellation wins over normal termination: a request cancelled while
		// its last node ran still reports cancelled.
		if err := ctx.Err(); err != nil {
			d.emitCancelled(st)
			return err
		}

		if st.Goto == config.NodeEnd {
			return nil
		}

		// Path deadlines: the react fast path gets a shorter budget than the
		// full pipeline. On breach, the reporter still runs so the caller
		// gets partial results.
		if !reporterDone && st.Goto != config.NodeReporter {
			limit := d.rc.Config.Defaults.FullPathTimeout
			if !enteredPipeline {
				limit = d.rc.Config.Defaults.ReactPathTimeout
			}
			if time.Since(start) > limit {
				log.Warn("Request deadline breached, forcing reporter",
					"request_id", d.rc.RequestID, "elapsed", time.Since(start), "limit", limit)
				st.Apply(&models.StateDelta{
					Observations: []string{"deadline exceeded: workflow stopped before all steps completed"},
					Goto:         config.NodeReporter,
				})
			}
		}

		// Routing guards that keep the terminal invariants absolute even if
		// a node misroutes: the replan bound and the single-reporter rule.
		if st.Goto == config.NodePlanner && st.PlanIterations >= st.MaxReplanIterations {
			st.Goto = config.NodeReporter
			st.Observations = append(st.Observations,
				fmt.Sprintf("replan budget exhausted after %d iterations", st.PlanIterations))
		}
		if st.Goto == config.NodeReporter && reporterDone {
			st.Goto = config.NodeEnd
			continue
		}

		node, ok := d.nodes[st.Goto]
		if !ok {
			d.emitError(ctx, events.ErrKindLLMFatal, fmt.Sprintf("no node registered for %q", st.Goto))
			return fmt.Errorf("%w: %s", ErrUnknownNode, st.Goto)
		}

		if node.Name() == config.NodePlanner {
			enteredPipeline = true
		}

		invocationID := uuid.New().String()
		d.emitTask(ctx, events.EventTypeTaskStarted, node.Name(), invocationID, st.CurrentStepIndex)

		delta, err := d.runWithRetry(ctx, node, st)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.emitCancelled(st)
				return err
			}
			next := d.routeFailure(node.Name(), st, err)
			log.Error("Node failed", "request_id", d.rc.RequestID, "node", node.Name(),
				"next", next, "error", err)
			st.Apply(&models.StateDelta{
				Observations: []string{failureObservation(node.Name(), err)},
				Goto:         next,
			})
			if next == config.NodeEnd {
				d.emitError(ctx, events.ErrKindLLMFatal, err.Error())
				return err
			}
			continue
		}

		st.Apply(delta)
		d.emitTask(ctx, events.EventTypeTaskCompleted, node.Name(), invocationID, st.CurrentStepIndex)

		if node.Name() == config.NodeReporter {
			reporterDone = true
			if st.Goto != config.NodeEnd {
				st.Goto = config.NodeEnd
			}
		}
	}

	d.emitError(ctx, events.ErrKindLLMFatal, "workflow did not terminate")
	return ErrIterationBudget
}

// runWithRetry invokes a node, retrying transient failures with the fixed
// backoff schedule. Context cancellation aborts the backoff wait.
func (d *Driver) runWithRetry(ctx context.Context, node Node, st *models.State) (*models.StateDelta, error) {
	var lastErr error
	for attempt := 0; attempt <= len(transientBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(transientBackoff[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			d.rc.Log().Warn("Retrying node after transient failure",
				"node", node.Name(), "attempt", attempt, "error", lastErr)
		}

		delta, err := node.Run(ctx, d.rc, st)
		if err == nil {
			return delta, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// routeFailure decides where a permanent node failure goes. Context-budget
// errors drop to the reflector; execution-loop failures do too (when replans
// remain); everything else terminates through the reporter. A failure in the
// reporter itself ends the stream with an error event.
func (d *Driver) routeFailure(nodeName string, st *models.State, err error) string {
	if nodeName == config.NodeReporter {
		return config.NodeEnd
	}
	if errors.Is(err, budget.ErrContextTooLarge) {
		if nodeName == config.NodeReflector {
			return config.NodeReporter
		}
		return config.NodeReflector
	}
	if executionLoopNodes[nodeName] && st.PlanIterations < st.MaxReplanIterations {
		return config.NodeReflector
	}
	return config.NodeReporter
}

func (d *Driver) emitTask(ctx context.Context, eventType, agentName, id string, step int) {
	d.rc.Stream.Emit(ctx, events.Event{
		Event: eventType,
		Data: events.TaskPayload{
			ThreadID: d.rc.ThreadID,
			Agent:    agentName,
			ID:       id,
			Step:     step,
		},
	})
}

func (d *Driver) emitError(ctx context.Context, kind, message string) {
	d.rc.Stream.Emit(ctx, events.Event{
		Event: events.EventTypeError,
		Data:  events.ErrorPayload{ThreadID: d.rc.ThreadID, Kind: kind, Message: message},
	})
}

// emitCancelled publishes the terminal cancellation event. It uses a
// detached context: the request context is already dead, and the event must
// still reach the stream buffer for the transport to flush.
func (d *Driver) emitCancelled(st *models.State) {
	flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.rc.Stream.Emit(flushCtx, events.Event{
		Event: events.EventTypeError,
		Data: events.ErrorPayload{
			ThreadID: d.rc.ThreadID,
			Kind:     events.ErrKindCancelled,
			Message:  "request cancelled",
		},
	})
}

func failureObservation(nodeName string, err error) string {
	kind := events.ErrKindLLMFatal
	switch {
	case errors.Is(err, budget.ErrContextTooLarge):
		kind = events.ErrKindContextTooLarge
	case errors.Is(err, agent.ErrLLMTransient):
		kind = events.ErrKindLLMTransient
	}
	return fmt.Sprintf("[%s] %s failed: %v", kind, nodeName, err)
}
