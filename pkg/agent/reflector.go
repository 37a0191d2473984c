package agent

import (
	"context"

	"github.com/pmflow/pmflow/pkg/config"
	"github.com/pmflow/pmflow/pkg/models"
)

// Reflector synthesizes a failure analysis for the planner: what failed,
// the likely root cause, and a suggested alternative approach.
type Reflector struct{}

func (n *Reflector) Name() string { return config.NodeReflector }

func (n *Reflector) Run(ctx context.Context, rc *RunContext, st *models.State) (*models.StateDelta, error) {
	model := rc.ModelFor(n.Name(), st)
	msgs := rc.Prompts.ReflectorMessages(st)
	fitted, err := rc.Budget.Fit(n.Name(), model, st, msgs)
	if err != nil {
		return nil, err
	}

	resp, err := callLLM(ctx, rc, &GenerateInput{
		ThreadID: rc.ThreadID,
		Node:     n.Name(),
		Model:    model,
		Messages: fitted,
	})
	if err != nil {
		return nil, err
	}

	return &models.StateDelta{
		Reflection: models.Ptr(resp.Text),
		RetryCount: models.Ptr(0),
		Goto:       config.NodePlanner,
	}, nil
}
