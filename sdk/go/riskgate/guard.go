package riskgate

import (
	"context"
)

// ToolFunc is the function signature that Wrap guards. The caller
// provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a ToolFunc that evaluates risk before calling fn.
// Low-risk actions run immediately. Checkpointed actions either return
// a *CheckpointError, or — with WrapWithWait — block until a human
// resolves them, then run on approval or return a *BlockedError on
// rejection.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	var wcfg wrapConfig
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, action Action) (any, error) {
		res, err := c.Evaluate(ctx, action)
		if err != nil {
			return nil, err
		}
		if !res.NeedsCheckpoint {
			return fn(ctx, action)
		}

		if wcfg.pollInterval <= 0 {
			return nil, &CheckpointError{
				ActionID:  res.ActionID,
				Reason:    res.CheckpointReason,
				RiskScore: res.RiskScore,
			}
		}

		rec, err := c.WaitForApproval(ctx, res.ActionID, wcfg.pollInterval)
		if err != nil {
			return nil, err
		}
		if rec.Status != StatusApproved {
			return nil, &BlockedError{ActionID: rec.ID, Notes: rec.ApprovalNotes}
		}
		return fn(ctx, action)
	}
}
