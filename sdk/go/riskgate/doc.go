// Package riskgate is the Go client for a riskgate server. It submits
// agent actions for risk evaluation before they execute, and blocks on
// human approval when the engine raises a checkpoint.
//
// Usage:
//
//	rg := riskgate.New(riskgate.WithBaseURL("http://localhost:8080"))
//	wrapped := rg.Wrap(sendEmail, riskgate.WrapWithWait(2*time.Second))
//	result, err := wrapped(ctx, riskgate.Action{
//	    Name:   "send_email",
//	    Target: "all-staff",
//	    Metadata: map[string]any{"recipients": 240},
//	})
//
// A *CheckpointError carries the action id so callers can surface the
// approval request and retry once a human resolves it.
package riskgate
