package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/riskgate/riskgate/internal/engine"
	"github.com/riskgate/riskgate/internal/model"
	"github.com/riskgate/riskgate/internal/policy"
)

// Run evaluates all cases in a scenario against the given policy. One
// engine serves the whole scenario, so cases sharing a session id see
// each other's compound and budget state; cases without a session id
// get a fresh one.
func Run(s *Scenario, pol *policy.Policy) *RunResult {
	eng := engine.New(engine.Config{
		Policies: policy.NewStore(pol, "sha256:scenario", zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})

	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		session := c.Session
		if session == "" {
			session = fmt.Sprintf("case-%d", i+1)
		}

		var metadata map[string]model.Value
		if len(c.Action.Metadata) > 0 {
			metadata = model.FromMap(c.Action.Metadata)
		}

		cr := CaseResult{
			Index:              i + 1,
			Action:             c.Action.Name,
			Target:             c.Action.Target,
			ExpectedCheckpoint: c.ExpectCheckpoint,
		}

		res, err := eng.Evaluate(engine.EvaluateRequest{
			SessionID: session,
			Action:    c.Action.Name,
			Target:    c.Action.Target,
			Metadata:  metadata,
		})
		if err != nil {
			cr.Failure = err.Error()
			result.Failed++
			result.Cases = append(result.Cases, cr)
			continue
		}

		cr.ActualCheckpoint = res.NeedsCheckpoint
		cr.RiskScore = res.RiskScore
		cr.Reason = res.CheckpointReason

		switch {
		case res.NeedsCheckpoint != c.ExpectCheckpoint:
			cr.Failure = fmt.Sprintf("expected checkpoint=%v, got %v", c.ExpectCheckpoint, res.NeedsCheckpoint)
		case c.ReasonContains != "" && !strings.Contains(res.CheckpointReason, c.ReasonContains):
			cr.Failure = fmt.Sprintf("reason %q does not contain %q", res.CheckpointReason, c.ReasonContains)
		default:
			cr.Passed = true
		}

		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

// LoadAndRun loads a scenario YAML file and the policy, then runs.
func LoadAndRun(path, policyPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	pol, err := policy.Load(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	result := Run(&s, pol)
	result.File = path

	return result, nil
}
