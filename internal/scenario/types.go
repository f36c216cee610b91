// Package scenario runs policy regression suites: YAML files of
// actions with expected checkpoint decisions, evaluated against a
// policy document. Used by `riskgate policy test` to gate deployments.
package scenario

// CaseAction defines the action under test.
type CaseAction struct {
	Name     string         `yaml:"name"`
	Target   string         `yaml:"target,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// Case is one test case within a scenario. Cases sharing a session id
// accumulate compound and budget state in order, so multi-step
// sequences (repeated targets, budget exhaustion) can be asserted.
type Case struct {
	Action           CaseAction `yaml:"action"`
	Session          string     `yaml:"session,omitempty"`
	ExpectCheckpoint bool       `yaml:"expect_checkpoint"`
	ReasonContains   string     `yaml:"reason_contains,omitempty"`
}

// Scenario is a named collection of policy test cases.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index              int     `json:"index"`
	Passed             bool    `json:"passed"`
	Action             string  `json:"action"`
	Target             string  `json:"target"`
	ExpectedCheckpoint bool    `json:"expected_checkpoint"`
	ActualCheckpoint   bool    `json:"actual_checkpoint"`
	RiskScore          float64 `json:"risk_score"`
	Reason             string  `json:"reason"`
	Failure            string  `json:"failure,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
