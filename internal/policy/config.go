package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds defines the score boundaries that force a checkpoint.
type Thresholds struct {
	CheckpointTrigger float64 `yaml:"checkpoint_trigger" json:"checkpoint_trigger"`
	SessionBudget     float64 `yaml:"session_budget" json:"session_budget"`
}

// ActionRule binds an action-name pattern to scoring overrides.
// Rules are evaluated in declared order; the first pattern match wins.
type ActionRule struct {
	Pattern          string             `yaml:"pattern" json:"pattern"`
	ImpactFloor      float64            `yaml:"impact_floor" json:"impact_floor"`
	AlwaysCheckpoint bool               `yaml:"always_checkpoint" json:"always_checkpoint"`
	MetadataBoosts   map[string]float64 `yaml:"metadata_boosts" json:"metadata_boosts,omitempty"`
	Probability      float64            `yaml:"probability" json:"probability,omitempty"`
	Description      string             `yaml:"description" json:"description,omitempty"`

	matcher matcher
}

// Matches reports whether the rule's compiled pattern matches the action name.
func (r *ActionRule) Matches(action string) bool {
	return r.matcher.match(action)
}

// CompoundDetection configures same-target clustering detection.
type CompoundDetection struct {
	TimeWindowSeconds int     `yaml:"time_window_seconds" json:"time_window_seconds"`
	SameResourceBoost float64 `yaml:"same_resource_boost" json:"same_resource_boost"`
	RepetitionLimit   int     `yaml:"repetition_limit" json:"repetition_limit"`
}

// Window returns the detection window as a duration.
func (c CompoundDetection) Window() time.Duration {
	return time.Duration(c.TimeWindowSeconds) * time.Second
}

// NearMissConfig configures decay-based near-miss learning.
type NearMissConfig struct {
	HalfLifeHours float64 `yaml:"half_life_hours" json:"half_life_hours"`
	MaxMultiplier float64 `yaml:"max_multiplier" json:"max_multiplier"`
	MinSeverity   float64 `yaml:"min_severity" json:"min_severity"`
}

// HalfLife returns the decay half-life as a duration.
func (n NearMissConfig) HalfLife() time.Duration {
	return time.Duration(n.HalfLifeHours * float64(time.Hour))
}

// ApprovalConfig tunes the human-approval workflow.
type ApprovalConfig struct {
	RequireNotes         bool `yaml:"require_notes" json:"require_notes"`
	MaxPendingPerSession int  `yaml:"max_pending_per_session" json:"max_pending_per_session"`
}

// FactorDefaults are the base risk factors used when no rule or metadata
// says otherwise.
type FactorDefaults struct {
	Impact      float64 `yaml:"impact" json:"impact"`
	Breadth     float64 `yaml:"breadth" json:"breadth"`
	Probability float64 `yaml:"probability" json:"probability"`
}

// Policy is one immutable policy snapshot. Mutating a Policy after it has
// been published through a Store is a bug; reload builds a fresh one.
type Policy struct {
	RiskThresholds    Thresholds        `yaml:"risk_thresholds" json:"risk_thresholds"`
	ActionRules       []ActionRule      `yaml:"action_rules" json:"action_rules"`
	CompoundDetection CompoundDetection `yaml:"compound_detection" json:"compound_detection"`
	NearMiss          NearMissConfig    `yaml:"near_miss" json:"near_miss"`
	Approval          ApprovalConfig    `yaml:"approval" json:"approval"`
	Defaults          FactorDefaults    `yaml:"defaults" json:"defaults"`
}

// Default returns the built-in policy used when no document is supplied.
func Default() *Policy {
	p := &Policy{
		RiskThresholds: Thresholds{
			CheckpointTrigger: 0.6,
			SessionBudget:     0.8,
		},
		ActionRules: []ActionRule{
			{
				Pattern:          "delete_*",
				ImpactFloor:      0.8,
				AlwaysCheckpoint: true,
				Description:      "destructive operations always require approval",
			},
			{
				Pattern:     "send_*",
				ImpactFloor: 0.4,
				MetadataBoosts: map[string]float64{
					"external":           0.2,
					"recipients_over_10": 0.2,
				},
				Description: "outbound communication",
			},
			{
				Pattern:          "*payment*",
				ImpactFloor:      0.7,
				AlwaysCheckpoint: true,
				MetadataBoosts: map[string]float64{
					"amount_over_1000": 0.2,
				},
				Description: "payment operations",
			},
		},
		CompoundDetection: CompoundDetection{
			TimeWindowSeconds: 300,
			SameResourceBoost: 0.2,
			RepetitionLimit:   3,
		},
		NearMiss: NearMissConfig{
			HalfLifeHours: 24.0,
			MaxMultiplier: 2.0,
			MinSeverity:   0.1,
		},
		Approval: ApprovalConfig{
			MaxPendingPerSession: 10,
		},
		Defaults: FactorDefaults{
			Impact:      0.5,
			Breadth:     0.3,
			Probability: 0.3,
		},
	}
	if err := p.compile(); err != nil {
		// Built-in patterns are static; a compile failure here is a
		// programming error.
		panic(err)
	}
	return p
}

// Parse decodes a YAML policy document over the defaults, validates it, and
// compiles its rule patterns. Unknown fields are ignored; missing fields
// keep their default values. The previous policy is untouched on error.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a policy document from disk. A missing file yields the
// built-in defaults, matching the zero-config path.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// LoadWithHash loads a policy and returns the SHA-256 of the raw document.
// Defaults (no file) hash as SHA-256 of empty input.
func LoadWithHash(path string) (*Policy, string, error) {
	if path == "" {
		return Default(), hashBytes(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("read policy file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return p, hashBytes(data), nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// MatchRule returns the first rule whose pattern matches the action name,
// or nil when no rule applies. Declaration order breaks ties.
func (p *Policy) MatchRule(action string) *ActionRule {
	for i := range p.ActionRules {
		if p.ActionRules[i].Matches(action) {
			return &p.ActionRules[i]
		}
	}
	return nil
}

// Validate checks every field range. It returns a *ValidationError listing
// all offending fields, not just the first.
func (p *Policy) Validate() error {
	var v ValidationError

	checkUnit := func(field string, val float64) {
		if val < 0 || val > 1 {
			v.add(field, fmt.Sprintf("must be in [0,1], got %g", val))
		}
	}

	checkUnit("risk_thresholds.checkpoint_trigger", p.RiskThresholds.CheckpointTrigger)
	if p.RiskThresholds.SessionBudget <= 0 || p.RiskThresholds.SessionBudget > 1 {
		v.add("risk_thresholds.session_budget", fmt.Sprintf("must be in (0,1], got %g", p.RiskThresholds.SessionBudget))
	}

	for i, rule := range p.ActionRules {
		prefix := fmt.Sprintf("action_rules[%d]", i)
		if rule.Pattern == "" {
			v.add(prefix+".pattern", "must not be empty")
		}
		checkUnit(prefix+".impact_floor", rule.ImpactFloor)
		if rule.Probability != 0 {
			checkUnit(prefix+".probability", rule.Probability)
		}
		for key, boost := range rule.MetadataBoosts {
			if boost < 0 || boost > 1 {
				v.add(fmt.Sprintf("%s.metadata_boosts[%s]", prefix, key), fmt.Sprintf("must be in [0,1], got %g", boost))
			}
		}
	}

	if p.CompoundDetection.TimeWindowSeconds <= 0 {
		v.add("compound_detection.time_window_seconds", fmt.Sprintf("must be > 0, got %d", p.CompoundDetection.TimeWindowSeconds))
	}
	checkUnit("compound_detection.same_resource_boost", p.CompoundDetection.SameResourceBoost)
	if p.CompoundDetection.RepetitionLimit < 1 {
		v.add("compound_detection.repetition_limit", fmt.Sprintf("must be >= 1, got %d", p.CompoundDetection.RepetitionLimit))
	}

	if p.NearMiss.HalfLifeHours <= 0 {
		v.add("near_miss.half_life_hours", fmt.Sprintf("must be > 0, got %g", p.NearMiss.HalfLifeHours))
	}
	if p.NearMiss.MaxMultiplier < 0 {
		v.add("near_miss.max_multiplier", fmt.Sprintf("must be >= 0, got %g", p.NearMiss.MaxMultiplier))
	}
	checkUnit("near_miss.min_severity", p.NearMiss.MinSeverity)

	checkUnit("defaults.impact", p.Defaults.Impact)
	checkUnit("defaults.breadth", p.Defaults.Breadth)
	checkUnit("defaults.probability", p.Defaults.Probability)

	if len(v.Fields) > 0 {
		return &v
	}
	return nil
}

// compile builds the per-rule matchers. Called once at load time so the
// evaluation path never reparses pattern strings.
func (p *Policy) compile() error {
	for i := range p.ActionRules {
		m, err := compilePattern(p.ActionRules[i].Pattern)
		if err != nil {
			return &ValidationError{Fields: []FieldError{{
				Field:   fmt.Sprintf("action_rules[%d].pattern", i),
				Message: err.Error(),
			}}}
		}
		p.ActionRules[i].matcher = m
	}
	return nil
}
