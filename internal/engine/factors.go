package engine

import (
	"math"
	"strings"

	"github.com/riskgate/riskgate/internal/model"
	"github.com/riskgate/riskgate/internal/policy"
)

// Factor heuristics. Every function here is pure over the metadata
// variant: a shape mismatch means the condition is not satisfied,
// never an error.

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truthy(md map[string]model.Value, key string) bool {
	v, ok := md[key]
	return ok && v.Truthy()
}

func numberAt(md map[string]model.Value, key string) (float64, bool) {
	v, ok := md[key]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

func stringAt(md map[string]model.Value, key string) (string, bool) {
	v, ok := md[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// recipientCount reads the "recipients" key as either a list length or
// a plain count.
func recipientCount(md map[string]model.Value) int {
	v, ok := md["recipients"]
	if !ok {
		return 0
	}
	return v.Count()
}

// conditionMet evaluates one metadata-boost condition: either a named
// derived condition or plain key truthiness.
func conditionMet(cond string, md map[string]model.Value) bool {
	switch cond {
	case "recipients_over_10":
		return recipientCount(md) > 10
	case "recipients_over_100":
		return recipientCount(md) > 100
	case "amount_over_1000":
		amt, ok := numberAt(md, "amount")
		return ok && amt > 1000
	case "amount_over_10000":
		amt, ok := numberAt(md, "amount")
		return ok && amt > 10000
	case "scope_global":
		s, ok := stringAt(md, "scope")
		return ok && strings.EqualFold(s, "global")
	case "scope_organization":
		s, ok := stringAt(md, "scope")
		return ok && strings.EqualFold(s, "organization")
	default:
		return truthy(md, cond)
	}
}

// impactFor computes the pre-adjustment impact factor: rule floor over
// the default base, plus intrinsic and rule-declared boosts.
func impactFor(defaults policy.FactorDefaults, rule *policy.ActionRule, md map[string]model.Value) float64 {
	impact := defaults.Impact
	if rule != nil && rule.ImpactFloor > impact {
		impact = rule.ImpactFloor
	}

	if truthy(md, "contains_pii") {
		impact += 0.2
	}
	if truthy(md, "financial") {
		impact += 0.3
	}
	if truthy(md, "irreversible") {
		impact += 0.2
	}
	if amt, ok := numberAt(md, "amount"); ok {
		switch {
		case amt > 10000:
			impact += 0.3
		case amt > 1000:
			impact += 0.2
		}
	}

	if rule != nil {
		for cond, boost := range rule.MetadataBoosts {
			if conditionMet(cond, md) {
				impact += boost
			}
		}
	}
	return clamp01(impact)
}

var (
	wideKeywords  = []string{"all", "everyone", "public", "broadcast"}
	groupKeywords = []string{"group", "team", "list"}
)

// breadthFor estimates how many parties the action touches, from the
// target name and metadata.
func breadthFor(defaults policy.FactorDefaults, target string, md map[string]model.Value) float64 {
	breadth := defaults.Breadth
	lower := strings.ToLower(target)

	for _, kw := range wideKeywords {
		if strings.Contains(lower, kw) {
			breadth = math.Max(breadth, 0.9)
			break
		}
	}
	for _, kw := range groupKeywords {
		if strings.Contains(lower, kw) {
			breadth = math.Max(breadth, 0.6)
			break
		}
	}

	switch n := recipientCount(md); {
	case n > 100:
		breadth = math.Max(breadth, 0.9)
	case n > 10:
		breadth = math.Max(breadth, 0.6)
	case n > 1:
		breadth = math.Max(breadth, 0.4)
	}

	if scope, ok := stringAt(md, "scope"); ok {
		switch strings.ToLower(scope) {
		case "global":
			breadth = math.Max(breadth, 1.0)
		case "organization":
			breadth = math.Max(breadth, 0.8)
		}
	}

	if truthy(md, "broadcast") || truthy(md, "public") {
		breadth += 0.3
	}
	return clamp01(breadth)
}

// probabilityFor is the per-action-class harm likelihood: rule override
// when present, raised by execution-context signals.
func probabilityFor(defaults policy.FactorDefaults, rule *policy.ActionRule, md map[string]model.Value) float64 {
	p := defaults.Probability
	if rule != nil && rule.Probability > 0 {
		p = rule.Probability
	}

	if v, ok := md["user_confirmed"]; ok {
		if confirmed, isBool := v.AsBool(); isBool && !confirmed {
			p += 0.3
		}
	}
	if truthy(md, "automated") {
		p += 0.2
	}
	if truthy(md, "time_sensitive") {
		p += 0.1
	}
	if truthy(md, "off_hours") {
		p += 0.2
	}
	return clamp01(p)
}
