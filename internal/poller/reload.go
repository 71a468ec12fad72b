package poller

import (
	"reflect"

	"chainpulse/internal/config"
)

// Plan is the disjoint add/remove/replace set a reload applies. A chain whose
// identity (name or rpc_url) changed appears in both Remove and Add so the
// pooled client is refreshed.
type Plan struct {
	Add     []config.ChainSpec
	Remove  []string
	Replace []config.ChainSpec
}

// Empty reports whether the plan changes nothing. Applying the same config
// twice yields an empty second plan.
func (p Plan) Empty() bool {
	return len(p.Add) == 0 && len(p.Remove) == 0 && len(p.Replace) == 0
}

// Diff computes the reload plan between the running spec set and the new one.
func Diff(current, next []config.ChainSpec) Plan {
	currentByName := make(map[string]config.ChainSpec, len(current))
	for _, spec := range current {
		currentByName[spec.Name] = spec
	}
	nextByName := make(map[string]config.ChainSpec, len(next))
	for _, spec := range next {
		nextByName[spec.Name] = spec
	}

	var plan Plan

	for _, spec := range current {
		replacement, stillPresent := nextByName[spec.Name]
		if !stillPresent {
			plan.Remove = append(plan.Remove, spec.Name)
			continue
		}
		if replacement.Identity() != spec.Identity() {
			// Identity-bearing change: remove-then-add.
			plan.Remove = append(plan.Remove, spec.Name)
			plan.Add = append(plan.Add, replacement)
		}
	}

	for _, spec := range next {
		existing, alreadyPresent := currentByName[spec.Name]
		if !alreadyPresent {
			plan.Add = append(plan.Add, spec)
			continue
		}
		if existing.Identity() != spec.Identity() {
			continue // already planned as remove-then-add
		}
		if !reflect.DeepEqual(existing, spec) {
			plan.Replace = append(plan.Replace, spec)
		}
	}

	return plan
}
