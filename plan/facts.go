// Package plan implements the plan lifecycle: facts normalization, plan
// creation and recomputation, and task status transitions.
package plan

import "strings"

var childInsuranceValues = map[string]struct{}{
	"unknown": {},
	"gkv":     {},
	"pkv":     {},
}

// NormalizeFacts canonicalises facts before planning. Rules apply by
// template-key prefix; the input map is never mutated.
func NormalizeFacts(templateKey string, facts map[string]any) map[string]any {
	normalized := make(map[string]any, len(facts)+1)
	for k, v := range facts {
		normalized[k] = v
	}

	if strings.HasPrefix(templateKey, "birth_de/") {
		normalizeBirthFacts(normalized)
	}

	return normalized
}

// normalizeBirthFacts derives child_insurance_kind from the parents'
// insurance flags unless the user already settled on gkv or pkv.
func normalizeBirthFacts(facts map[string]any) {
	current, _ := facts["child_insurance_kind"].(string)
	if current == "gkv" || current == "pkv" {
		return
	}

	public, _ := facts["public_insurance"].(bool)
	publicSet := facts["public_insurance"] == true || facts["public_insurance"] == false
	private, _ := facts["private_insurance"].(bool)
	privateSet := facts["private_insurance"] == true || facts["private_insurance"] == false

	derived := "unknown"
	if publicSet && privateSet {
		if public && !private {
			derived = "gkv"
		} else if !public && private {
			derived = "pkv"
		}
	}

	if _, known := childInsuranceValues[current]; !known || current == "unknown" {
		facts["child_insurance_kind"] = derived
	}
}
