// Package plan resolves which scanner categories run for a given scan
// request. The resolver is a pure function with no side effects.
package plan

import (
	"strings"

	"github.com/emirpasic/gods/sets/hashset"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

// Composite mode aliases accepted next to explicit category subsets.
const (
	ModeAll      = "all"
	ModeBackend  = "backend"
	ModeFrontend = "frontend"
)

var backendCategories = []scanhub.Category{
	scanhub.CategorySecrets,
	scanhub.CategoryStaticAnalysis,
	scanhub.CategoryDependencyVulnerabilities,
	scanhub.CategoryContainerImage,
	scanhub.CategoryInfrastructureAsCode,
}

var frontendCategories = []scanhub.Category{
	scanhub.CategorySecrets,
	scanhub.CategoryStaticAnalysis,
	scanhub.CategoryDependencyVulnerabilities,
	scanhub.CategoryContainerImage,
	scanhub.CategoryDynamicAnalysis,
}

// Resolve maps the request's mode and options to the set of enabled scanner
// categories, returned in canonical order.
//
// Unknown tokens in an explicit category subset are ignored, never fatal.
// dynamicAnalysis is force-disabled when no target endpoint was supplied.
// financialCompliance is enabled when explicitly named, when the compliance
// profile is enabled, or as part of mode "all".
func Resolve(request scanhub.ScanRequest) []scanhub.Category {
	enabled := hashset.New()

	switch mode := strings.TrimSpace(request.Mode); mode {
	case ModeAll, "":
		for _, category := range scanhub.CanonicalCategories() {
			enabled.Add(category)
		}
	case ModeBackend:
		for _, category := range backendCategories {
			enabled.Add(category)
		}
	case ModeFrontend:
		for _, category := range frontendCategories {
			enabled.Add(category)
		}
	default:
		for _, token := range strings.Split(mode, ",") {
			category, err := scanhub.StringToCategory(token)
			if err != nil {
				continue
			}
			enabled.Add(category)
		}
	}

	if request.ComplianceProfileEnabled {
		enabled.Add(scanhub.CategoryFinancialCompliance)
	}

	// DAST without a target is a no-op, not an error.
	if request.TargetEndpoint == "" {
		enabled.Remove(scanhub.CategoryDynamicAnalysis)
	}

	categories := make([]scanhub.Category, 0, enabled.Size())
	for _, category := range scanhub.CanonicalCategories() {
		if enabled.Contains(category) {
			categories = append(categories, category)
		}
	}
	return categories
}
