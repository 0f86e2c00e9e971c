package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scanhub/scanhub/pkg/plan"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

func TestResolve(t *testing.T) {
	testCases := []struct {
		name string

		request scanhub.ScanRequest

		expected []scanhub.Category
	}{
		{
			name: "Should enable all categories for mode all with an endpoint",
			request: scanhub.ScanRequest{
				Mode:           plan.ModeAll,
				TargetEndpoint: "https://staging.example.com",
			},
			expected: scanhub.CanonicalCategories(),
		},
		{
			name: "Should treat a blank mode as all",
			request: scanhub.ScanRequest{
				Mode:           "",
				TargetEndpoint: "https://staging.example.com",
			},
			expected: scanhub.CanonicalCategories(),
		},
		{
			name: "Should exclude dynamic analysis when no endpoint is supplied",
			request: scanhub.ScanRequest{
				Mode: plan.ModeAll,
			},
			expected: []scanhub.Category{
				scanhub.CategorySecrets,
				scanhub.CategoryStaticAnalysis,
				scanhub.CategoryDependencyVulnerabilities,
				scanhub.CategoryContainerImage,
				scanhub.CategoryInfrastructureAsCode,
				scanhub.CategoryLicenseCompliance,
				scanhub.CategoryFinancialCompliance,
			},
		},
		{
			name: "Should resolve the backend profile",
			request: scanhub.ScanRequest{
				Mode: plan.ModeBackend,
			},
			expected: []scanhub.Category{
				scanhub.CategorySecrets,
				scanhub.CategoryStaticAnalysis,
				scanhub.CategoryDependencyVulnerabilities,
				scanhub.CategoryContainerImage,
				scanhub.CategoryInfrastructureAsCode,
			},
		},
		{
			name: "Should resolve the frontend profile with dynamic analysis when an endpoint is supplied",
			request: scanhub.ScanRequest{
				Mode:           plan.ModeFrontend,
				TargetEndpoint: "https://staging.example.com",
			},
			expected: []scanhub.Category{
				scanhub.CategorySecrets,
				scanhub.CategoryStaticAnalysis,
				scanhub.CategoryDependencyVulnerabilities,
				scanhub.CategoryContainerImage,
				scanhub.CategoryDynamicAnalysis,
			},
		},
		{
			name: "Should resolve an explicit category subset in canonical order",
			request: scanhub.ScanRequest{
				Mode: "licenseCompliance,secrets",
			},
			expected: []scanhub.Category{
				scanhub.CategorySecrets,
				scanhub.CategoryLicenseCompliance,
			},
		},
		{
			name: "Should ignore unknown tokens in an explicit subset",
			request: scanhub.ScanRequest{
				Mode: "secrets,quantumAnalysis",
			},
			expected: []scanhub.Category{
				scanhub.CategorySecrets,
			},
		},
		{
			name: "Should add financial compliance when the compliance profile is enabled",
			request: scanhub.ScanRequest{
				Mode:                     plan.ModeBackend,
				ComplianceProfileEnabled: true,
			},
			expected: []scanhub.Category{
				scanhub.CategorySecrets,
				scanhub.CategoryStaticAnalysis,
				scanhub.CategoryDependencyVulnerabilities,
				scanhub.CategoryContainerImage,
				scanhub.CategoryInfrastructureAsCode,
				scanhub.CategoryFinancialCompliance,
			},
		},
		{
			name: "Should resolve an empty plan when no token is recognized",
			request: scanhub.ScanRequest{
				Mode: "nonsense",
			},
			expected: []scanhub.Category{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, plan.Resolve(tc.request))
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	request := scanhub.ScanRequest{
		Mode:                     "financialCompliance,secrets,staticAnalysis",
		ComplianceProfileEnabled: true,
	}
	first := plan.Resolve(request)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, plan.Resolve(request))
	}
}
