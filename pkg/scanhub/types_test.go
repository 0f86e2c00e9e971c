package scanhub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

func TestStringToSeverity(t *testing.T) {
	testCases := []struct {
		name string

		given string

		expected    scanhub.Severity
		expectError bool
	}{
		{name: "Should parse CRITICAL", given: "CRITICAL", expected: scanhub.SeverityCritical},
		{name: "Should parse mixed case", given: "High", expected: scanhub.SeverityHigh},
		{name: "Should trim whitespace", given: "  medium ", expected: scanhub.SeverityMedium},
		{name: "Should reject an unknown name", given: "BLOCKER", expectError: true},
		{name: "Should reject an empty name", given: "", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			severity, err := scanhub.StringToSeverity(tc.given)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, severity)
		})
	}
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, scanhub.SeverityLow, scanhub.NormalizeSeverity("low"))
	assert.Equal(t, scanhub.SeverityInfo, scanhub.NormalizeSeverity("WHATEVER"))
	assert.Equal(t, scanhub.SeverityInfo, scanhub.NormalizeSeverity(""))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, scanhub.SeverityCritical.Rank(), scanhub.SeverityHigh.Rank())
	assert.Greater(t, scanhub.SeverityHigh.Rank(), scanhub.SeverityMedium.Rank())
	assert.Greater(t, scanhub.SeverityMedium.Rank(), scanhub.SeverityLow.Rank())
	assert.Greater(t, scanhub.SeverityLow.Rank(), scanhub.SeverityInfo.Rank())
}

func TestStringToCategory(t *testing.T) {
	t.Run("Should parse every canonical category", func(t *testing.T) {
		for _, category := range scanhub.CanonicalCategories() {
			parsed, err := scanhub.StringToCategory(string(category))
			require.NoError(t, err)
			assert.Equal(t, category, parsed)
		}
	})

	t.Run("Should reject an unknown token", func(t *testing.T) {
		_, err := scanhub.StringToCategory("quantumAnalysis")
		assert.EqualError(t, err, "unrecognized scanner category: quantumAnalysis")
	})
}

func TestSeveritySummaryTotal(t *testing.T) {
	summary := scanhub.SeveritySummary{
		CriticalCount: 1,
		HighCount:     2,
		MediumCount:   3,
		LowCount:      4,
		InfoCount:     5,
	}
	assert.Equal(t, 15, summary.Total())
}
