package scanner_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanhub/scanhub/pkg/scanhub"
	"github.com/scanhub/scanhub/pkg/scanner"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := scanner.DefaultCatalog()

	t.Run("Should define an engine for every category", func(t *testing.T) {
		for _, category := range scanhub.CanonicalCategories() {
			engine, err := catalog.EngineFor(category)
			require.NoError(t, err, string(category))
			assert.NotEmpty(t, engine.Tool, string(category))
			assert.NotEmpty(t, engine.Command, string(category))
		}
	})
}

func TestLoadCatalog(t *testing.T) {
	t.Run("Should merge overrides onto the defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`engines:
  secrets:
    tool: trufflehog
    command: trufflehog
    args: ["filesystem", "--json", "."]
    timeout: 90s
`), 0o600))

		catalog, err := scanner.LoadCatalog(path)
		require.NoError(t, err)

		secrets, err := catalog.EngineFor(scanhub.CategorySecrets)
		require.NoError(t, err)
		assert.Equal(t, "trufflehog", secrets.Tool)
		assert.Equal(t, 90*time.Second, secrets.Timeout)

		static, err := catalog.EngineFor(scanhub.CategoryStaticAnalysis)
		require.NoError(t, err)
		assert.Equal(t, "semgrep", static.Tool)
	})

	t.Run("Should reject an unknown category", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`engines:
  quantumAnalysis:
    tool: qscan
    command: qscan
`), 0o600))

		_, err := scanner.LoadCatalog(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized scanner category")
	})

	t.Run("Should return an error for a missing file", func(t *testing.T) {
		_, err := scanner.LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestEngineFor(t *testing.T) {
	t.Run("Should return an error for a category without an engine", func(t *testing.T) {
		catalog := scanner.Catalog{Engines: map[scanhub.Category]scanner.Engine{}}
		_, err := catalog.EngineFor(scanhub.CategorySecrets)
		assert.EqualError(t, err, "no engine defined for category: secrets")
	})
}
