package scanner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

// Engine describes the external scanning tool behind one category. The tool
// is an opaque collaborator invoked as a subprocess; its only obligation is
// to print a findings report on stdout.
type Engine struct {
	Tool        string        `yaml:"tool"`
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	VersionArgs []string      `yaml:"versionArgs"`
	MinVersion  string        `yaml:"minVersion"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Catalog maps scanner categories to their engine definitions.
type Catalog struct {
	Engines map[scanhub.Category]Engine `yaml:"engines"`
}

const defaultCatalogYAML = `engines:
  secrets:
    tool: gitleaks
    command: gitleaks
    args: ["detect", "--no-banner", "--report-format", "json", "--report-path", "/dev/stdout"]
    minVersion: "8.0.0"
  staticAnalysis:
    tool: semgrep
    command: semgrep
    args: ["scan", "--config", "auto", "--json", "--quiet"]
  dependencyVulnerabilities:
    tool: trivy
    command: trivy
    args: ["fs", "--scanners", "vuln", "--format", "json", "."]
    minVersion: "0.30.0"
  containerImage:
    tool: trivy
    command: trivy
    args: ["image", "--format", "json"]
    minVersion: "0.30.0"
  infrastructureAsCode:
    tool: checkov
    command: checkov
    args: ["--directory", ".", "--output", "json", "--quiet"]
  dynamicAnalysis:
    tool: zap
    command: zap-baseline
    args: ["-J", "/dev/stdout"]
  licenseCompliance:
    tool: licensee
    command: licensee
    args: ["detect", "--json"]
  financialCompliance:
    tool: finpattern
    command: finpattern
    args: ["scan", "--json", "."]
`

// DefaultCatalog returns the built-in engine catalog covering every scanner
// category.
func DefaultCatalog() Catalog {
	var catalog Catalog
	// The embedded literal is part of the build; a decode failure here is a
	// programming error.
	if err := yaml.Unmarshal([]byte(defaultCatalogYAML), &catalog); err != nil {
		panic(err)
	}
	return catalog
}

// LoadCatalog reads an engine catalog from the given YAML file. Categories
// absent from the file fall back to the built-in defaults.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading engine catalog: %w", err)
	}
	var overrides Catalog
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Catalog{}, fmt.Errorf("parsing engine catalog: %w", err)
	}
	catalog := DefaultCatalog()
	for category, engine := range overrides.Engines {
		if _, err := scanhub.StringToCategory(string(category)); err != nil {
			return Catalog{}, err
		}
		catalog.Engines[category] = engine
	}
	return catalog, nil
}

// EngineFor returns the engine definition for the given category.
func (c Catalog) EngineFor(category scanhub.Category) (Engine, error) {
	engine, ok := c.Engines[category]
	if !ok {
		return Engine{}, fmt.Errorf("no engine defined for category: %s", category)
	}
	return engine, nil
}
