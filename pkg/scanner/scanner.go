// Package scanner runs external scanning engines behind a uniform adapter
// contract with failure isolation.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	goversion "github.com/hashicorp/go-version"

	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

// Adapter is the single capability every scanner category is polymorphic
// over. Execute produces exactly one AdapterResult and never propagates an
// error or panic past its own boundary: any internal fault is recorded as
// Outcome Failure, unmet preconditions as Outcome Skipped.
type Adapter interface {
	Category() scanhub.Category
	// Timeout is the adapter's own execution bound. Zero means the
	// coordinator's default applies.
	Timeout() time.Duration
	Execute(ctx context.Context, request scanhub.ScanRequest) scanhub.AdapterResult
}

// CommandRunner abstracts subprocess execution so adapters can be tested
// without the external engines installed.
type CommandRunner interface {
	Output(ctx context.Context, command string, args ...string) ([]byte, error)
}

// NewExecCommandRunner constructs a CommandRunner backed by os/exec.
func NewExecCommandRunner() CommandRunner {
	return &execCommandRunner{}
}

type execCommandRunner struct {
}

func (r *execCommandRunner) Output(ctx context.Context, command string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s: %w: %s", command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// NewAdapters constructs one engine adapter per category defined in the
// catalog.
func NewAdapters(log logr.Logger, catalog Catalog, cmd CommandRunner, clock ext.Clock) map[scanhub.Category]Adapter {
	converter := NewConverter()
	adapters := make(map[scanhub.Category]Adapter)
	for _, category := range scanhub.CanonicalCategories() {
		engine, err := catalog.EngineFor(category)
		if err != nil {
			continue
		}
		adapters[category] = NewEngineAdapter(log, category, engine, converter, cmd, clock)
	}
	return adapters
}

// NewEngineAdapter constructs an Adapter that shells out to the configured
// external engine and normalizes its JSON report.
func NewEngineAdapter(log logr.Logger, category scanhub.Category, engine Engine, converter Converter, cmd CommandRunner, clock ext.Clock) Adapter {
	return &engineAdapter{
		log:       log.WithValues("category", category, "tool", engine.Tool),
		category:  category,
		engine:    engine,
		converter: converter,
		cmd:       cmd,
		clock:     clock,
	}
}

type engineAdapter struct {
	log       logr.Logger
	category  scanhub.Category
	engine    Engine
	converter Converter
	cmd       CommandRunner
	clock     ext.Clock
}

func (a *engineAdapter) Category() scanhub.Category {
	return a.category
}

func (a *engineAdapter) Timeout() time.Duration {
	return a.engine.Timeout
}

func (a *engineAdapter) Execute(ctx context.Context, request scanhub.ScanRequest) (result scanhub.AdapterResult) {
	started := a.clock.Now()
	result = scanhub.AdapterResult{
		Category: a.category,
	}
	defer func() {
		result.DurationMs = a.clock.Now().Sub(started).Milliseconds()
		if r := recover(); r != nil {
			a.log.Info("Recovered from adapter panic", "panic", r)
			result = scanhub.AdapterResult{
				Category:    a.category,
				Outcome:     scanhub.OutcomeFailure,
				ErrorDetail: fmt.Sprintf("adapter panicked: %v", r),
				DurationMs:  a.clock.Now().Sub(started).Milliseconds(),
			}
		}
	}()

	args, skipReason, err := a.argsFor(request)
	if skipReason != "" {
		result.Outcome = scanhub.OutcomeSkipped
		result.ErrorDetail = skipReason
		return result
	}
	if err != nil {
		result.Outcome = scanhub.OutcomeFailure
		result.ErrorDetail = err.Error()
		return result
	}

	if err := a.checkEngineVersion(ctx); err != nil {
		result.Outcome = scanhub.OutcomeFailure
		result.ErrorDetail = err.Error()
		return result
	}

	output, err := a.cmd.Output(ctx, a.engine.Command, args...)
	if err != nil {
		result.Outcome = scanhub.OutcomeFailure
		result.ErrorDetail = err.Error()
		return result
	}

	reader := ext.NewJSONReader(io.NopCloser(bytes.NewReader(output)))
	findings, err := a.converter.Convert(a.category, a.engine.Tool, reader)
	if err != nil {
		result.Outcome = scanhub.OutcomeFailure
		result.ErrorDetail = err.Error()
		return result
	}

	result.Outcome = scanhub.OutcomeSuccess
	result.Findings = findings
	return result
}

// argsFor resolves the engine command line for the given request. A non-empty
// skip reason marks an unmet precondition, which is distinct from a failure.
func (a *engineAdapter) argsFor(request scanhub.ScanRequest) (args []string, skipReason string, err error) {
	args = append(args, a.engine.Args...)

	switch a.category {
	case scanhub.CategoryDynamicAnalysis:
		if request.TargetEndpoint == "" {
			return nil, "no target endpoint supplied for dynamic analysis", nil
		}
		args = append(args, "-t", request.TargetEndpoint)
	case scanhub.CategoryContainerImage:
		imageRef := containerImageRef(request)
		if _, err := name.ParseReference(imageRef); err != nil {
			return nil, fmt.Sprintf("not a scannable image reference: %s: %v", imageRef, err), nil
		}
		args = append(args, imageRef)
	}
	return args, "", nil
}

func containerImageRef(request scanhub.ScanRequest) string {
	if request.CommitSHA != "" {
		return fmt.Sprintf("%s:%s", request.RepositoryID, request.CommitSHA)
	}
	return request.RepositoryID
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// checkEngineVersion gates execution on the engine's minimum supported
// version, when one is configured in the catalog.
func (a *engineAdapter) checkEngineVersion(ctx context.Context) error {
	if a.engine.MinVersion == "" {
		return nil
	}
	versionArgs := a.engine.VersionArgs
	if len(versionArgs) == 0 {
		versionArgs = []string{"--version"}
	}
	versionCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	output, err := a.cmd.Output(versionCtx, a.engine.Command, versionArgs...)
	if err != nil {
		return fmt.Errorf("checking %s version: %w", a.engine.Tool, err)
	}
	raw := versionPattern.FindString(string(output))
	if raw == "" {
		return fmt.Errorf("checking %s version: no version in output", a.engine.Tool)
	}
	current, err := goversion.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("checking %s version: %w", a.engine.Tool, err)
	}
	minimum, err := goversion.NewVersion(a.engine.MinVersion)
	if err != nil {
		return fmt.Errorf("parsing minimum %s version: %w", a.engine.Tool, err)
	}
	if current.LessThan(minimum) {
		return fmt.Errorf("%s version %s is older than required %s", a.engine.Tool, current, minimum)
	}
	return nil
}
