package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// ReservedNames are graph nodes and aliases owned by the orchestrator
var ReservedNames = []string{"testreport", "run-tests", "build-tests", "all-binaries"}

// Registry holds the tests and build steps declared in a manifest
type Registry struct {
	config Config
	tests  []types.TestSpec
	steps  []types.StepSpec
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log               log.Logger
	ManifestFile      string
	DefaultIterations int
}

// NewRegistry loads and validates the manifest
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ManifestFile == "" {
		return nil, types.NewConfigError("manifest", "manifest file is required")
	}
	if cfg.DefaultIterations < 0 {
		return nil, types.NewConfigError("runs-per-test", "cannot specify a negative number of test runs: %d", cfg.DefaultIterations)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config: cfg,
	}
	if err := r.load(cfg.ManifestFile); err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(tests)", len(r.tests), "len(steps)", len(r.steps))
	return r, nil
}

func (r *Registry) load(manifestPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := loadManifest(manifestPath)
	if err != nil {
		return err
	}
	baseDir, err := filepath.Abs(filepath.Dir(manifestPath))
	if err != nil {
		return fmt.Errorf("failed to resolve manifest dir: %w", err)
	}

	steps, err := r.resolveSteps(manifest.Steps, baseDir)
	if err != nil {
		return err
	}
	tests, err := r.resolveTests(manifest.Tests, baseDir, steps)
	if err != nil {
		return err
	}

	r.steps = steps
	r.tests = tests
	return nil
}

// loadManifest decodes a manifest file, rejecting unknown keys
func loadManifest(manifestPath string) (*types.Manifest, error) {
	log.Debug("Reading manifest file", "path", manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (*types.Manifest, error) {
	var m types.Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.NewConfigError("manifest", "parsing manifest: %w", err)
	}
	return &m, nil
}

func isReserved(name string) bool {
	for _, reserved := range ReservedNames {
		if name == reserved {
			return true
		}
	}
	return strings.HasPrefix(name, "run:") || strings.HasPrefix(name, "run-") || strings.HasPrefix(name, "build-")
}

func (r *Registry) resolveSteps(configs []types.StepConfig, baseDir string) ([]types.StepSpec, error) {
	known := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		switch {
		case cfg.Name == "":
			return nil, types.NewConfigError("manifest", "step without a name")
		case isReserved(cfg.Name):
			return nil, types.NewConfigError("manifest", "step name %q is reserved", cfg.Name)
		case known[cfg.Name]:
			return nil, types.NewConfigError("manifest", "duplicate step %q", cfg.Name)
		case len(cfg.Command) == 0:
			return nil, types.NewConfigError("manifest", "step %q has no command", cfg.Name)
		}
		known[cfg.Name] = true
	}

	steps := make([]types.StepSpec, 0, len(configs))
	for _, cfg := range configs {
		for _, dep := range cfg.Deps {
			if !known[dep] {
				return nil, types.NewConfigError("manifest", "step %q depends on unknown step %q", cfg.Name, dep)
			}
		}
		steps = append(steps, types.StepSpec{
			Name:    cfg.Name,
			Command: append([]string(nil), cfg.Command...),
			Deps:    append([]string(nil), cfg.Deps...),
			Dir:     baseDir,
		})
	}
	return steps, nil
}

func (r *Registry) resolveTests(configs []types.TestConfig, baseDir string, steps []types.StepSpec) ([]types.TestSpec, error) {
	knownSteps := make(map[string]bool, len(steps))
	for _, step := range steps {
		knownSteps[step.Name] = true
	}

	seen := make(map[string]bool, len(configs))
	bases := make(map[string]string, len(configs))
	tests := make([]types.TestSpec, 0, len(configs))
	for i, cfg := range configs {
		if strings.TrimSpace(cfg.Binary) == "" {
			return nil, types.NewConfigError("manifest", "test #%d has no binary", i+1)
		}

		name := cfg.Name
		if name == "" {
			name = path.Clean(filepath.ToSlash(cfg.Binary))
		}
		if seen[name] {
			return nil, types.NewConfigError("manifest", "duplicate test %q", name)
		}
		seen[name] = true

		iterations := r.config.DefaultIterations
		if cfg.Iterations != nil {
			if *cfg.Iterations < 0 {
				return nil, types.NewConfigError("manifest", "test %q: cannot specify a negative number of test runs: %d", name, *cfg.Iterations)
			}
			iterations = *cfg.Iterations
		}

		for _, dep := range append(append([]string(nil), cfg.InstallDeps...), cfg.BuildDeps...) {
			if !knownSteps[dep] {
				return nil, types.NewConfigError("manifest", "test %q depends on unknown step %q", name, dep)
			}
		}

		spec := types.NewTestSpec(name, resolvePath(baseDir, cfg.Binary), cfg.Tags, iterations)
		if other, ok := bases[spec.BaseName()]; ok {
			return nil, types.NewConfigError("manifest", "tests %q and %q share the base name %q", other, name, spec.BaseName())
		}
		bases[spec.BaseName()] = name

		spec.Args = append([]string(nil), cfg.Args...)
		for _, input := range cfg.Inputs {
			spec.InputFiles = append(spec.InputFiles, resolvePath(baseDir, input))
		}
		for _, output := range cfg.Outputs {
			if filepath.IsAbs(output) || strings.HasPrefix(filepath.Clean(output), "..") {
				return nil, types.NewConfigError("manifest", "test %q: output %q must be relative to the run dir", name, output)
			}
			spec.OutputFiles = append(spec.OutputFiles, filepath.Clean(output))
		}
		spec.InstallDeps = append([]string(nil), cfg.InstallDeps...)
		spec.BuildDeps = append([]string(nil), cfg.BuildDeps...)

		tests = append(tests, spec)
	}
	return tests, nil
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

// GetTests returns all declared tests in manifest order
func (r *Registry) GetTests() []types.TestSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tests
}

// GetSteps returns all declared build steps in manifest order
func (r *Registry) GetSteps() []types.StepSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.steps
}

// GetTest looks a test up by name
func (r *Registry) GetTest(name string) (types.TestSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tests {
		if t.Name == name {
			return t, true
		}
	}
	return types.TestSpec{}, false
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}
