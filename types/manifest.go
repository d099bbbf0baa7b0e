package types

// Manifest is the on-disk declaration of build steps and tests
type Manifest struct {
	Steps []StepConfig `yaml:"steps,omitempty"`
	Tests []TestConfig `yaml:"tests"`
}

// StepConfig declares a generic build or install prerequisite
type StepConfig struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Deps    []string `yaml:"deps,omitempty"`
}

// TestConfig declares one test binary
type TestConfig struct {
	Name        string   `yaml:"name,omitempty"`
	Binary      string   `yaml:"binary"`
	Tags        []string `yaml:"tags,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	Inputs      []string `yaml:"inputs,omitempty"`
	Outputs     []string `yaml:"outputs,omitempty"`
	InstallDeps []string `yaml:"install_deps,omitempty"`
	BuildDeps   []string `yaml:"build_deps,omitempty"`
	Iterations  *int     `yaml:"iterations,omitempty"`
}

// StepSpec is a resolved build step
type StepSpec struct {
	Name    string
	Command []string
	Deps    []string
	Dir     string // working directory, the manifest directory
}
