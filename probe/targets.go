package probe

import (
	"strings"

	"github.com/pkg/errors"
)

// DefaultTargets is the package list checked when none is configured.
var DefaultTargets = []Target{
	{Name: "NumPy", Module: "numpy"},
	{Name: "Matplotlib", Module: "matplotlib"},
	{Name: "Pandas", Module: "pandas"},
	{Name: "SciPy", Module: "scipy"},

	{Name: "Requests", Module: "requests"},
	{Name: "Black", Module: "black"},
	{Name: "Flake8", Module: "flake8"},
	{Name: "Pytest", Module: "pytest"},
	{Name: "Sphinx", Module: "sphinx"},

	{Name: "Pip", Module: "pip"},
	{Name: "Setuptools", Module: "setuptools"},
	{Name: "Wheel", Module: "wheel"},
	{Name: "Virtualenv", Module: "virtualenv"},

	{Name: "AWS CLI", Module: "awscli"},
	{Name: "YQ", Module: "yq"},
	{Name: "HTTPie", Module: "httpie"},
	{Name: "Jupyter", Module: "jupyter"},
	{Name: "LLDB", Module: "lldb"},
	{Name: "Meson", Module: "mesonbuild"},

	{Name: "JSON", Module: "json"},
	{Name: "OS", Module: "os"},
	{Name: "Sys", Module: "sys"},
	{Name: "Math", Module: "math"},
	{Name: "Random", Module: "random"},
}

// ParseTarget parses "Display=module". A bare "Display" imports the
// lower-cased display name.
func ParseTarget(s string) (Target, error) {
	name, module, found := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	module = strings.TrimSpace(module)

	if name == "" {
		return Target{}, errors.Errorf("invalid package %q: empty display name", s)
	}
	if !found {
		module = strings.ToLower(name)
	}
	if module == "" {
		return Target{}, errors.Errorf("invalid package %q: empty module name", s)
	}

	return Target{Name: name, Module: module}, nil
}

// ParseTargets parses each entry with ParseTarget, stopping at the first
// invalid one.
func ParseTargets(entries []string) ([]Target, error) {
	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		t, err := ParseTarget(e)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}
