// Package probe attempts to load modules through a Loader and classifies the
// outcome of each attempt.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeTRogers/pyCheck/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// UnknownVersion is reported when a loaded module exposes none of the
// VersionAttributes.
const UnknownVersion = "Unknown"

// VersionAttributes lists the attributes inspected for a version, highest
// priority first.
var VersionAttributes = []string{"__version__", "version", "VERSION"}

var l = logger.GetLogger()

// Target names a module to probe.
type Target struct {
	Name   string `json:"name"`
	Module string `json:"module"`
}

// Result is the outcome of probing one Target. Detail holds the version on
// success and the failure reason otherwise.
type Result struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// Module is what a Loader returns for a module it imported. Attributes maps
// version attribute names to their string values.
type Module struct {
	Name       string
	Attributes map[string]string
}

// Loader imports a module by name.
//
// Load returns an *ImportError when the module cannot be imported; any other
// error is treated as an unexpected failure.
type Loader interface {
	Load(ctx context.Context, module string) (Module, error)
}

// ImportError reports a module that could not be imported.
type ImportError struct {
	Module string
	Reason string
}

func (e *ImportError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("No module named '%s'", e.Module)
	}
	return e.Reason
}

// VersionOf returns the value of the highest priority version attribute
// present on m, or UnknownVersion.
func VersionOf(m Module) string {
	for _, attr := range VersionAttributes {
		if v, ok := m.Attributes[attr]; ok {
			return v
		}
	}
	return UnknownVersion
}

// Probe loads t.Module and classifies the outcome. It never panics and never
// returns a failed Result with an empty Detail.
func Probe(ctx context.Context, loader Loader, t Target) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = failure(t.Name, fmt.Sprintf("Error: %v", r))
		}
		l.Debug().
			Str("name", t.Name).
			Str("module", t.Module).
			Bool("success", res.Success).
			Dur("elapsed", time.Since(start)).
			Msg("probed module")
	}()

	mod, err := loader.Load(ctx, t.Module)
	if err != nil {
		var importErr *ImportError
		if errors.As(err, &importErr) {
			return failure(t.Name, importErr.Error())
		}
		return failure(t.Name, "Error: "+err.Error())
	}

	return Result{Name: t.Name, Success: true, Detail: VersionOf(mod)}
}

func failure(name, detail string) Result {
	if detail == "" {
		detail = "Error: unknown failure"
	}
	return Result{Name: name, Success: false, Detail: detail}
}

// RunAll probes every target and returns the results in target order. With
// jobs <= 1 the probes run one after another; otherwise at most jobs probes
// run at the same time.
func RunAll(ctx context.Context, loader Loader, targets []Target, jobs int) []Result {
	results := make([]Result, len(targets))
	if jobs <= 1 {
		for i, t := range targets {
			results[i] = Probe(ctx, loader, t)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(jobs)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = Probe(ctx, loader, t)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
