// Package smoke runs small functional checks that use a library beyond
// importing it.
package smoke

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JakeTRogers/pyCheck/logger"
	"github.com/pkg/errors"
)

var l = logger.GetLogger()

// Runner executes a Python snippet and returns its stdout.
type Runner interface {
	Exec(ctx context.Context, script string, args ...string) (string, error)
}

// Check is one functional test. Format turns the snippet's stdout into the
// success message; a nil Format uses Name as the message.
type Check struct {
	Name    string
	Script  string
	Format  func(output string) (string, error)
	Failure string
}

// Outcome is the result of running a Check.
type Outcome struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// DefaultChecks exercise NumPy, Requests, Matplotlib and Pandas.
var DefaultChecks = []Check{
	{
		Name:   "NumPy",
		Script: "import numpy as np\nprint(np.array([1, 2, 3, 4, 5]).mean())",
		Format: func(output string) (string, error) {
			mean, err := strconv.ParseFloat(output, 64)
			if err != nil {
				return "", errors.Wrap(err, "parse mean")
			}
			return fmt.Sprintf("NumPy array creation: %.1f (mean of [1,2,3,4,5])", mean), nil
		},
		Failure: "NumPy test failed",
	},
	{
		Name:    "Requests",
		Script:  "import requests",
		Format:  constant("Requests module ready for HTTP calls"),
		Failure: "Requests test failed",
	},
	{
		Name:    "Matplotlib",
		Script:  "import matplotlib",
		Format:  constant("Matplotlib ready for plotting"),
		Failure: "Matplotlib test failed",
	},
	{
		Name:   "Pandas",
		Script: "import pandas as pd\ndf = pd.DataFrame({'test': [1, 2, 3]})\nprint(len(df))",
		Format: func(output string) (string, error) {
			rows, err := strconv.Atoi(output)
			if err != nil {
				return "", errors.Wrap(err, "parse row count")
			}
			return fmt.Sprintf("Pandas DataFrame creation: %d rows", rows), nil
		},
		Failure: "Pandas test failed",
	},
}

func constant(msg string) func(string) (string, error) {
	return func(string) (string, error) {
		return msg, nil
	}
}

// Run executes c. Any error, unparsable output or panic yields a failed
// Outcome carrying c's failure message.
func Run(ctx context.Context, r Runner, c Check) (out Outcome) {
	failed := Outcome{Name: c.Name, Passed: false, Message: c.Failure}
	if failed.Message == "" {
		failed.Message = c.Name + " test failed"
	}

	defer func() {
		if rec := recover(); rec != nil {
			l.Warn().Str("check", c.Name).Interface("panic", rec).Msg("smoke check panicked")
			out = failed
		}
	}()

	output, err := r.Exec(ctx, c.Script)
	if err != nil {
		l.Info().Str("check", c.Name).Err(err).Msg("smoke check failed")
		return failed
	}

	msg := c.Name
	if c.Format != nil {
		msg, err = c.Format(output)
		if err != nil {
			l.Info().Str("check", c.Name).Str("output", output).Err(err).Msg("smoke check output rejected")
			return failed
		}
	}

	return Outcome{Name: c.Name, Passed: true, Message: msg}
}

// RunAll runs every check in order. Checks are independent of each other.
func RunAll(ctx context.Context, r Runner, checks []Check) []Outcome {
	outcomes := make([]Outcome, 0, len(checks))
	for _, c := range checks {
		outcomes = append(outcomes, Run(ctx, r, c))
	}
	return outcomes
}
