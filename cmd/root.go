/*
Copyright © 2024 Jake Rogers <code@supportoss.org>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/JakeTRogers/pyCheck/logger"
	"github.com/JakeTRogers/pyCheck/probe"
	"github.com/JakeTRogers/pyCheck/python"
	"github.com/JakeTRogers/pyCheck/report"
	"github.com/JakeTRogers/pyCheck/smoke"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	colorEnabled               bool
	jsonOutput                 bool
	skipSmoke                  bool
	interpreterPath            string
	jobs                       int
	timeout                    time.Duration
	maxOutput                  string
	packages                   []string
	v                          = viper.New()
	l                          = logger.GetLogger()
	replaceHyphenWithCamelCase = false
)

// interpreter is what a run needs from python.Interpreter.
type interpreter interface {
	probe.Loader
	smoke.Runner
	Info(ctx context.Context) (python.Info, error)
}

// getConfigPath returns the directory holding .pyCheck.yaml.
func getConfigPath() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

// initializeConfig reads the config file when one exists and binds the command
// flags to it and to PYCHECK_* environment variables. A missing config file is
// not an error and is never created.
func initializeConfig(cmd *cobra.Command) error {
	verboseCount, _ := cmd.Flags().GetCount("verbose")
	logger.SetLogLevel(verboseCount)

	configPath := getConfigPath()
	l.Debug().Str("configPath", configPath).Send()
	v.SetConfigName(".pyCheck")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			l.Debug().Msg("no config file found, using defaults")
		} else {
			// Config file was found but another error was produced
			l.Error().Str("viper", err.Error()).Send()
		}
	} else {
		l.Info().Str("configFile", v.ConfigFileUsed()).Msg("Using config file:")
	}

	// --max-output binds to PYCHECK_MAX_OUTPUT
	v.SetEnvPrefix("PYCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bindFlags(cmd, v)

	return nil
}

// bindFlags applies config and environment values to every flag the user did
// not set explicitly. List values are added one element at a time.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		configName := f.Name
		if replaceHyphenWithCamelCase {
			configName = strings.ReplaceAll(f.Name, "-", "")
		}

		l.Trace().Str("flag", f.Name).Str("configName", configName).Msg("Binding flag to viper config:")
		if !f.Changed && v.IsSet(configName) {
			val := v.Get(configName)
			if arr, ok := val.([]interface{}); ok {
				for _, v := range arr {
					if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v)); err != nil {
						l.Error().Str("viper", err.Error()).Send()
					}
				}
			} else {
				if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
					l.Error().Str("viper", err.Error()).Send()
				}
			}
		}
	})
}

// resolveTargets parses --package values, falling back to the default list.
func resolveTargets(entries []string) ([]probe.Target, error) {
	if len(entries) == 0 {
		return probe.DefaultTargets, nil
	}
	return probe.ParseTargets(entries)
}

// parseMaxOutput converts a size such as "1MiB" or "512k" to bytes.
func parseMaxOutput(size string) (int64, error) {
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid --max-output %q", size)
	}
	if n <= 0 {
		return 0, errors.Errorf("invalid --max-output %q: must be positive", size)
	}
	return n, nil
}

// buildReport probes every target, queries the interpreter and runs the smoke
// checks. Nothing in here fails the run.
func buildReport(ctx context.Context, name string, interp interpreter, targets []probe.Target, jobs int, runSmoke bool) report.Report {
	start := time.Now()
	l.Info().Str("interpreter", name).Int("targets", len(targets)).Int("jobs", jobs).Msg("Probing packages")

	r := report.Report{
		Interpreter: name,
		Results:     probe.RunAll(ctx, interp, targets, jobs),
	}

	for _, res := range r.Results {
		if !res.Success {
			l.Warn().Str("package", res.Name).Str("reason", res.Detail).Msg("Import failed")
		}
	}

	info, err := interp.Info(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("Interpreter info unavailable")
		r.PythonError = err.Error()
	} else {
		r.Python = &info
	}

	if runSmoke {
		r.Checks = smoke.RunAll(ctx, interp, smoke.DefaultChecks)
	}

	r.Elapsed = time.Since(start)
	summary := report.Summarize(r.Results)
	l.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Str("rate", report.FormatRate(summary.Rate)).
		Dur("elapsed", r.Elapsed).
		Msg("Probe run complete")

	return r
}

// runRoot is the root command's RunE. Probe failures never produce an error;
// only invalid arguments do.
func runRoot(cmd *cobra.Command, args []string) error {
	targets, err := resolveTargets(packages)
	if err != nil {
		return err
	}
	limit, err := parseMaxOutput(maxOutput)
	if err != nil {
		return err
	}

	interp := python.New(interpreterPath)
	interp.Timeout = timeout
	interp.MaxOutput = limit

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	r := buildReport(ctx, interp.Path, interp, targets, jobs, !skipSmoke)

	if jsonOutput {
		return report.WriteJSON(cmd.OutOrStdout(), r)
	}
	report.Print(cmd.OutOrStdout(), r, report.Options{Color: colorEnabled})
	return nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "pyCheck",
	Version: "v1.0.0",
	Short:   "Check which Python packages an interpreter can import",
	Long: `pyCheck asks a Python interpreter to import a list of packages, reports the version of every package it
could import and the reason for every one it could not, prints a summary with the success rate, and finishes with a
few quick functionality tests (NumPy, Requests, Matplotlib, Pandas).

pyCheck only reads. It installs nothing, resolves nothing and writes no files. It exits 0 whenever it produced a
report, however many packages failed.

Settings can also come from a configuration file, if present, or from PYCHECK_* environment variables:

  - Linux/Mac: $HOME/.config/.pyCheck.yaml
  - Windows: %APPDATA%\.pyCheck.yaml

Examples:

  # Check the default package list with python3 from PATH:
  $ pyCheck

  # Check a different interpreter:
  $ pyCheck --python /run/current-system/sw/bin/python3.12

  # Check only some packages, using "Display=module" when the import name differs:
  $ pyCheck --package NumPy --package "AWS CLI=awscli" --package Meson=mesonbuild

  # Probe four packages at a time and print JSON:
  $ pyCheck --jobs 4 --json`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// bind cobra and viper
		return initializeConfig(cmd)
	},
	RunE: runRoot,
}

// Execute runs the root command. Ctrl-C cancels any running interpreter.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "pyCheck %s\n" .Version}}`)
	rootCmd.Flags().StringVar(&interpreterPath, "python", python.DefaultPath, "``Python interpreter to check, by name on PATH or by path.")
	rootCmd.Flags().StringArrayVarP(&packages, "package", "p", []string{}, "``package to check as Display=module, or just Display to import its lower-cased name. Can be used multiple times; replaces the default list.")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "``number of packages to probe at the same time.")
	rootCmd.Flags().DurationVar(&timeout, "timeout", python.DefaultTimeout, "``time limit for each interpreter invocation.")
	rootCmd.Flags().StringVar(&maxOutput, "max-output", "1MiB", "``maximum output captured from each interpreter invocation, e.g. 64KiB.")
	rootCmd.Flags().BoolVar(&skipSmoke, "no-smoke", false, "skip the quick functionality tests.")
	rootCmd.Flags().BoolVarP(&colorEnabled, "color", "c", false, "enable colorized output.")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON.")
	rootCmd.PersistentFlags().CountP("verbose", "v", "``increase logging verbosity, 1=warn, 2=info, 3=debug, 4=trace")
}
