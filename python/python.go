// Package python drives a Python interpreter as a subprocess. It imports
// modules on behalf of the probe package and runs the smoke check snippets.
package python

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/JakeTRogers/pyCheck/logger"
	"github.com/JakeTRogers/pyCheck/probe"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
)

const (
	// DefaultPath is the interpreter used when none is configured.
	DefaultPath = "python3"
	// DefaultTimeout bounds a single interpreter invocation.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxOutput caps the bytes captured from each output stream.
	DefaultMaxOutput = units.MiB

	// resultMarker prefixes the line carrying a helper script's JSON answer,
	// so anything a module prints while importing is skipped.
	resultMarker = "__pycheck__:"
)

//go:embed scripts/*.py
var scripts embed.FS

var (
	l = logger.GetLogger()

	moduleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Info describes the interpreter itself.
type Info struct {
	Version     string `json:"version"`
	Executable  string `json:"executable"`
	PathEntries int    `json:"path_entries"`
}

// Interpreter runs snippets with a Python executable. The zero value is not
// usable; build one with New.
type Interpreter struct {
	Path      string
	Timeout   time.Duration
	MaxOutput int64
}

// New returns an Interpreter for path with the default timeout and output
// cap. An empty path selects DefaultPath.
func New(path string) *Interpreter {
	if path == "" {
		path = DefaultPath
	}
	return &Interpreter{
		Path:      path,
		Timeout:   DefaultTimeout,
		MaxOutput: DefaultMaxOutput,
	}
}

// loadAnswer is the JSON written by scripts/load.py.
type loadAnswer struct {
	Status     string            `json:"status"`
	Error      string            `json:"error"`
	Attributes map[string]string `json:"attributes"`
}

// Load imports module in a fresh interpreter and reports the first version
// attribute it exposes. A module that cannot be imported yields a
// *probe.ImportError.
func (i *Interpreter) Load(ctx context.Context, module string) (probe.Module, error) {
	if !moduleName.MatchString(module) {
		return probe.Module{}, &probe.ImportError{
			Module: module,
			Reason: fmt.Sprintf("invalid module name %q", module),
		}
	}

	script, err := scripts.ReadFile("scripts/load.py")
	if err != nil {
		return probe.Module{}, errors.Wrap(err, "read load script")
	}

	args := append([]string{resultMarker, module}, probe.VersionAttributes...)
	stdout, err := i.Exec(ctx, string(script), args...)
	if err != nil {
		return probe.Module{}, err
	}

	var answer loadAnswer
	if err := decodeAnswer(stdout, &answer); err != nil {
		return probe.Module{}, err
	}

	switch answer.Status {
	case "ok":
		return probe.Module{Name: module, Attributes: answer.Attributes}, nil
	case "import_error":
		return probe.Module{}, &probe.ImportError{Module: module, Reason: answer.Error}
	case "error":
		return probe.Module{}, errors.New(answer.Error)
	default:
		return probe.Module{}, errors.Errorf("unexpected load status %q", answer.Status)
	}
}

// Info queries the interpreter version, executable and module search path.
func (i *Interpreter) Info(ctx context.Context) (Info, error) {
	script, err := scripts.ReadFile("scripts/info.py")
	if err != nil {
		return Info{}, errors.Wrap(err, "read info script")
	}

	stdout, err := i.Exec(ctx, string(script), resultMarker)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := decodeAnswer(stdout, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Exec runs script with "-c" and returns its trimmed stdout. A non-zero exit
// is an error carrying the last line the script wrote to stderr.
func (i *Interpreter) Exec(ctx context.Context, script string, args ...string) (string, error) {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxOutput := i.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	cmd := exec.CommandContext(execCtx, i.Path, append([]string{"-c", script}, args...)...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, max: maxOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, max: maxOutput}

	start := time.Now()
	err := cmd.Run()
	l.Trace().
		Str("interpreter", i.Path).
		Strs("args", args).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("interpreter finished")

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", errors.Errorf("%s timed out after %s", i.Path, timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			reason := lastLine(stderr.String())
			if reason == "" {
				reason = "no error output"
			}
			return "", errors.Errorf("%s exited with code %d: %s", i.Path, exitErr.ExitCode(), reason)
		}
		return "", errors.Wrapf(err, "run %s", i.Path)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// decodeAnswer finds the last marker line in stdout and decodes its JSON
// payload into v.
func decodeAnswer(stdout string, v any) error {
	payload := ""
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, resultMarker) {
			payload = strings.TrimPrefix(line, resultMarker)
		}
	}
	if payload == "" {
		return errors.New("interpreter produced no result")
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return errors.Wrap(err, "decode interpreter result")
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// limitedWriter passes through at most max bytes and silently drops the
// rest, so a chatty subprocess cannot exhaust memory.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.discarded += int64(n)
		return n, nil
	}
	if int64(n) > remaining {
		lw.discarded += int64(n) - remaining
		p = p[:remaining]
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	if err != nil {
		return written, err
	}
	return n, nil
}
