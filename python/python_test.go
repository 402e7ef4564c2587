package python

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/JakeTRogers/pyCheck/probe"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// fakeInterpreter writes a /bin/sh script standing in for python and returns
// an Interpreter that runs it.
func fakeInterpreter(t *testing.T, body string) *Interpreter {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping on Windows")
	}

	path := filepath.Join(t.TempDir(), "python")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	return New(path)
}

func Test_New_defaults(t *testing.T) {
	i := New("")
	if i.Path != DefaultPath {
		t.Errorf("expected path %q, got %q", DefaultPath, i.Path)
	}
	if i.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, i.Timeout)
	}
	if i.MaxOutput != DefaultMaxOutput {
		t.Errorf("expected max output %d, got %d", DefaultMaxOutput, i.MaxOutput)
	}
}

func Test_Load(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expected      probe.Module
		expectImport  bool
		errorContains string
	}{
		{
			name: "module with version",
			body: `echo "numpy says hello"
echo '__pycheck__:{"status":"ok","attributes":{"__version__":"1.26.4"}}'`,
			expected: probe.Module{Name: "numpy", Attributes: map[string]string{"__version__": "1.26.4"}},
		},
		{
			name:     "module without version",
			body:     `echo '__pycheck__:{"status":"ok","attributes":{}}'`,
			expected: probe.Module{Name: "numpy", Attributes: map[string]string{}},
		},
		{
			name:          "import error",
			body:          `echo '__pycheck__:{"status":"import_error","error":"No module named '"'"'numpy'"'"'"}'`,
			expectImport:  true,
			errorContains: "No module named 'numpy'",
		},
		{
			name:          "unexpected exception",
			body:          `echo '__pycheck__:{"status":"error","error":"boom"}'`,
			errorContains: "boom",
		},
		{
			name:          "unknown status",
			body:          `echo '__pycheck__:{"status":"weird"}'`,
			errorContains: "unexpected load status",
		},
		{
			name:          "no marker line",
			body:          `echo "nothing useful"`,
			errorContains: "produced no result",
		},
		{
			name:          "garbled payload",
			body:          `echo '__pycheck__:{not json'`,
			errorContains: "decode interpreter result",
		},
		{
			name: "interpreter crash",
			body: `echo "Traceback (most recent call last):" >&2
echo "SystemExit: 3" >&2
exit 3`,
			errorContains: "exited with code 3: SystemExit: 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := fakeInterpreter(t, tt.body)
			got, err := i.Load(context.Background(), "numpy")

			if tt.errorContains != "" {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("expected error to contain %q, got: %v", tt.errorContains, err)
				}
				var importErr *probe.ImportError
				if errors.As(err, &importErr) != tt.expectImport {
					t.Errorf("expected import error %v, got %T", tt.expectImport, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_Load_invalidModuleName(t *testing.T) {
	// The interpreter must not be started for an invalid name.
	i := New(filepath.Join(t.TempDir(), "does-not-exist"))

	for _, name := range []string{"", "has space", "1numpy", ".relative", "numpy.", "a-b", "x;import os"} {
		t.Run(name, func(t *testing.T) {
			_, err := i.Load(context.Background(), name)
			var importErr *probe.ImportError
			if !errors.As(err, &importErr) {
				t.Fatalf("expected *probe.ImportError, got %v", err)
			}
			if !strings.Contains(err.Error(), "invalid module name") {
				t.Errorf("unexpected message: %v", err)
			}
		})
	}
}

func Test_Load_passesModuleAndAttributes(t *testing.T) {
	// $1 is "-c", $2 the script, $3 the marker, then module and attributes.
	i := fakeInterpreter(t, `shift 3
echo "__pycheck__:{\"status\":\"ok\",\"attributes\":{\"__version__\":\"$*\"}}"`)

	got, err := i.Load(context.Background(), "matplotlib.pyplot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "matplotlib.pyplot " + strings.Join(probe.VersionAttributes, " ")
	if got.Attributes["__version__"] != expected {
		t.Errorf("expected args %q, got %q", expected, got.Attributes["__version__"])
	}
}

func Test_Exec(t *testing.T) {
	i := fakeInterpreter(t, `printf '%s\n' "$@"`)

	out, err := i.Exec(context.Background(), "print(1)", "a", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "-c\nprint(1)\na\nb"
	if out != expected {
		t.Errorf("expected %q, got %q", expected, out)
	}
}

func Test_Exec_missingInterpreter(t *testing.T) {
	i := New(filepath.Join(t.TempDir(), "no-python-here"))

	_, err := i.Exec(context.Background(), "print(1)")
	if err == nil {
		t.Fatal("expected error for missing interpreter")
	}
	if !strings.Contains(err.Error(), "no-python-here") {
		t.Errorf("expected error to name the interpreter, got: %v", err)
	}
}

func Test_Exec_timeout(t *testing.T) {
	i := fakeInterpreter(t, `exec sleep 5`)
	i.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := i.Exec(context.Background(), "")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func Test_Exec_outputCapped(t *testing.T) {
	i := fakeInterpreter(t, `printf '0123456789abcdef'`)
	i.MaxOutput = 4

	out, err := i.Exec(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "0123" {
		t.Errorf("expected capped output %q, got %q", "0123", out)
	}
}

func Test_Info(t *testing.T) {
	i := fakeInterpreter(t, `echo '__pycheck__:{"version":"3.12.4 (main)","executable":"/usr/bin/python3","path_entries":7}'`)

	info, err := i.Info(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := Info{Version: "3.12.4 (main)", Executable: "/usr/bin/python3", PathEntries: 7}
	if diff := cmp.Diff(expected, info); diff != "" {
		t.Errorf("Info() mismatch (-want +got):\n%s", diff)
	}
}

func Test_decodeAnswer_lastMarkerWins(t *testing.T) {
	stdout := "__pycheck__:{\"status\":\"error\"}\nnoise\n  __pycheck__:{\"status\":\"ok\"}  \n"

	var answer loadAnswer
	if err := decodeAnswer(stdout, &answer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Status != "ok" {
		t.Errorf("expected status ok, got %q", answer.Status)
	}
}

func Test_lastLine(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"one", "one"},
		{"Traceback\n  File x\nValueError: bad\n\n", "ValueError: bad"},
	}
	for _, tt := range tests {
		if got := lastLine(tt.input); got != tt.expected {
			t.Errorf("lastLine(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func Test_limitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}

	for _, chunk := range []string{"abc", "defg", "hij"} {
		n, err := lw.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != len(chunk) {
			t.Errorf("expected write of %d bytes to report %d, got %d", len(chunk), len(chunk), n)
		}
	}

	if buf.String() != "abcde" {
		t.Errorf("expected %q, got %q", "abcde", buf.String())
	}
	if lw.discarded != 5 {
		t.Errorf("expected 5 discarded bytes, got %d", lw.discarded)
	}
}

// Test_realInterpreter exercises the embedded scripts against a real Python
// when one is installed.
func Test_realInterpreter(t *testing.T) {
	path, err := exec.LookPath(DefaultPath)
	if err != nil {
		t.Skip("python3 not installed")
	}
	i := New(path)
	ctx := context.Background()

	if _, err := i.Load(ctx, "json"); err != nil {
		t.Errorf("expected json to import, got: %v", err)
	}

	_, err = i.Load(ctx, "definitely_not_installed_xyz")
	var importErr *probe.ImportError
	if !errors.As(err, &importErr) {
		t.Fatalf("expected *probe.ImportError, got %v", err)
	}
	if !strings.Contains(importErr.Error(), "definitely_not_installed_xyz") {
		t.Errorf("unexpected import error: %v", importErr)
	}

	info, err := i.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Version == "" || info.PathEntries == 0 {
		t.Errorf("incomplete info: %+v", info)
	}
}
