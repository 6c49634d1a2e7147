package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/pkg/constants"
)

// runLocally executes the run script with sh in a temporary directory that
// stands in for the sandbox directory.
func runLocally(t *testing.T, runCommand, stdin string, limit time.Duration) (*execution, time.Duration) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, constants.SandboxStdinFile), []byte(stdin), 0o644); err != nil {
		t.Fatalf("failed to write stdin: %v", err)
	}
	lang := &languages.Language{Profile: languages.Profile{Name: "sh", RunCommand: runCommand}}

	cmd := exec.Command("sh", "-c", runScript(lang, dir, limit))
	start := time.Now()
	stdout, err := cmd.Output()
	elapsed := time.Since(start)

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("failed to run script: %v", err)
	}
	return &execution{exitCode: int64(exitCode), stdout: stdout}, elapsed
}

func TestRunScript_ProgramIgnoringSIGTERMTimesOut(t *testing.T) {
	ran, elapsed := runLocally(t, `sh -c 'trap "" TERM; while :; do :; done'`, "", 200*time.Millisecond)

	if ran.exitCode != constants.ExitCodeTimeout {
		t.Fatalf("expected exit code %d, got %d", constants.ExitCodeTimeout, ran.exitCode)
	}
	if !classify(ran).TimedOut {
		t.Fatalf("expected TimedOut")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("script kept running for %s after the limit", elapsed)
	}
}

func TestRunScript_SleepingProgramTimesOut(t *testing.T) {
	ran, _ := runLocally(t, "sleep 5", "", 200*time.Millisecond)
	if !classify(ran).TimedOut {
		t.Fatalf("expected TimedOut, got exit code %d", ran.exitCode)
	}
}

func TestRunScript_FinishedProgramKeepsItsStatus(t *testing.T) {
	ran, _ := runLocally(t, `sh -c 'read n; echo "got $n"; exit 3'`, "42\n", 5*time.Second)

	if ran.exitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", ran.exitCode)
	}
	if string(ran.stdout) != "got 42\n" {
		t.Fatalf("unexpected stdout %q", ran.stdout)
	}
	res := classify(ran)
	if res.TimedOut || res.RuntimeError == nil {
		t.Fatalf("expected a runtime error, got %+v", res)
	}
}

func TestRunScript_ProgramExitingWith124IsNotATimeout(t *testing.T) {
	ran, _ := runLocally(t, "sh -c 'exit 124'", "", 5*time.Second)
	if classify(ran).TimedOut {
		t.Fatalf("exit status 124 from the program must not count as a timeout")
	}
}
