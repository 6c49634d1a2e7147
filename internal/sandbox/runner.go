package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/docker"
	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/pkg/constants"
	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/grading"
)

// Runner executes submissions in throwaway Docker containers. Every call
// creates its own container and removes it before returning.
type Runner struct {
	docker    docker.DockerClient
	languages *languages.Registry
	memoryMB  int64
	logger    *zap.SugaredLogger

	ensured sync.Map
}

var _ grading.CombinedRunner = (*Runner)(nil)

func NewRunner(dCli docker.DockerClient, registry *languages.Registry, memoryMB int64) *Runner {
	if memoryMB <= 0 {
		memoryMB = constants.DefaultSandboxMemoryMB
	}
	return &Runner{
		docker:    dCli,
		languages: registry,
		memoryMB:  memoryMB,
		logger:    logger.NewNamedLogger("sandbox"),
	}
}

type execution struct {
	exitCode int64
	stdout   []byte
	stderr   []byte
}

func (r *Runner) Compile(ctx context.Context, req grading.CompileRequest) (*grading.RunResult, error) {
	lang, err := r.languages.Get(req.Language)
	if err != nil {
		return nil, err
	}
	if lang.CheckCommand == "" {
		return &grading.RunResult{}, nil
	}

	script := fmt.Sprintf("cd /%s && { %s; } || exit %d",
		constants.SandboxDir, lang.CheckCommand, constants.ExitCodeSyntaxError)
	exec, err := r.execute(ctx, lang, lang.CheckSource(req.Source), "", script,
		constants.SandboxCompileTimeoutSec*time.Second)
	if err != nil {
		return nil, err
	}

	switch exec.exitCode {
	case constants.ExitCodeSuccess:
		return &grading.RunResult{Stdout: exec.stdout, Stderr: exec.stderr}, nil
	case constants.ExitCodeSyntaxError:
		return &grading.RunResult{Stdout: exec.stdout, Stderr: exec.stderr, SyntaxError: true}, nil
	default:
		return nil, fmt.Errorf("%w: syntax check exited with status %d", pkgerrors.ErrContainerFailed, exec.exitCode)
	}
}

func (r *Runner) Run(ctx context.Context, req grading.RunRequest) (*grading.RunResult, error) {
	lang, err := r.languages.Get(req.Language)
	if err != nil {
		return nil, err
	}
	program, err := lang.Program(req.Source, req.TestCode)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, lang, program, req.Stdin, req.TimeLimit)
}

func (r *Runner) RunCombined(ctx context.Context, req grading.CombinedRunRequest) (*grading.RunResult, error) {
	lang, err := r.languages.Get(req.Language)
	if err != nil {
		return nil, err
	}
	program, err := lang.CombinedProgram(req.Source, req.TestCodes, req.Separator)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, lang, program, "", req.TimeLimit)
}

func (r *Runner) run(
	ctx context.Context,
	lang *languages.Language,
	program, stdin string,
	limit time.Duration,
) (*grading.RunResult, error) {
	script := runScript(lang, "/"+constants.SandboxDir, limit)
	timeout := limit + constants.SandboxTimeLimitGraceMs*time.Millisecond
	exec, err := r.execute(ctx, lang, program, stdin, script, timeout)
	if err != nil {
		return nil, err
	}
	return classify(exec), nil
}

// runScript builds the program if needed, then runs it with the testcase
// stdin next to a watchdog. When the limit expires the watchdog leaves
// SandboxTimeLimitMarker in dir and SIGKILLs the program, and the script
// exits with ExitCodeTimeout. A build failure exits with ExitCodeSyntaxError.
func runScript(lang *languages.Language, dir string, limit time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s || exit 1\n", dir)
	if lang.BuildCommand != "" {
		fmt.Fprintf(&b, "{ %s; } 2> %s || { cat %s >&2; exit %d; }\n",
			lang.BuildCommand,
			constants.SandboxBuildErrFile,
			constants.SandboxBuildErrFile,
			constants.ExitCodeSyntaxError)
	}
	fmt.Fprintf(&b, "rm -f %s\n", constants.SandboxTimeLimitMarker)
	fmt.Fprintf(&b, "%s < %s &\n", lang.RunCommand, constants.SandboxStdinFile)
	b.WriteString("pid=$!\n")
	fmt.Fprintf(&b, "( sleep %.3f; touch %s; kill -9 $pid ) >/dev/null 2>&1 &\n",
		limit.Seconds(), constants.SandboxTimeLimitMarker)
	b.WriteString("watchdog=$!\n")
	b.WriteString("wait $pid\n")
	b.WriteString("status=$?\n")
	b.WriteString("kill $watchdog 2>/dev/null\n")
	fmt.Fprintf(&b, "[ -e %s ] && exit %d\n", constants.SandboxTimeLimitMarker, constants.ExitCodeTimeout)
	b.WriteString("exit $status\n")
	return b.String()
}

func classify(exec *execution) *grading.RunResult {
	res := &grading.RunResult{Stdout: exec.stdout, Stderr: exec.stderr}
	switch exec.exitCode {
	case constants.ExitCodeSuccess:
	case constants.ExitCodeSyntaxError:
		res.SyntaxError = true
	case constants.ExitCodeTimeout:
		res.TimedOut = true
	default:
		msg := strings.TrimRight(string(exec.stderr), "\n")
		if msg == "" {
			msg = fmt.Sprintf("Exited with status %d", exec.exitCode)
			if exec.exitCode == constants.ExitCodeKilled {
				msg = "Program was killed"
			}
		}
		res.RuntimeError = &msg
	}
	return res
}

func (r *Runner) execute(
	ctx context.Context,
	lang *languages.Language,
	program, stdin, script string,
	timeout time.Duration,
) (*execution, error) {
	if err := r.ensureImage(ctx, lang.Image); err != nil {
		return nil, err
	}

	archive, err := packageFiles(lang.FileName, program, stdin)
	if err != nil {
		return nil, err
	}

	name := "coderunner-" + uuid.NewString()
	containerID, err := r.docker.CreateContainer(ctx, buildContainerConfig(lang.Image, script), r.buildHostConfig(), name)
	if err != nil {
		return nil, err
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), constants.ContainerCleanupTimeout*time.Second)
		defer cancel()
		if err := r.docker.ContainerRemove(cleanupCtx, containerID); err != nil {
			r.logger.Warnf("Failed to remove container %s: %s", name, err)
		}
	}()

	if err := r.docker.CopyToContainer(ctx, containerID, "/", archive); err != nil {
		return nil, err
	}
	if err := r.docker.StartContainer(ctx, containerID); err != nil {
		return nil, err
	}

	exitCode, err := r.docker.WaitContainer(ctx, containerID, timeout)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrContainerTimeout) {
			r.logger.Infof("Container %s exceeded %s, killing", name, timeout)
			killCtx, cancel := context.WithTimeout(context.Background(), constants.ContainerCleanupTimeout*time.Second)
			defer cancel()
			if killErr := r.docker.ContainerKill(killCtx, containerID, "SIGKILL"); killErr != nil {
				r.logger.Warnf("Failed to kill container %s: %s", name, killErr)
			}
		}
		return nil, err
	}

	stdout := newCappedBuffer(constants.MaxSandboxOutputBytes)
	stderr := newCappedBuffer(constants.MaxSandboxOutputBytes)
	if err := r.docker.ContainerLogs(ctx, containerID, stdout, stderr); err != nil {
		return nil, err
	}

	return &execution{exitCode: exitCode, stdout: stdout.Bytes(), stderr: stderr.Bytes()}, nil
}

func (r *Runner) ensureImage(ctx context.Context, image string) error {
	if _, ok := r.ensured.Load(image); ok {
		return nil
	}
	if err := r.docker.EnsureImage(ctx, image); err != nil {
		return err
	}
	r.ensured.Store(image, struct{}{})
	return nil
}

func buildContainerConfig(image, script string) *container.Config {
	stopTimeout := 1
	return &container.Config{
		Image:           image,
		Cmd:             []string{"sh", "-c", script},
		User:            constants.SandboxUser,
		NetworkDisabled: true,
		StopTimeout:     &stopTimeout,
		StopSignal:      "SIGKILL",
	}
}

func (r *Runner) buildHostConfig() *container.HostConfig {
	memBytes := r.memoryMB * 1024 * 1024
	pids := int64(constants.SandboxPidsLimit)
	return &container.HostConfig{
		AutoRemove:  false,
		NetworkMode: container.NetworkMode("none"),
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes,
			PidsLimit:  &pids,
			CPUPeriod:  100_000,
			CPUQuota:   100_000,
		},
		SecurityOpt:  []string{"no-new-privileges"},
		CgroupnsMode: container.CgroupnsModePrivate,
		IpcMode:      container.IpcMode("private"),
		CapDrop:      []string{"ALL"},
	}
}
